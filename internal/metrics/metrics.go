// Package metrics exposes Prometheus collectors for the webmention gatherer.
// The gatherer runs as a batch hook, so collectors are flushed to a node-exporter
// textfile at the end of a run instead of being scraped.
package metrics

import (
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Page outcomes.
const (
	OutcomeProcessed = "processed"
	OutcomeThrottled = "throttled"
)

// HTML fetch results.
const (
	FetchOK    = "ok"
	FetchError = "error"
)

var (
	pagesTotal              *prometheus.CounterVec
	mentionsAddedTotal      prometheus.Counter
	entriesDiscardedTotal   *prometheus.CounterVec
	apiFailuresTotal        *prometheus.CounterVec
	htmlFetchSeconds        *prometheus.HistogramVec
	lastRunDurationSeconds  prometheus.Gauge
	lastSuccessTimestampSec prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_pages_total",
				Help: "Pages considered for lookup, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		mentionsAddedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "webmentions_mentions_added_total",
				Help: "Mentions added to the cache.",
			},
		)

		entriesDiscardedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_entries_discarded_total",
				Help: "Raw API entries that were not added to the cache, labeled by reason.",
			},
			[]string{"reason"},
		)

		apiFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webmentions_api_failures_total",
				Help: "Failed mentions API lookups, labeled by site.",
			},
			[]string{"site"},
		)

		htmlFetchSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webmentions_html_fetch_duration_seconds",
				Help:    "Latency of mention source HTML fetches, labeled by result.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"result"},
		)

		lastRunDurationSeconds = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webmentions_last_run_duration_seconds",
				Help: "Wall time of the most recent gather run.",
			},
		)

		lastSuccessTimestampSec = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webmentions_last_success_timestamp_seconds",
				Help: "Unix time the cache was last persisted successfully.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// ObservePage increments the page counter for the given outcome.
func ObservePage(outcome string) {
	Init()
	pagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveMentionAdded increments the added mentions counter.
func ObserveMentionAdded() {
	Init()
	mentionsAddedTotal.Inc()
}

// ObserveDiscard increments the discarded entries counter.
func ObserveDiscard(reason string) {
	Init()
	entriesDiscardedTotal.WithLabelValues(reason).Inc()
}

// ObserveAPIFailure records a failed lookup for the page at target.
func ObserveAPIFailure(target string) {
	Init()
	apiFailuresTotal.WithLabelValues(SanitizeSite(target)).Inc()
}

// ObserveHTMLFetch records the duration of a source HTML fetch. Mention sources
// are arbitrary third-party hosts, so only the result is used as a label.
func ObserveHTMLFetch(duration time.Duration, err error) {
	Init()
	result := FetchOK
	if err != nil {
		result = FetchError
	}
	htmlFetchSeconds.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveRun records the outcome of a completed run.
func ObserveRun(duration time.Duration, finished time.Time) {
	Init()
	lastRunDurationSeconds.Set(duration.Seconds())
	lastSuccessTimestampSec.Set(float64(finished.Unix()))
}

// WriteTextfile writes every registered collector to path in the text exposition
// format. The write goes to a temporary file that is renamed into place.
func WriteTextfile(path string) error {
	Init()
	if err := prometheus.WriteToTextfile(path, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}
