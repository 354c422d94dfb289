// Package pipeline drives one gathering pass over the site: for every eligible item
// it decides whether to look up new mentions, fetches them, merges them into the
// cache and finally persists the cache once.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/cache"
	"github.com/JakeFAU/webmention-gatherer/internal/mention"
	"github.com/JakeFAU/webmention-gatherer/internal/metrics"
	"github.com/JakeFAU/webmention-gatherer/internal/site"
	"github.com/JakeFAU/webmention-gatherer/internal/target"
)

// OversizedPageSize is sent as perPage so a single request returns every mention
// newer than since_id. Pagination is not implemented.
const OversizedPageSize = 9999

// DefaultEndpoint is the API endpoint queried for each item.
const DefaultEndpoint = "mentions"

// Request parameter names.
const (
	paramTarget  = "target[]"
	paramSinceID = "since_id"
	paramPerPage = "perPage"
)

// Config controls Orchestrator behavior.
type Config struct {
	SiteURL       string
	LegacyDomains []string
	IncludePages  bool
	PauseLookups  bool
	Endpoint      string
	// MetricsTextfile, when set, receives a Prometheus text dump after each run.
	MetricsTextfile string
}

// Merger folds an API response into a page's existing records.
type Merger interface {
	Process(ctx context.Context, existing mention.PageSet, resp *mention.Response) mention.PageSet
}

// Summary describes a finished run. It is also the payload of the run notification.
type Summary struct {
	RunID          string    `json:"run_id"`
	PagesProcessed int       `json:"pages_processed"`
	PagesThrottled int       `json:"pages_throttled"`
	APIFailures    int       `json:"api_failures"`
	MentionsAdded  int       `json:"mentions_added"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	Paused         bool      `json:"paused,omitempty"`
}

// Orchestrator runs the gathering pipeline. It is not safe for concurrent use.
type Orchestrator struct {
	store     cache.Store
	api       mention.APIClient
	merger    Merger
	throttler mention.Throttler
	clock     mention.Clock
	ids       mention.IDGenerator
	publisher mention.Publisher
	cfg       Config
	logger    *zap.Logger
}

// New constructs an Orchestrator. throttler, ids and publisher are optional.
func New(
	store cache.Store,
	api mention.APIClient,
	merger Merger,
	throttler mention.Throttler,
	clock mention.Clock,
	ids mention.IDGenerator,
	publisher mention.Publisher,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if store == nil || api == nil || merger == nil || clock == nil {
		return nil, errors.New("store, api client, merger and clock are required")
	}
	if cfg.SiteURL == "" {
		return nil, errors.New("site url is required")
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		store:     store,
		api:       api,
		merger:    merger,
		throttler: throttler,
		clock:     clock,
		ids:       ids,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Run performs one pass over items. Store load and persist failures are returned;
// API failures only cost the affected item its new mentions. A canceled context
// aborts the run before anything is persisted.
func (o *Orchestrator) Run(ctx context.Context, items []site.Item) (Summary, error) {
	summary := Summary{RunID: o.newRunID(), StartedAt: o.clock.Now()}
	logger := o.logger.With(zap.String("run_id", summary.RunID))

	if o.cfg.PauseLookups {
		logger.Info("webmention lookups are paused")
		summary.Paused = true
		summary.FinishedAt = o.clock.Now()
		return summary, nil
	}

	c, err := cache.Load(ctx, o.store)
	if err != nil {
		return summary, fmt.Errorf("load cache: %w", err)
	}
	logger.Debug("cache loaded", zap.String("location", o.store.Location()), zap.Int("pages", c.Len()))

	for _, item := range items {
		if item.Kind == site.KindPage && !o.cfg.IncludePages {
			continue
		}
		if err := ctx.Err(); err != nil {
			return summary, fmt.Errorf("run aborted: %w", err)
		}
		o.handleItem(ctx, logger, c, item, &summary)
	}
	if err := ctx.Err(); err != nil {
		return summary, fmt.Errorf("run aborted: %w", err)
	}

	if err := c.Persist(ctx); err != nil {
		return summary, fmt.Errorf("persist cache: %w", err)
	}
	summary.FinishedAt = o.clock.Now()
	metrics.ObserveRun(summary.FinishedAt.Sub(summary.StartedAt), summary.FinishedAt)

	o.notify(ctx, logger, summary)
	o.flushMetrics(logger)

	logger.Info("webmentions gathered",
		zap.Int("pages_processed", summary.PagesProcessed),
		zap.Int("pages_throttled", summary.PagesThrottled),
		zap.Int("api_failures", summary.APIFailures),
		zap.Int("mentions_added", summary.MentionsAdded),
	)
	return summary, nil
}

func (o *Orchestrator) handleItem(
	ctx context.Context,
	logger *zap.Logger,
	c *cache.Cache,
	item site.Item,
	summary *Summary,
) {
	last, hasLast := c.LastRecord(item.URL)
	if o.shouldThrottle(item, last, hasLast) {
		logger.Debug("lookup throttled", zap.String("page", item.URL))
		metrics.ObservePage(metrics.OutcomeThrottled)
		summary.PagesThrottled++
		return
	}

	targets := target.Resolve(o.cfg.SiteURL, item.URL, item.RedirectFrom, o.cfg.LegacyDomains)
	params := url.Values{}
	for _, t := range targets {
		params.Add(paramTarget, t)
	}
	if hasLast {
		if sinceID := last.RawID(); sinceID != "" {
			params.Set(paramSinceID, sinceID)
		}
	}
	params.Set(paramPerPage, strconv.Itoa(OversizedPageSize))

	resp, err := o.api.Get(ctx, o.cfg.Endpoint, params)
	if err != nil {
		logger.Warn("mentions lookup failed", zap.String("page", item.URL), zap.Error(err))
		metrics.ObserveAPIFailure(o.cfg.SiteURL)
		summary.APIFailures++
		resp = nil
	}

	existing := c.Page(item.URL)
	merged := o.merger.Process(ctx, existing, resp)
	c.SetPage(item.URL, merged)

	metrics.ObservePage(metrics.OutcomeProcessed)
	summary.PagesProcessed++
	if added := len(merged) - len(existing); added > 0 {
		summary.MentionsAdded += added
		logger.Debug("mentions merged", zap.String("page", item.URL), zap.Int("added", added))
	}
}

func (o *Orchestrator) shouldThrottle(item site.Item, last mention.Record, hasLast bool) bool {
	if o.throttler == nil || item.BypassThrottle || item.Date == nil || !hasLast {
		return false
	}
	return o.throttler.ShouldThrottle(o.clock.Now(), *item.Date, last.VerifiedDate())
}

func (o *Orchestrator) newRunID() string {
	if o.ids == nil {
		return ""
	}
	id, err := o.ids.NewID()
	if err != nil {
		o.logger.Warn("run id generation failed", zap.Error(err))
		return ""
	}
	return id
}

func (o *Orchestrator) notify(ctx context.Context, logger *zap.Logger, summary Summary) {
	if o.publisher == nil {
		return
	}
	msgID, err := o.publisher.Publish(ctx, summary)
	if err != nil {
		logger.Warn("run notification failed", zap.Error(err))
		return
	}
	logger.Debug("run notification published", zap.String("message_id", msgID))
}

func (o *Orchestrator) flushMetrics(logger *zap.Logger) {
	if o.cfg.MetricsTextfile == "" {
		return
	}
	if err := metrics.WriteTextfile(o.cfg.MetricsTextfile); err != nil {
		logger.Warn("metrics textfile write failed", zap.String("path", o.cfg.MetricsTextfile), zap.Error(err))
	}
}
