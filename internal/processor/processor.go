// Package processor turns raw mentions API responses into deduplicated,
// classified mention records and merges them into a page's existing set.
package processor

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
	"github.com/JakeFAU/webmention-gatherer/internal/metrics"
)

// FallbackStrategy selects how ids are derived for entries the API left unnamed.
type FallbackStrategy string

// Fallback id strategies.
const (
	// FallbackHash derives the id from the mention URL; stable across runs.
	FallbackHash FallbackStrategy = "hash"
	// FallbackTimestamp uses the current unix second. Entries processed within the
	// same second collide and all but the first are dropped as duplicates.
	FallbackTimestamp FallbackStrategy = "timestamp"

	fallbackHashPrefix = "h-"
	fallbackHashLen    = 16
)

// Discard reasons reported to metrics.
const (
	discardDuplicate = "duplicate"
	discardNoHTML    = "no_title_source"
	discardCanceled  = "canceled"
)

// Config controls Processor behavior.
type Config struct {
	FallbackID FallbackStrategy
}

// Processor normalizes raw mention entries. It is not safe for concurrent use.
type Processor struct {
	fetcher  mention.HTMLFetcher
	renderer mention.Renderer
	clock    mention.Clock
	hasher   mention.Hasher
	cfg      Config
	logger   *zap.Logger
}

// New constructs a Processor.
func New(
	fetcher mention.HTMLFetcher,
	renderer mention.Renderer,
	clock mention.Clock,
	hasher mention.Hasher,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FallbackID == "" {
		cfg.FallbackID = FallbackHash
	}
	return &Processor{
		fetcher:  fetcher,
		renderer: renderer,
		clock:    clock,
		hasher:   hasher,
		cfg:      cfg,
		logger:   logger,
	}
}

// Process merges resp into existing and returns the updated set. Entries are
// consumed oldest first (the API delivers newest first); an entry whose id is
// already present is discarded and never overwrites. existing is not modified.
func (p *Processor) Process(ctx context.Context, existing mention.PageSet, resp *mention.Response) mention.PageSet {
	set := existing.Clone()
	if resp == nil {
		return set
	}
	for i := len(resp.Links) - 1; i >= 0; i-- {
		if ctx.Err() != nil {
			metrics.ObserveDiscard(discardCanceled)
			break
		}
		record, ok := p.build(ctx, set, resp.Links[i])
		if !ok {
			continue
		}
		set[record.ID] = record
		metrics.ObserveMentionAdded()
	}
	return set
}

func (p *Processor) build(ctx context.Context, set mention.PageSet, link mention.Link) (mention.Record, bool) {
	uri := resolveURL(link)
	source := classifySource(uri)
	id := p.deriveID(link, uri, source)
	logger := p.logger.With(zap.String("url", uri), zap.String("mention_id", id))

	if _, seen := set[id]; seen {
		logger.Debug("skipping known mention")
		metrics.ObserveDiscard(discardDuplicate)
		return mention.Record{}, false
	}

	record := mention.Record{
		ID:      id,
		URL:     uri,
		Source:  source,
		Pubdate: p.derivePubdate(link),
		Type:    deriveType(link, uri, source),
		Author:  link.Data.Author,
		Raw:     link.Raw,
	}

	if record.Type == mention.TypePost {
		body, err := p.fetcher.FetchHTML(ctx, uri)
		if err != nil || len(body) == 0 {
			logger.Debug("discarding post mention without retrievable source", zap.Error(err))
			metrics.ObserveDiscard(discardNoHTML)
			return mention.Record{}, false
		}
		record.Title = p.markdownify(extractTitle(body))
	}

	content := link.Activity.SentenceHTML
	switch record.Type {
	case mention.TypePost, mention.TypeReply, mention.TypeLink:
		if link.Data.Content != "" {
			content = link.Data.Content
		}
	}
	record.Content = p.markdownify(content)

	logger.Debug("mention added", zap.String("type", string(record.Type)))
	return record, true
}
