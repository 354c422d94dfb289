package processor

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
)

func resolveURL(link mention.Link) string {
	if link.Data.URL != "" {
		return link.Data.URL
	}
	return link.Source
}

func classifySource(uri string) mention.Source {
	switch {
	case strings.Contains(uri, "twitter.com/"):
		return mention.SourceTwitter
	case strings.Contains(uri, "/googleplus/"):
		return mention.SourceGooglePlus
	default:
		return mention.SourceGeneric
	}
}

// deriveID returns the status id for tweets (other than favorite permalinks),
// otherwise the API id, otherwise a fallback id.
func (p *Processor) deriveID(link mention.Link, uri string, source mention.Source) string {
	if source == mention.SourceTwitter && !strings.Contains(uri, "#favorited-by") {
		if id := lastPathSegment(uri); id != "" {
			return id
		}
	}
	if id := string(link.ID); id != "" {
		return id
	}
	return p.fallbackID(uri)
}

func lastPathSegment(uri string) string {
	u, err := url.Parse(uri)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.TrimRight(u.Path, "/"), "/")
	return segments[len(segments)-1]
}

func (p *Processor) fallbackID(uri string) string {
	if p.cfg.FallbackID == FallbackHash && p.hasher != nil {
		sum, err := p.hasher.Hash([]byte(uri))
		if err == nil && len(sum) >= fallbackHashLen {
			return fallbackHashPrefix + sum[:fallbackHashLen]
		}
		p.logger.Debug("fallback hash unavailable, using timestamp", zap.String("url", uri), zap.Error(err))
	}
	return strconv.FormatInt(p.clock.Now().Unix(), 10)
}

// derivePubdate prefers data.published_ts, then verified_date. Unparsable dates
// leave the pubdate unset.
func (p *Processor) derivePubdate(link mention.Link) *time.Time {
	if t, ok := link.Data.PublishedTS.Time(); ok {
		return &t
	}
	if link.VerifiedDate == "" {
		return nil
	}
	t, err := mention.ParseTimestamp(link.VerifiedDate)
	if err != nil {
		p.logger.Debug("dropping unparsable verified_date", zap.String("value", link.VerifiedDate), zap.Error(err))
		return nil
	}
	return &t
}

func deriveType(link mention.Link, uri string, source mention.Source) mention.Type {
	if link.Activity.Type != "" {
		return mention.Type(link.Activity.Type)
	}
	if source != mention.SourceGooglePlus {
		return mention.TypePost
	}
	switch {
	case strings.Contains(uri, "/like/"):
		return mention.TypeLike
	case strings.Contains(uri, "/repost/"):
		return mention.TypeRepost
	case strings.Contains(uri, "/comment/"):
		return mention.TypeReply
	default:
		return mention.TypeLink
	}
}
