package processor

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

var (
	leadingTag  = regexp.MustCompile(`^<[^>]+>`)
	trailingTag = regexp.MustCompile(`</[^>]+>$`)
)

// markdownify renders text and guarantees the result is wrapped in a paragraph.
func (p *Processor) markdownify(text string) string {
	rendered, err := p.renderer.Render(text)
	if err != nil {
		p.logger.Debug("render failed, storing source text", zap.Error(err))
		rendered = text
	}
	rendered = strings.TrimSpace(rendered)
	if !strings.HasPrefix(rendered, "<p") {
		rendered = leadingTag.ReplaceAllString(rendered, "<p>")
		rendered = trailingTag.ReplaceAllString(rendered, "</p>")
	}
	return strings.TrimSpace(rendered)
}
