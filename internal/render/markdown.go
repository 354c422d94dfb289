// Package render converts mention text into HTML with goldmark. Raw HTML in the
// source is passed through because mention content usually arrives as HTML.
package render

import (
	"bytes"
	"fmt"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

// Markdown implements mention.Renderer.
type Markdown struct {
	md goldmark.Markdown
}

// NewMarkdown returns a renderer configured like a typical static-site build:
// GitHub-flavored extensions, typographic quotes and raw HTML passthrough.
func NewMarkdown() *Markdown {
	return &Markdown{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithRendererOptions(html.WithUnsafe()),
		),
	}
}

// Render converts source to HTML.
func (m *Markdown) Render(source string) (string, error) {
	var buf bytes.Buffer
	if err := m.md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return buf.String(), nil
}
