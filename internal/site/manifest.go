// Package site loads the site manifest: the posts and pages whose mentions are
// gathered, with the metadata the pipeline needs for each.
package site

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
)

// Item kinds.
const (
	KindPost = "post"
	KindPage = "page"
)

// Item is a single post or page.
type Item struct {
	// URL is the site-relative path, e.g. "/2020/05/hello/".
	URL  string     `yaml:"url"`
	Date *time.Time `yaml:"-"`
	// RedirectFrom lists former paths of the item. The manifest accepts a single
	// string or a list.
	RedirectFrom   Aliases `yaml:"redirect_from,omitempty"`
	BypassThrottle bool    `yaml:"bypass_webmention_throttle,omitempty"`
	Kind           string  `yaml:"-"`

	RawDate string `yaml:"date,omitempty"`
}

// Aliases is a list of redirect paths that also decodes from a scalar.
type Aliases []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (a *Aliases) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Tag == "!!null" || node.Value == "" {
			*a = nil
			return nil
		}
		*a = Aliases{node.Value}
		return nil
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*a = list
		return nil
	default:
		return fmt.Errorf("redirect_from: unsupported yaml kind %d", node.Kind)
	}
}

// Manifest lists the site's posts and pages.
type Manifest struct {
	Posts []Item `yaml:"posts"`
	Pages []Item `yaml:"pages"`
}

// Load reads a manifest from path.
func Load(path string) (*Manifest, error) {
	if path == "" {
		return nil, errors.New("manifest path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	return Parse(data)
}

// Parse decodes a manifest document.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if err := finish(m.Posts, KindPost); err != nil {
		return nil, err
	}
	if err := finish(m.Pages, KindPage); err != nil {
		return nil, err
	}
	return &m, nil
}

func finish(items []Item, kind string) error {
	for i := range items {
		it := &items[i]
		if it.URL == "" {
			return fmt.Errorf("%s %d: url is required", kind, i)
		}
		it.Kind = kind
		if it.RawDate == "" {
			continue
		}
		ts, err := mention.ParseTimestamp(it.RawDate)
		if err != nil {
			return fmt.Errorf("%s %s: %w", kind, it.URL, err)
		}
		it.Date = &ts
	}
	return nil
}

// Items returns the posts followed by the pages when includePages is set.
func (m *Manifest) Items(includePages bool) []Item {
	if m == nil {
		return nil
	}
	out := make([]Item, 0, len(m.Posts)+len(m.Pages))
	out = append(out, m.Posts...)
	if includePages {
		out = append(out, m.Pages...)
	}
	return out
}
