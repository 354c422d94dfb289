// Package cache holds the webmention cache: every known page URL mapped to its
// mention records. A Cache is loaded once at the start of a run, mutated in memory
// and persisted in full once at the end.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
)

// ErrMalformedStore is returned when the backing store cannot be decoded.
var ErrMalformedStore = errors.New("malformed webmention cache")

// Store reads and writes the serialized cache. Get returns an error wrapping
// fs.ErrNotExist when nothing has been stored yet.
type Store interface {
	Get(ctx context.Context) ([]byte, error)
	Put(ctx context.Context, data []byte) error
	Location() string
}

// Cache maps page URL to that page's mention records.
type Cache struct {
	store Store
	pages map[string]mention.PageSet
}

// Load reads and decodes the full cache from store. A store that does not exist yet
// yields an empty cache; any other read or decode failure is returned.
func Load(ctx context.Context, store Store) (*Cache, error) {
	if store == nil {
		return nil, fmt.Errorf("cache store is required")
	}
	c := &Cache{store: store, pages: make(map[string]mention.PageSet)}

	data, err := store.Get(ctx)
	if errors.Is(err, fs.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache %s: %w", store.Location(), err)
	}

	pages, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode cache %s: %w", store.Location(), err)
	}
	for url, set := range pages {
		if set == nil {
			set = mention.PageSet{}
		}
		c.pages[url] = set
	}
	return c, nil
}

// Page returns a copy of the records known for pageURL; empty if none.
func (c *Cache) Page(pageURL string) mention.PageSet {
	return c.pages[pageURL].Clone()
}

// SetPage replaces the records of pageURL.
func (c *Cache) SetPage(pageURL string, set mention.PageSet) {
	if set == nil {
		set = mention.PageSet{}
	}
	c.pages[pageURL] = set
}

// LastRecord returns the record of pageURL whose id sorts last.
func (c *Cache) LastRecord(pageURL string) (mention.Record, bool) {
	return c.pages[pageURL].Last()
}

// Len returns the number of pages in the cache.
func (c *Cache) Len() int {
	return len(c.pages)
}

// Snapshot returns a copy of the whole mapping.
func (c *Cache) Snapshot() map[string]mention.PageSet {
	out := make(map[string]mention.PageSet, len(c.pages))
	for url, set := range c.pages {
		out[url] = set.Clone()
	}
	return out
}

// Persist encodes the whole cache and writes it to the store in one call.
func (c *Cache) Persist(ctx context.Context) error {
	data, err := encode(c.pages)
	if err != nil {
		return fmt.Errorf("encode cache: %w", err)
	}
	if err := c.store.Put(ctx, data); err != nil {
		return fmt.Errorf("write cache %s: %w", c.store.Location(), err)
	}
	return nil
}

func decode(data []byte) (map[string]mention.PageSet, error) {
	var pages map[string]mention.PageSet
	if err := yaml.Unmarshal(data, &pages); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStore, err)
	}
	return pages, nil
}

func encode(pages map[string]mention.PageSet) ([]byte, error) {
	out, err := yaml.Marshal(pages)
	if err != nil {
		return nil, fmt.Errorf("marshal yaml: %w", err)
	}
	return out, nil
}
