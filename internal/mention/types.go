package mention

import (
	"fmt"
	"sort"
	"time"
)

// Source classifies where a mention originated.
type Source string

// Known mention sources.
const (
	SourceTwitter    Source = "twitter"
	SourceGooglePlus Source = "googleplus"
	SourceGeneric    Source = "generic"
)

// Type is the activity type of a mention.
type Type string

// Activity types produced by classification. The API may report others
// (bookmark, rsvp, mention); those are stored as-is.
const (
	TypePost   Type = "post"
	TypeReply  Type = "reply"
	TypeRepost Type = "repost"
	TypeLike   Type = "like"
	TypeLink   Type = "link"
)

// Record is the normalized unit of a single webmention stored in the cache.
type Record struct {
	ID      string         `json:"id" yaml:"id"`
	URL     string         `json:"url" yaml:"url"`
	Source  Source         `json:"source" yaml:"source"`
	Pubdate *time.Time     `json:"pubdate,omitempty" yaml:"pubdate,omitempty"`
	Type    Type           `json:"type" yaml:"type"`
	Title   string         `json:"title,omitempty" yaml:"title,omitempty"`
	Content string         `json:"content" yaml:"content"`
	Author  map[string]any `json:"author,omitempty" yaml:"author,omitempty"`
	Raw     map[string]any `json:"raw" yaml:"raw"`
}

// RawID returns the API-assigned id kept in the raw payload, used as since_id.
func (r Record) RawID() string {
	return rawString(r.Raw, "id")
}

// VerifiedDate returns the raw verified_date string, or "" when absent.
func (r Record) VerifiedDate() string {
	return rawString(r.Raw, "verified_date")
}

func rawString(raw map[string]any, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	default:
		return fmt.Sprint(t)
	}
}

// PageSet maps mention id to record for a single page.
type PageSet map[string]Record

// Clone returns a shallow copy of the set.
func (s PageSet) Clone() PageSet {
	out := make(PageSet, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Last returns the record whose key sorts last.
func (s PageSet) Last() (Record, bool) {
	if len(s) == 0 {
		return Record{}, false
	}
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return s[keys[len(keys)-1]], true
}
