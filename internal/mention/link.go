package mention

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Response is the body returned by the mentions API.
type Response struct {
	Links []Link `json:"links"`
	// Skipped holds the decode error of every entry that was dropped.
	Skipped []error `json:"-"`
}

// Link is one raw mention entry as delivered by the API. Raw keeps the complete
// decoded payload so fields this type does not model survive a cache round trip.
type Link struct {
	ID           LinkID         `json:"id"`
	Source       string         `json:"source"`
	Target       string         `json:"target"`
	Verified     bool           `json:"verified"`
	VerifiedDate string         `json:"verified_date"`
	Data         LinkData       `json:"data"`
	Activity     LinkActivity   `json:"activity"`
	Raw          map[string]any `json:"-"`
}

// LinkData is the structured data block of a raw entry.
type LinkData struct {
	URL         string         `json:"url"`
	Name        string         `json:"name"`
	Content     string         `json:"content"`
	Published   string         `json:"published"`
	PublishedTS UnixTime       `json:"published_ts"`
	Author      map[string]any `json:"author"`
}

// LinkActivity is the activity block of a raw entry.
type LinkActivity struct {
	Type         string `json:"type"`
	Sentence     string `json:"sentence"`
	SentenceHTML string `json:"sentence_html"`
}

// LinkID accepts the API id as either a JSON number or string.
type LinkID string

// UnmarshalJSON implements json.Unmarshaler.
func (id *LinkID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")), bytes.Equal(data, []byte("false")):
		*id = ""
	case data[0] == '"':
		s, err := strconv.Unquote(string(data))
		if err != nil {
			return fmt.Errorf("decode link id: %w", err)
		}
		*id = LinkID(s)
	case data[0] == '{', data[0] == '[', bytes.Equal(data, []byte("true")):
		*id = ""
	default:
		*id = LinkID(data)
	}
	return nil
}

// UnixTime is a unix-seconds timestamp that tolerates integers, floats and
// numeric strings. Any other value leaves it unset.
type UnixTime struct {
	Seconds int64
	Valid   bool
}

// UnmarshalJSON implements json.Unmarshaler. It never fails.
func (u *UnixTime) UnmarshalJSON(data []byte) error {
	*u = UnixTime{}
	text := strings.TrimSpace(string(data))
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = strings.TrimSpace(unquoted)
	}
	if sec, err := strconv.ParseInt(text, 10, 64); err == nil {
		*u = UnixTime{Seconds: sec, Valid: true}
		return nil
	}
	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64/2 {
		return nil
	}
	*u = UnixTime{Seconds: int64(f), Valid: true}
	return nil
}

// Time returns the timestamp in UTC when set.
func (u UnixTime) Time() (time.Time, bool) {
	if !u.Valid {
		return time.Time{}, false
	}
	return time.Unix(u.Seconds, 0).UTC(), true
}

// UnmarshalJSON decodes the typed view and the raw payload of every link. An
// entry that cannot be decoded is dropped and its error kept in Skipped.
func (r *Response) UnmarshalJSON(data []byte) error {
	var envelope struct {
		Links []json.RawMessage `json:"links"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	r.Links = make([]Link, 0, len(envelope.Links))
	r.Skipped = nil
	for i, raw := range envelope.Links {
		link, err := DecodeLink(raw)
		if err != nil {
			r.Skipped = append(r.Skipped, fmt.Errorf("decode link %d: %w", i, err))
			continue
		}
		r.Links = append(r.Links, link)
	}
	return nil
}

// DecodeLink decodes one raw API entry.
func DecodeLink(raw []byte) (Link, error) {
	var link Link
	if err := json.Unmarshal(raw, &link); err != nil {
		return Link{}, fmt.Errorf("decode typed link: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return Link{}, fmt.Errorf("decode raw link: %w", err)
	}
	link.Raw, _ = normalizeNumbers(payload).(map[string]any)
	return link, nil
}

// normalizeNumbers replaces json.Number with int64 or float64 so raw payloads
// encode the same way before and after a cache round trip.
func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, val := range t {
			t[k] = normalizeNumbers(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	default:
		return v
	}
}
