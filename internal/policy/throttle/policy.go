// Package throttle decides when a page lookup can be skipped. Pages are bucketed
// by age and each bucket carries a minimum interval between lookups, measured from
// the verified date of the newest cached mention.
package throttle

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
)

// Age buckets, matched youngest first.
const (
	LastWeek  = "last_week"
	LastMonth = "last_month"
	LastYear  = "last_year"
	Older     = "older"
)

const day = 24 * time.Hour

var namedIntervals = map[string]time.Duration{
	"hourly":  time.Hour,
	"daily":   day,
	"weekly":  7 * day,
	"monthly": 30 * day,
	"yearly":  365 * day,
}

// Policy implements mention.Throttler. The zero value never throttles.
type Policy struct {
	intervals map[string]time.Duration
}

var _ mention.Throttler = (*Policy)(nil)

// New builds a Policy from bucket → interval settings such as
// {"last_week": "daily", "older": "monthly"}. Unknown buckets are rejected.
func New(settings map[string]string) (*Policy, error) {
	intervals := make(map[string]time.Duration, len(settings))
	for bucket, value := range settings {
		switch bucket {
		case LastWeek, LastMonth, LastYear, Older:
		default:
			return nil, fmt.Errorf("unknown throttle bucket %q", bucket)
		}
		if strings.TrimSpace(value) == "" {
			continue
		}
		interval, err := ParseInterval(value)
		if err != nil {
			return nil, fmt.Errorf("throttle %s: %w", bucket, err)
		}
		intervals[bucket] = interval
	}
	return &Policy{intervals: intervals}, nil
}

// ParseInterval accepts hourly/daily/weekly/monthly/yearly, "every N days", or a
// Go duration string.
func ParseInterval(value string) (time.Duration, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	if d, ok := namedIntervals[v]; ok {
		return d, nil
	}
	if fields := strings.Fields(v); len(fields) == 3 && fields[0] == "every" && strings.HasPrefix(fields[2], "day") {
		n, err := strconv.Atoi(fields[1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid interval %q", value)
		}
		return time.Duration(n) * day, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid interval %q", value)
	}
	return d, nil
}

// Bucket returns the age bucket of an item dated itemDate.
func Bucket(now, itemDate time.Time) string {
	age := now.Sub(itemDate)
	switch {
	case age < 7*day:
		return LastWeek
	case age < 30*day:
		return LastMonth
	case age < 365*day:
		return LastYear
	default:
		return Older
	}
}

// ShouldThrottle reports whether the last lookup is more recent than the interval
// configured for the item's age bucket. A missing or unparsable verified date
// never throttles.
func (p *Policy) ShouldThrottle(now, itemDate time.Time, lastVerified string) bool {
	if p == nil || len(p.intervals) == 0 {
		return false
	}
	interval, ok := p.intervals[Bucket(now, itemDate)]
	if !ok {
		return false
	}
	last, err := mention.ParseTimestamp(lastVerified)
	if err != nil {
		return false
	}
	return now.Sub(last) < interval
}
