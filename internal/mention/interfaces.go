package mention

import (
	"context"
	"net/url"
	"time"
)

// APIClient queries the mentions API. A nil response with a nil error means no
// mentions were returned.
type APIClient interface {
	Get(ctx context.Context, endpoint string, params url.Values) (*Response, error)
}

// HTMLFetcher returns the raw HTML of a URL.
type HTMLFetcher interface {
	FetchHTML(ctx context.Context, url string) ([]byte, error)
}

// Renderer converts markdown (or HTML passthrough) into HTML.
type Renderer interface {
	Render(source string) (string, error)
}

// Throttler decides whether a page lookup should be skipped this run.
type Throttler interface {
	ShouldThrottle(now, itemDate time.Time, lastVerified string) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// Hasher computes digests used for fallback mention ids.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// IDGenerator produces run ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Publisher pushes run notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, payload any) (string, error)
}
