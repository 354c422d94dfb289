// Package webmentionio implements mention.APIClient against the webmention.io
// JSON API.
package webmentionio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/JakeFAU/webmention-gatherer/internal/mention"
)

// DefaultBaseURL is the public webmention.io API root.
const DefaultBaseURL = "https://webmention.io/api"

// ErrUnexpectedStatus is returned for non-2xx API responses.
var ErrUnexpectedStatus = errors.New("unexpected status from webmention.io")

// maxBodyBytes bounds how much of a response is read.
const maxBodyBytes = 32 << 20

// Config controls Client behavior.
type Config struct {
	BaseURL    string
	Token      string
	UserAgent  string
	Timeout    time.Duration
	MaxRetries int
	// RetryWaitMin and RetryWaitMax bound the backoff between attempts; zero keeps
	// the retryablehttp defaults.
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client queries the webmention.io API.
type Client struct {
	http   *retryablehttp.Client
	cfg    Config
	logger *zap.Logger
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.MaxRetries
	if cfg.RetryWaitMin > 0 {
		client.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		client.RetryWaitMax = cfg.RetryWaitMax
	}
	client.HTTPClient.Timeout = cfg.Timeout
	client.Logger = newLeveledLogger(logger.Named("http"))

	return &Client{http: client, cfg: cfg, logger: logger}, nil
}

// Get calls {BaseURL}/{endpoint} with params (plus the API token) and decodes the
// response.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (*mention.Response, error) {
	query := url.Values{}
	for k, v := range params {
		query[k] = append([]string(nil), v...)
	}
	if c.cfg.Token != "" {
		query.Set("token", c.cfg.Token)
	}
	endpointURL := fmt.Sprintf("%s/%s?%s", c.cfg.BaseURL, strings.Trim(endpoint, "/"), query.Encode())

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpointURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", endpoint, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}

	var out mention.Response
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	for _, skipErr := range out.Skipped {
		c.logger.Debug("skipping undecodable mention", zap.String("endpoint", endpoint), zap.Error(skipErr))
	}
	c.logger.Debug("mentions fetched",
		zap.String("endpoint", endpoint),
		zap.Int("links", len(out.Links)),
		zap.Int("skipped", len(out.Skipped)),
		zap.Duration("duration", time.Since(started)),
	)
	return &out, nil
}
