// Package mention defines the webmention record model, the raw API payload it is
// derived from, and the ports (API client, HTML fetcher, renderer, throttle policy,
// clock, hasher, publisher) that the processor and pipeline depend on.
package mention
