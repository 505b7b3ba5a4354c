// Package portal replays captured credential bundles as hand-built HTTP
// requests against the merchant portals' private APIs, walking each
// pagination track to exhaustion.
package portal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/time/rate"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrPageFetchFailed means one track's pagination was aborted by a
// non-success status or an explicit error payload. Results collected before
// the failure are kept; sibling tracks are unaffected.
var ErrPageFetchFailed = errors.New("portal: page fetch failed")

const (
	// DefaultPageInterval spaces successive page fetches within a track to
	// stay clear of upstream rate limiting. No delay follows the final page.
	DefaultPageInterval = 500 * time.Millisecond

	requestTimeout = 30 * time.Second

	userAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/140.0.0.0 Safari/537.36"
)

// Request is a fully formed request description, independent of any HTTP
// client, so builders can be exercised without network access.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Client sends portal requests with per-page pacing.
type Client struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client. pageInterval <= 0 selects DefaultPageInterval.
func NewClient(pageInterval time.Duration, logger *zap.Logger) *Client {
	if pageInterval <= 0 {
		pageInterval = DefaultPageInterval
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 15 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 5 * time.Second,
		MaxIdleConns:        10,
		IdleConnTimeout:     30 * time.Second,
	}
	// The portals negotiate h2; match what the browser sent.
	if err := http2.ConfigureTransport(transport); err != nil {
		logger.Warn("HTTP/2 configuration failed, continuing with HTTP/1.1", zap.Error(err))
	}

	return &Client{
		httpClient: &http.Client{Transport: transport, Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Every(pageInterval), 1),
		logger:     logger.Named("portal"),
	}
}

// Do sends one prepared request and returns the response body. Non-2xx
// statuses map to ErrPageFetchFailed.
func (c *Client) Do(ctx context.Context, req Request) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPageFetchFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrPageFetchFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("Portal request rejected",
			zap.String("url", req.URL),
			zap.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrPageFetchFailed, resp.StatusCode)
	}
	return body, nil
}

// pace blocks until the next page fetch is due. The first call in a track
// passes immediately, so no delay trails the final page.
func (c *Client) pace(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

// canonicalHeaders collapses case-variant duplicates (e.g. both "Referer"
// and "referer") into a single canonical entry. Keys are visited in sorted
// order so the winner is deterministic: lowercase variants sort after their
// capitalized twins and win, which matches the captured browser casing.
func canonicalHeaders(headers map[string]string) map[string]string {
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]string, len(headers))
	for _, k := range keys {
		out[http.CanonicalHeaderKey(k)] = headers[k]
	}
	return out
}

// finalizeHeaders canonicalizes the merged header set, applies overrides,
// and guarantees a Cookie header, falling back to the bundle's raw cookie
// string when the captured set lacked one.
func finalizeHeaders(base map[string]string, overrides map[string]string, cookieFallback string) map[string]string {
	headers := canonicalHeaders(base)
	for name, value := range overrides {
		headers[http.CanonicalHeaderKey(name)] = value
	}
	if headers["Cookie"] == "" {
		headers["Cookie"] = cookieFallback
	}
	return headers
}
