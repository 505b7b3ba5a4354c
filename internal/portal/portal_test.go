package portal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// rewriteTransport redirects every request to a local test server while
// preserving the path, so clients built on fixed production URLs can be
// exercised against httptest.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = t.target.Scheme
	req.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	target, err := url.Parse(server.URL)
	require.NoError(t, err)

	client := NewClient(time.Millisecond, zap.NewNop())
	client.httpClient = &http.Client{Transport: rewriteTransport{target: target}}
	return client
}

func TestDoReturnsBodyOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "POST", r.Method)
		assert.Equal(t, "token", r.Header.Get("X-Csrf-Token"))
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	client := newTestClient(t, server)
	body, err := client.Do(context.Background(), Request{
		Method:  "POST",
		URL:     "https://merchants.ubereats.com/manager/graphql",
		Headers: map[string]string{"X-Csrf-Token": "token"},
		Body:    []byte(`{}`),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

func TestDoMapsNonSuccessStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	_, err := client.Do(context.Background(), Request{Method: "GET", URL: "https://example.com/x"})
	assert.ErrorIs(t, err, ErrPageFetchFailed)
}

func TestCanonicalHeadersCollapsesCaseVariants(t *testing.T) {
	headers := map[string]string{
		"Referer":      "https://old.example.com",
		"referer":      "https://new.example.com",
		"content-type": "application/json",
	}

	out := canonicalHeaders(headers)
	assert.Len(t, out, 2)
	// Sorted-key iteration makes the lowercase variant the deterministic
	// winner.
	assert.Equal(t, "https://new.example.com", out["Referer"])
	assert.Equal(t, "application/json", out["Content-Type"])
}

func TestCanonicalHeadersIsDeterministic(t *testing.T) {
	headers := map[string]string{"X-Token": "a", "x-token": "b", "X-TOKEN": "c"}
	first := canonicalHeaders(headers)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, canonicalHeaders(headers))
	}
}

func TestFinalizeHeadersGuaranteesCookie(t *testing.T) {
	out := finalizeHeaders(map[string]string{"accept": "*/*"}, map[string]string{
		"X-Csrf-Token": "tok",
	}, "sid=fallback")

	assert.Equal(t, "sid=fallback", out["Cookie"])
	assert.Equal(t, "tok", out["X-Csrf-Token"])
	assert.Equal(t, "*/*", out["Accept"])
}

func TestFinalizeHeadersKeepsCapturedCookie(t *testing.T) {
	out := finalizeHeaders(map[string]string{"cookie": "sid=captured"}, nil, "sid=fallback")
	assert.Equal(t, "sid=captured", out["Cookie"])
}

func TestPaceFirstCallIsImmediate(t *testing.T) {
	client := NewClient(time.Hour, zap.NewNop())

	start := time.Now()
	require.NoError(t, client.pace(context.Background()))
	assert.Less(t, time.Since(start), time.Second, "first wait must not block")
}
