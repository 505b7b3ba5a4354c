// Package capture observes browser traffic to distill ephemeral session
// material (tokens, cookies, anti-bot headers) into a credential bundle.
// Two strategies exist: a passive cookie-and-storage read with an optional
// wire observer, and active request interception matched against an endpoint
// signature.
package capture

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	// ErrCaptureTimedOut means no request matched the signature within the
	// bounded wait.
	ErrCaptureTimedOut = errors.New("capture: no matching request observed before timeout")

	// ErrWeakCredentials flags a bundle captured without the expected
	// signing header. Downstream requests are still attempted; some
	// endpoints tolerate partial headers.
	ErrWeakCredentials = errors.New("capture: signing header missing from captured request")
)

// RequestEvent is one observed outgoing request.
type RequestEvent struct {
	URL     string
	Method  string
	Headers map[string]string
	Body    string
}

// Signature selects the request worth capturing: a path fragment the URL
// must contain and, optionally, a marker string the POST body must contain.
type Signature struct {
	URLFragment string
	BodyMarker  string
}

// Matches reports whether the event satisfies the signature.
func (s Signature) Matches(ev RequestEvent) bool {
	if s.URLFragment != "" && !strings.Contains(ev.URL, s.URLFragment) {
		return false
	}
	if s.BodyMarker != "" && !strings.Contains(ev.Body, s.BodyMarker) {
		return false
	}
	return true
}

// OneShot resolves exactly once with the first event offered to it. It
// replaces ad hoc callback bookkeeping: register, await with a timeout, and
// the listener feeding Offer can be torn down deterministically afterward.
type OneShot struct {
	once sync.Once
	ch   chan RequestEvent
}

// NewOneShot creates an unresolved OneShot.
func NewOneShot() *OneShot {
	return &OneShot{ch: make(chan RequestEvent, 1)}
}

// Offer resolves the OneShot with ev if it has not resolved yet. It reports
// whether this call was the resolving one.
func (o *OneShot) Offer(ev RequestEvent) bool {
	resolved := false
	o.once.Do(func() {
		o.ch <- ev
		resolved = true
	})
	return resolved
}

// Await blocks until the OneShot resolves, the timeout elapses, or ctx is
// canceled. Timeout maps to ErrCaptureTimedOut.
func (o *OneShot) Await(ctx context.Context, timeout time.Duration) (RequestEvent, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case ev := <-o.ch:
		return ev, nil
	case <-timer.C:
		return RequestEvent{}, ErrCaptureTimedOut
	case <-ctx.Done():
		return RequestEvent{}, ctx.Err()
	}
}

// parseCookieHeader splits a Cookie header value into a name to value map.
// Order is irrelevant to consumers; the raw string is kept separately.
func parseCookieHeader(raw string) map[string]string {
	cookies := make(map[string]string)
	for _, part := range strings.Split(raw, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, found := strings.Cut(part, "=")
		if !found {
			continue
		}
		cookies[name] = value
	}
	return cookies
}

// headerLookup returns a header value regardless of the captured casing.
func headerLookup(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}
