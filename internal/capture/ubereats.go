package capture

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/creds"
)

// UberEats endpoint signature: the orders listing is fetched through the
// manager GraphQL endpoint with an ordersV2 operation in the POST body.
var uberEatsSignature = Signature{
	URLFragment: "/manager/graphql",
	BodyMarker:  "ordersV2",
}

// UberEatsExtractor recovers a credential bundle from an authenticated
// merchants.ubereats.com session using active request interception: the
// portal's own ordersV2 call carries the full header set, including the
// CSRF token, exactly as the API expects it.
type UberEatsExtractor struct {
	timeout time.Duration
	logger  *zap.Logger
}

// NewUberEatsExtractor builds the extractor. timeout bounds the interception
// wait; zero means DefaultCaptureTimeout.
func NewUberEatsExtractor(timeout time.Duration, logger *zap.Logger) *UberEatsExtractor {
	return &UberEatsExtractor{timeout: timeout, logger: logger.Named("ubereats_capture")}
}

// Extract intercepts the first ordersV2 request triggered by running
// trigger, merges in the page's full cookie jar, and returns the bundle.
// A bundle without a CSRF token is returned alongside ErrWeakCredentials.
func (e *UberEatsExtractor) Extract(ctx context.Context, tabCtx context.Context, trigger func(context.Context) error) (*creds.Bundle, error) {
	interceptor := NewInterceptor(uberEatsSignature, e.timeout, e.logger)
	event, err := interceptor.Capture(ctx, tabCtx, trigger)
	if err != nil {
		return nil, fmt.Errorf("ubereats credential capture failed: %w", err)
	}

	rawCookie := headerLookup(event.Headers, "cookie")
	cookies := parseCookieHeader(rawCookie)

	// The wire cookie header misses HttpOnly values on some page states;
	// merge in the jar read over CDP, which sees everything.
	jar, jarRaw := e.readCookieJar(tabCtx)
	for name, value := range jar {
		if _, ok := cookies[name]; !ok {
			cookies[name] = value
		}
	}
	if rawCookie == "" {
		rawCookie = jarRaw
	}

	csrf := headerLookup(event.Headers, "x-csrf-token")
	if csrf == "" {
		csrf = e.readCSRFMeta(tabCtx)
	}

	bundle := &creds.Bundle{
		Platform:  creds.PlatformUberEats,
		Tokens:    map[string]string{creds.TokenCSRF: csrf},
		Cookies:   cookies,
		RawCookie: rawCookie,
		Headers:   event.Headers,
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	if csrf == "" {
		// The portal accepts "x" for some sessions; try anyway but surface
		// the degradation.
		bundle.Tokens[creds.TokenCSRF] = "x"
		e.logger.Warn("CSRF token not found in captured request or page")
		return bundle, ErrWeakCredentials
	}
	return bundle, nil
}

// readCookieJar fetches all cookies visible to the session, including
// HttpOnly ones.
func (e *UberEatsExtractor) readCookieJar(tabCtx context.Context) (map[string]string, string) {
	var all []*network.Cookie
	err := chromedp.Run(tabCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		all, err = network.GetAllCookies().Do(ctx)
		return err
	}))
	if err != nil {
		e.logger.Warn("Failed to read cookie jar", zap.Error(err))
		return nil, ""
	}

	jar := make(map[string]string, len(all))
	pairs := make([]string, 0, len(all))
	for _, c := range all {
		jar[c.Name] = c.Value
		pairs = append(pairs, c.Name+"="+c.Value)
	}
	return jar, strings.Join(pairs, "; ")
}

// readCSRFMeta looks for the token in the page itself.
func (e *UberEatsExtractor) readCSRFMeta(tabCtx context.Context) string {
	var token string
	evalCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
	defer cancel()
	err := chromedp.Run(evalCtx, chromedp.Evaluate(`(() => {
		const meta = document.querySelector('meta[name="csrf-token"]');
		if (meta) return meta.getAttribute('content') || '';
		return window.csrfToken || '';
	})()`, &token))
	if err != nil {
		e.logger.Debug("CSRF meta lookup failed", zap.Error(err))
		return ""
	}
	return token
}
