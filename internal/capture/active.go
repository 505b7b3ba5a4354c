package capture

import (
	"context"
	"encoding/base64"
	"time"

	cdpruntime "github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// DefaultCaptureTimeout bounds the wait for a signature match.
const DefaultCaptureTimeout = 30 * time.Second

// Interceptor pauses every outgoing request, inspects it against a
// signature, and resolves exactly once with the first match. All requests,
// matching or not, are continued un-mutated; after the first match
// interception is disabled entirely.
type Interceptor struct {
	sig     Signature
	timeout time.Duration
	logger  *zap.Logger
}

// NewInterceptor creates an interceptor for the given endpoint signature.
func NewInterceptor(sig Signature, timeout time.Duration, logger *zap.Logger) *Interceptor {
	if timeout <= 0 {
		timeout = DefaultCaptureTimeout
	}
	return &Interceptor{sig: sig, timeout: timeout, logger: logger.Named("interceptor")}
}

// Capture enables interception on the tab, runs trigger (typically a
// navigation that causes the portal to call its private API), and waits for
// the first matching request. Multiple navigations before a match are
// tolerated; a bounded wait without a match returns ErrCaptureTimedOut.
func (i *Interceptor) Capture(ctx context.Context, tabCtx context.Context, trigger func(context.Context) error) (RequestEvent, error) {
	shot := NewOneShot()

	// The listener lives on a derived context so it is unregistered
	// deterministically when this function returns, not leaked across
	// retries.
	listenCtx, stopListening := context.WithCancel(tabCtx)
	defer stopListening()

	chromeCtx := chromedp.FromContext(tabCtx)

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		paused, ok := ev.(*fetch.EventRequestPaused)
		if !ok {
			return
		}
		// Continue every paused request from a separate goroutine; CDP
		// events must not block on further CDP calls.
		go func() {
			execCtx := cdpruntime.WithExecutor(context.Background(), chromeCtx.Target)
			if err := fetch.ContinueRequest(paused.RequestID).Do(execCtx); err != nil {
				i.logger.Debug("Failed to continue intercepted request", zap.Error(err))
			}
		}()

		event := RequestEvent{
			URL:     paused.Request.URL,
			Method:  paused.Request.Method,
			Headers: headersToStringMap(paused.Request.Headers),
			Body:    requestBody(paused.Request),
		}
		if i.sig.Matches(event) && shot.Offer(event) {
			i.logger.Info("Captured matching request", zap.String("url", event.URL))
		}
	})

	pattern := []*fetch.RequestPattern{{URLPattern: "*", RequestStage: fetch.RequestStageRequest}}
	if err := chromedp.Run(tabCtx, fetch.Enable().WithPatterns(pattern)); err != nil {
		return RequestEvent{}, err
	}
	// Stop pausing traffic no matter how the capture ends.
	defer func() {
		if err := chromedp.Run(tabCtx, fetch.Disable()); err != nil {
			i.logger.Debug("Failed to disable interception", zap.Error(err))
		}
	}()

	if trigger != nil {
		if err := trigger(ctx); err != nil {
			return RequestEvent{}, err
		}
	}

	return shot.Await(ctx, i.timeout)
}

// requestBody reassembles a POST body from the request's data entries.
func requestBody(req *network.Request) string {
	if !req.HasPostData || len(req.PostDataEntries) == 0 {
		return ""
	}
	var body []byte
	for _, entry := range req.PostDataEntries {
		decoded, err := base64.StdEncoding.DecodeString(entry.Bytes)
		if err != nil {
			continue
		}
		body = append(body, decoded...)
	}
	return string(body)
}

// headersToStringMap flattens CDP header values to strings.
func headersToStringMap(headers network.Headers) map[string]string {
	out := make(map[string]string, len(headers))
	for name, value := range headers {
		if s, ok := value.(string); ok {
			out[name] = s
		}
	}
	return out
}
