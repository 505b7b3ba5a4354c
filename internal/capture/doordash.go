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

const (
	// analyticsHostFragment identifies the upstream service whose requests
	// carry the dd-att-key signing header.
	analyticsHostFragment = "merchant-analytics-service"

	// modalTriggerSelector opens the breakdown modal that fires an
	// analytics request. Its markup drifts; capture is best-effort.
	modalTriggerSelector = `a[kind="BUTTON/LINK"]`

	operationsQualityURL = "https://merchant-portal.doordash.com/merchant/operations-quality?store_id=%s"
)

// clientViewState is the shape of the portal's serialized local-storage
// state that carries the store and business identifiers.
type clientViewState struct {
	StoreID    string `json:"storeId"`
	StoreName  string `json:"storeName"`
	BusinessID string `json:"businessId"`
}

// DoorDashExtractor recovers a credential bundle from an authenticated
// merchant-portal.doordash.com session using the passive strategy: read
// cookies and local-storage state, and opportunistically observe one live
// analytics request to pick up the dd-att-key header, which is only visible
// on the wire.
type DoorDashExtractor struct {
	navTimeout time.Duration
	logger     *zap.Logger
}

// NewDoorDashExtractor builds the extractor. navTimeout bounds the
// navigation to the operations quality page.
func NewDoorDashExtractor(navTimeout time.Duration, logger *zap.Logger) *DoorDashExtractor {
	if navTimeout <= 0 {
		navTimeout = 30 * time.Second
	}
	return &DoorDashExtractor{navTimeout: navTimeout, logger: logger.Named("doordash_capture")}
}

// Extract reads the session state from the tab. It returns a usable bundle
// together with ErrWeakCredentials when the signing header could not be
// observed; only a session with no store identity at all is a hard failure.
func (e *DoorDashExtractor) Extract(ctx context.Context, tabCtx context.Context) (*creds.Bundle, error) {
	state, err := e.readClientViewState(tabCtx)
	if err != nil {
		return nil, fmt.Errorf("doordash client view state unavailable: %w", err)
	}

	var captured map[string]string
	if state.StoreID != "" {
		captured = e.observeAnalyticsRequest(ctx, tabCtx, state.StoreID)
	}

	cookies, rawCookie := e.readCookieJar(tabCtx)

	bundle := &creds.Bundle{
		Platform: creds.PlatformDoorDash,
		Tokens: map[string]string{
			creds.TokenAttKey: headerLookup(captured, "dd-att-key"),
			creds.TokenStore:  state.StoreID,
			creds.TokenBiz:    state.BusinessID,
		},
		Cookies:   cookies,
		RawCookie: rawCookie,
		Headers:   captured,
	}
	if err := bundle.Validate(); err != nil {
		return nil, err
	}

	if bundle.Token(creds.TokenAttKey) == "" {
		e.logger.Warn("dd-att-key was not captured; API requests may be rejected")
		return bundle, ErrWeakCredentials
	}
	return bundle, nil
}

// readClientViewState evaluates the portal's serialized view state.
func (e *DoorDashExtractor) readClientViewState(tabCtx context.Context) (clientViewState, error) {
	var state clientViewState
	evalCtx, cancel := context.WithTimeout(tabCtx, 5*time.Second)
	defer cancel()
	err := chromedp.Run(evalCtx, chromedp.Evaluate(`(() => {
		const raw = localStorage.getItem('mx-client-view-state');
		if (!raw) return {storeId: '', storeName: '', businessId: ''};
		try {
			const s = (JSON.parse(raw).clientViewState) || {};
			return {
				storeId: String((s.store && s.store.id) || ''),
				storeName: (s.store && s.store.name) || '',
				businessId: String((s.business && s.business.id) || '')
			};
		} catch (err) {
			return {storeId: '', storeName: '', businessId: ''};
		}
	})()`, &state))
	return state, err
}

// observeAnalyticsRequest attaches a network observer filtered to the
// analytics hostname, then navigates to the operations quality page and
// pokes the modal that triggers an API call. Returns the captured header
// set, or nil when nothing matched in time.
func (e *DoorDashExtractor) observeAnalyticsRequest(ctx context.Context, tabCtx context.Context, storeID string) map[string]string {
	shot := NewOneShot()

	listenCtx, stopListening := context.WithCancel(tabCtx)
	defer stopListening()

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		sent, ok := ev.(*network.EventRequestWillBeSent)
		if !ok || !strings.Contains(sent.Request.URL, analyticsHostFragment) {
			return
		}
		if shot.Offer(RequestEvent{
			URL:     sent.Request.URL,
			Method:  sent.Request.Method,
			Headers: headersToStringMap(sent.Request.Headers),
		}) {
			e.logger.Info("Observed analytics request", zap.String("url", sent.Request.URL))
		}
	})

	if err := chromedp.Run(tabCtx, network.Enable()); err != nil {
		e.logger.Warn("Failed to enable network observation", zap.Error(err))
		return nil
	}

	navCtx, cancel := context.WithTimeout(tabCtx, e.navTimeout)
	err := chromedp.Run(navCtx,
		chromedp.Navigate(fmt.Sprintf(operationsQualityURL, storeID)),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(time.Second),
	)
	cancel()
	if err != nil {
		e.logger.Warn("Navigation to operations quality page failed", zap.Error(err))
		return nil
	}

	// Opening the breakdown modal fires the request we want. If the
	// trigger cannot be located, proceed anyway after a settle delay; the
	// page may have fired one on load.
	clickCtx, cancelClick := context.WithTimeout(tabCtx, 5*time.Second)
	err = chromedp.Run(clickCtx,
		chromedp.WaitVisible(modalTriggerSelector, chromedp.ByQuery),
		chromedp.Click(modalTriggerSelector, chromedp.ByQuery),
	)
	cancelClick()
	settle := 3 * time.Second
	if err != nil {
		e.logger.Debug("Modal trigger not found, capturing opportunistically", zap.Error(err))
		settle = 2 * time.Second
	}

	event, err := shot.Await(ctx, settle)
	if err != nil {
		return nil
	}
	return event.Headers
}

// readCookieJar fetches all cookies visible to the session.
func (e *DoorDashExtractor) readCookieJar(tabCtx context.Context) (map[string]string, string) {
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
	e.logger.Info("Captured cookies from page", zap.Int("count", len(all)))
	return jar, strings.Join(pairs, "; ")
}
