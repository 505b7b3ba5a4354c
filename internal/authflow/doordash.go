package authflow

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DoorDash merchant portal login selectors, as observed. These drift with
// portal releases; a mismatch surfaces as ErrLoginUIMismatch.
const (
	doorDashLoginURL   = "https://merchant-portal.doordash.com/login"
	doorDashPortalURL  = "https://merchant-portal.doordash.com/merchant"
	ddEmailSelector    = `[data-anchor-id="IdentityLoginPageEmailField"]`
	ddPasswordSelector = `[data-anchor-id="IdentityLoginPagePasswordField"]`
	ddContinueButton   = `#merchant-login-submit-button`
	ddSubmitButton     = `#login-submit-button`
)

// DoorDashFlow is the synchronous credential flow: enter identifier, enter
// secret, then submit while concurrently awaiting the resulting navigation.
type DoorDashFlow struct {
	email    string
	password string
	timeouts Timeouts
	logger   *zap.Logger
}

// NewDoorDashFlow builds the flow for one account.
func NewDoorDashFlow(email, password string, timeouts Timeouts, logger *zap.Logger) *DoorDashFlow {
	return &DoorDashFlow{
		email:    email,
		password: password,
		timeouts: timeouts.withDefaults(),
		logger:   logger.Named("doordash_login"),
	}
}

// Login drives the tab from the login page to the authenticated portal.
func (f *DoorDashFlow) Login(ctx context.Context, tabCtx context.Context) error {
	// Fail fast on configuration problems before touching the browser.
	if f.email == "" || f.password == "" {
		return ErrMissingCredentials
	}

	f.logger.Info("Starting DoorDash login", zap.String("email", f.email))

	navCtx, cancel := context.WithTimeout(tabCtx, f.timeouts.Navigation)
	err := chromedp.Run(navCtx,
		chromedp.Navigate(doorDashLoginURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open login page: %w", err)
	}

	// EnteringIdentifier.
	if err := waitInteractable(tabCtx, ddEmailSelector, f.timeouts.Element); err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := chromedp.Run(tabCtx,
		chromedp.SendKeys(ddEmailSelector, f.email, chromedp.ByQuery),
		chromedp.Click(ddContinueButton, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to enter email: %w", err)
	}

	// EnteringSecret.
	if err := waitInteractable(tabCtx, ddPasswordSelector, f.timeouts.Element); err != nil {
		return fmt.Errorf("password field: %w", err)
	}
	if err := chromedp.Run(tabCtx,
		chromedp.SendKeys(ddPasswordSelector, f.password, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to enter password: %w", err)
	}

	// AwaitingRedirect: the navigation is a side effect of submission, so
	// the watch is armed first and both are awaited together.
	watch := watchNavigation(tabCtx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watch.await(gctx, f.timeouts.Navigation)
	})
	g.Go(func() error {
		if err := chromedp.Run(tabCtx, chromedp.Click(ddSubmitButton, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to submit login form: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// Authenticated: land on the portal home so captures see the real app.
	navCtx, cancel = context.WithTimeout(tabCtx, f.timeouts.Navigation)
	defer cancel()
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(doorDashPortalURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to open merchant portal: %w", err)
	}

	f.logger.Info("DoorDash login complete")
	return nil
}
