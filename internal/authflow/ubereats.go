package authflow

import (
	"context"
	"fmt"

	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	uberEatsHomeURL    = "https://merchants.ubereats.com/"
	uberEatsManagerURL = "https://merchants.ubereats.com/manager"

	ueManagerLink   = `a[href="` + uberEatsManagerURL + `"]`
	ueEmailSelector = `#PHONE_NUMBER_or_EMAIL_ADDRESS`
	ueForwardButton = `#forward-button`
)

// UberEatsFlow is the out-of-band code flow: enter the account email, then
// suspend until a human completes the emailed verification code in the
// browser. There is no programmatic retry past the code wait.
type UberEatsFlow struct {
	username string
	timeouts Timeouts
	logger   *zap.Logger
}

// NewUberEatsFlow builds the flow for the configured account.
func NewUberEatsFlow(username string, timeouts Timeouts, logger *zap.Logger) *UberEatsFlow {
	return &UberEatsFlow{
		username: username,
		timeouts: timeouts.withDefaults(),
		logger:   logger.Named("ubereats_login"),
	}
}

// Login drives the tab from the merchant home page through email entry and
// waits for the human-completed code step to land on the manager app.
func (f *UberEatsFlow) Login(ctx context.Context, tabCtx context.Context) error {
	if f.username == "" {
		return ErrMissingCredentials
	}

	navCtx, cancel := context.WithTimeout(tabCtx, f.timeouts.Navigation)
	err := chromedp.Run(navCtx,
		chromedp.Navigate(uberEatsHomeURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to open merchant home: %w", err)
	}

	// The manager link opens a new window by default; strip the target so
	// the login continues in this tab.
	if err := chromedp.Run(tabCtx, chromedp.Evaluate(
		`(() => { const a = document.querySelector('`+ueManagerLink+`'); if (a) a.removeAttribute('target'); })()`,
		nil,
	)); err != nil {
		return fmt.Errorf("failed to prepare manager link: %w", err)
	}

	watch := watchNavigation(tabCtx)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return watch.await(gctx, f.timeouts.Navigation)
	})
	g.Go(func() error {
		if err := chromedp.Run(tabCtx, chromedp.Click(ueManagerLink, chromedp.ByQuery)); err != nil {
			return fmt.Errorf("failed to open manager: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	// EnteringIdentifier.
	if err := waitInteractable(tabCtx, ueEmailSelector, f.timeouts.Element); err != nil {
		return fmt.Errorf("email field: %w", err)
	}
	if err := chromedp.Run(tabCtx,
		chromedp.Click(ueEmailSelector, chromedp.ByQuery),
		chromedp.SendKeys(ueEmailSelector, f.username, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("failed to enter email: %w", err)
	}

	// AwaitingExternalCode: the forward click sends the code email, then a
	// human enters it in the browser. Arm the watch before clicking and
	// hold the long wait; on elapse the whole operation fails.
	f.logger.Info("Email entered; waiting for verification code to be completed in the browser",
		zap.Duration("timeout", f.timeouts.CodeEntry))

	watch = watchNavigation(tabCtx)
	if err := chromedp.Run(tabCtx, chromedp.Click(ueForwardButton, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("failed to submit email: %w", err)
	}
	if err := watch.await(ctx, f.timeouts.CodeEntry); err != nil {
		return err
	}

	f.logger.Info("UberEats login complete")
	return nil
}
