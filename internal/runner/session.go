package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/authflow"
	"github.com/disputehq/disputesync/internal/browser"
	"github.com/disputehq/disputesync/internal/capture"
	"github.com/disputehq/disputesync/internal/config"
	"github.com/disputehq/disputesync/internal/creds"
)

// SessionSource produces a valid credential bundle for a platform account,
// from cache when a fresh one exists, otherwise through a live login.
type SessionSource interface {
	UberEatsBundle(ctx context.Context) (*creds.Bundle, error)
	DoorDashBundle(ctx context.Context, email string) (*creds.Bundle, error)
}

// BrowserSession is the production SessionSource. Each cache miss drives a
// real browser through the platform's login flow and harvests credentials
// from the authenticated session.
type BrowserSession struct {
	cfg    *config.Config
	cache  *creds.Cache
	logger *zap.Logger
}

// NewBrowserSession builds a browser-backed session source.
func NewBrowserSession(cfg *config.Config, cache *creds.Cache, logger *zap.Logger) *BrowserSession {
	return &BrowserSession{
		cfg:    cfg,
		cache:  cache,
		logger: logger.Named("session"),
	}
}

func (s *BrowserSession) timeouts() authflow.Timeouts {
	return authflow.Timeouts{
		Element:    s.cfg.Browser.ElementTimeout,
		Navigation: s.cfg.Browser.NavigationTimeout,
		CodeEntry:  s.cfg.Browser.CodeEntryTimeout,
	}
}

// withTab runs fn against a fresh tab, tearing the browser down on every
// exit path. An owned browser is killed; an attached one is only detached.
func (s *BrowserSession) withTab(ctx context.Context, fn func(tab *browser.Tab) (*creds.Bundle, error)) (*creds.Bundle, error) {
	var handle *browser.Handle
	var err error
	attached := s.cfg.Browser.AttachEndpoint != ""
	if attached {
		handle, err = browser.Attach(ctx, s.cfg.Browser.AttachEndpoint, s.logger)
	} else {
		handle, err = browser.Launch(ctx, s.cfg.Browser, s.logger)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start browser session: %w", err)
	}
	defer func() {
		if closeErr := handle.Close(context.Background()); closeErr != nil {
			s.logger.Warn("Browser teardown failed", zap.Error(closeErr))
		}
	}()

	if attached {
		// An external browser may be in use for other things; record what we
		// found before adding our own tab.
		if tabs, tabsErr := handle.Tabs(ctx); tabsErr == nil {
			s.logger.Debug("Attached to browser", zap.Int("open_tabs", len(tabs)))
		}
	}

	tab, err := handle.NewTab(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	defer tab.Close()

	return fn(tab)
}

// dumpFailureScreenshot saves the current page to the snapshot directory so a
// failed login can be diagnosed after the browser is gone. Best effort only.
func (s *BrowserSession) dumpFailureScreenshot(ctx context.Context, tab *browser.Tab, platform string) {
	dir := s.cfg.Snapshot.Dir
	if dir == "" {
		return
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		s.logger.Warn("Could not create snapshot directory for screenshot", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s_login_failure_%s.png", platform, time.Now().UTC().Format("20060102T150405"))
	path := filepath.Join(dir, name)
	if err := tab.Screenshot(ctx, path); err != nil {
		s.logger.Warn("Failure screenshot not captured", zap.Error(err))
		return
	}
	s.logger.Info("Saved login failure screenshot", zap.String("path", path))
}

// UberEatsBundle returns cached UberEats credentials or performs a fresh
// login and capture. The login includes a human-entered emailed code.
func (s *BrowserSession) UberEatsBundle(ctx context.Context) (*creds.Bundle, error) {
	key := creds.Key(creds.PlatformUberEats, "")
	if bundle := s.cache.Load(key); bundle != nil {
		s.logger.Info("Using cached UberEats credentials")
		return bundle, nil
	}

	s.logger.Info("No valid cached credentials, starting UberEats login")
	bundle, err := s.withTab(ctx, func(tab *browser.Tab) (*creds.Bundle, error) {
		flow := authflow.NewUberEatsFlow(s.cfg.Platforms.UberEats.Username, s.timeouts(), s.logger)
		if err := flow.Login(ctx, tab.Context()); err != nil {
			s.dumpFailureScreenshot(ctx, tab, string(creds.PlatformUberEats))
			return nil, err
		}

		extractor := capture.NewUberEatsExtractor(s.cfg.Browser.NavigationTimeout, s.logger)
		bundle, err := extractor.Extract(ctx, tab.Context(), func(trigCtx context.Context) error {
			// Opening the orders view fires the listing call the
			// interceptor is waiting for.
			return tab.Navigate(trigCtx, "https://merchants.ubereats.com/manager/orders", s.cfg.Browser.NavigationTimeout)
		})
		if errors.Is(err, capture.ErrWeakCredentials) {
			s.logger.Warn("UberEats capture is missing the CSRF token, replay may be rejected")
			err = nil
		}
		return bundle, err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Save(bundle, key)
	return bundle, nil
}

// DoorDashBundle returns cached DoorDash credentials for an account email
// or performs a fresh login and capture.
func (s *BrowserSession) DoorDashBundle(ctx context.Context, email string) (*creds.Bundle, error) {
	key := creds.Key(creds.PlatformDoorDash, email)
	if bundle := s.cache.Load(key); bundle != nil {
		s.logger.Info("Using cached DoorDash credentials", zap.String("email", email))
		return bundle, nil
	}

	s.logger.Info("No valid cached credentials, starting DoorDash login", zap.String("email", email))
	bundle, err := s.withTab(ctx, func(tab *browser.Tab) (*creds.Bundle, error) {
		flow := authflow.NewDoorDashFlow(email, s.cfg.Platforms.DoorDash.Password, s.timeouts(), s.logger)
		if err := flow.Login(ctx, tab.Context()); err != nil {
			s.dumpFailureScreenshot(ctx, tab, string(creds.PlatformDoorDash))
			return nil, err
		}

		extractor := capture.NewDoorDashExtractor(s.cfg.Browser.NavigationTimeout, s.logger)
		bundle, err := extractor.Extract(ctx, tab.Context())
		if errors.Is(err, capture.ErrWeakCredentials) {
			s.logger.Warn("DoorDash capture is missing the attestation key, replay may be rejected",
				zap.String("email", email))
			err = nil
		}
		return bundle, err
	})
	if err != nil {
		return nil, err
	}

	s.cache.Save(bundle, key)
	return bundle, nil
}
