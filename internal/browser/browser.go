// Package browser is a thin lifecycle wrapper over a CDP-driven Chrome
// instance. A Handle either owns the browser process (Launch) or merely
// observes an external one (Attach); Close tears down only what it owns.
package browser

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/disputehq/disputesync/internal/config"
)

// ErrNotConnected is returned for operations on a handle with no active
// browser instance behind it.
var ErrNotConnected = errors.New("browser: not connected")

const (
	viewportWidth  = 1920
	viewportHeight = 1080

	startupProbeTimeout = 30 * time.Second
)

// Handle manages one browser instance, owned or attached.
type Handle struct {
	logger *zap.Logger

	// allocatorCtx manages the browser process (or the remote connection).
	// All tab contexts are derived from it.
	allocatorCtx    context.Context
	allocatorCancel context.CancelFunc

	// browserCtx is the first tab context; it anchors the connection so
	// sibling tabs can be created and enumerated.
	browserCtx    context.Context
	browserCancel context.CancelFunc

	// owned is true when Close must kill the process, false when it must
	// only disconnect. Exactly one of the two behaviors applies per handle.
	owned  bool
	closed bool
	mu     sync.Mutex
}

// Tab is a single page within a browser instance.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
}

// Launch starts a fresh, isolated browser instance with a fixed viewport.
func Launch(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Handle, error) {
	h := &Handle{logger: logger.Named("browser"), owned: true}

	opts := buildAllocatorOptions(cfg)
	h.allocatorCtx, h.allocatorCancel = chromedp.NewExecAllocator(ctx, opts...)
	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocatorCtx)

	// Probe the instance so a broken Chrome install fails here, not on the
	// first real navigation.
	probeCtx, cancel := context.WithTimeout(h.browserCtx, startupProbeTimeout)
	defer cancel()
	if err := chromedp.Run(probeCtx, chromedp.Navigate("about:blank")); err != nil {
		h.allocatorCancel()
		return nil, fmt.Errorf("browser failed to start or respond: %w", err)
	}

	h.logger.Info("Browser launched", zap.Bool("headless", cfg.Headless))
	return h, nil
}

// Attach connects to an already-running instrumented instance without taking
// ownership of it. Close on the returned handle only disconnects.
func Attach(ctx context.Context, wsEndpoint string, logger *zap.Logger) (*Handle, error) {
	h := &Handle{logger: logger.Named("browser"), owned: false}

	h.allocatorCtx, h.allocatorCancel = chromedp.NewRemoteAllocator(ctx, wsEndpoint)
	h.browserCtx, h.browserCancel = chromedp.NewContext(h.allocatorCtx)

	probeCtx, cancel := context.WithTimeout(h.browserCtx, startupProbeTimeout)
	defer cancel()
	if _, err := chromedp.Targets(probeCtx); err != nil {
		h.allocatorCancel()
		return nil, fmt.Errorf("failed to attach to browser at %s: %w", wsEndpoint, err)
	}

	h.logger.Info("Attached to external browser", zap.String("endpoint", wsEndpoint))
	return h, nil
}

// buildAllocatorOptions assembles launch flags, filtering the automation
// banner the way real sessions appear.
func buildAllocatorOptions(cfg config.BrowserConfig) []chromedp.ExecAllocatorOption {
	var opts []chromedp.ExecAllocatorOption
	for _, opt := range chromedp.DefaultExecAllocatorOptions[:] {
		if flag, ok := opt.(chromedp.Flag); ok && flag.Name == "enable-automation" {
			continue
		}
		opts = append(opts, opt)
	}

	opts = append(opts,
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-gpu", cfg.Headless),
		chromedp.WindowSize(viewportWidth, viewportHeight),
	)

	for _, arg := range cfg.Args {
		parts := strings.SplitN(arg, "=", 2)
		name := strings.TrimPrefix(parts[0], "--")
		if len(parts) == 2 {
			opts = append(opts, chromedp.Flag(name, parts[1]))
		} else {
			opts = append(opts, chromedp.Flag(name, true))
		}
	}

	// Flags required for running inside containers.
	if runtime.GOOS == "linux" {
		opts = append(opts,
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}

	return opts
}

// active reports whether the handle still has a live instance. Callers must
// hold h.mu.
func (h *Handle) active() bool {
	return h.browserCtx != nil && !h.closed
}

// NewTab opens a new page in the instance.
func (h *Handle) NewTab(ctx context.Context) (*Tab, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.active() {
		return nil, ErrNotConnected
	}

	tabCtx, cancel := chromedp.NewContext(h.browserCtx)
	tab := &Tab{ctx: tabCtx, cancel: cancel, logger: h.logger}

	// Materialize the target now; chromedp defers creation until first use.
	if err := chromedp.Run(tabCtx, chromedp.Navigate("about:blank")); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open tab: %w", err)
	}
	return tab, nil
}

// Tabs enumerates the open pages of the instance.
func (h *Handle) Tabs(ctx context.Context) ([]*target.Info, error) {
	h.mu.Lock()
	browserCtx := h.browserCtx
	ok := h.active()
	h.mu.Unlock()
	if !ok {
		return nil, ErrNotConnected
	}

	infos, err := chromedp.Targets(browserCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}
	pages := infos[:0]
	for _, info := range infos {
		if info.Type == "page" {
			pages = append(pages, info)
		}
	}
	return pages, nil
}

// Close releases the handle. An owned instance is terminated; an attached one
// is only disconnected, since other consumers may still be using it.
func (h *Handle) Close(ctx context.Context) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	owned := h.owned
	browserCtx := h.browserCtx
	browserCancel := h.browserCancel
	allocatorCancel := h.allocatorCancel
	h.mu.Unlock()

	if browserCtx == nil {
		return ErrNotConnected
	}

	if owned {
		// chromedp.Cancel waits for the process to exit instead of just
		// dropping the websocket.
		if err := chromedp.Cancel(browserCtx); err != nil {
			h.logger.Warn("Graceful browser shutdown failed", zap.Error(err))
		}
		allocatorCancel()
		h.logger.Info("Browser closed")
		return nil
	}

	// Attached: drop the connection only. The external instance stays alive.
	browserCancel()
	allocatorCancel()
	h.logger.Info("Detached from external browser")
	return nil
}

// Context exposes the tab's chromedp context for direct action execution.
func (t *Tab) Context() context.Context {
	return t.ctx
}

// Navigate loads a URL and waits for the document body to be ready.
func (t *Tab) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	if t.ctx == nil {
		return ErrNotConnected
	}
	navCtx, cancel := context.WithTimeout(t.ctx, timeout)
	defer cancel()

	t.logger.Debug("Navigating", zap.String("url", url))
	if err := chromedp.Run(navCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}
	return nil
}

// Screenshot captures the visible viewport to a file.
func (t *Tab) Screenshot(ctx context.Context, path string) error {
	if t.ctx == nil {
		return ErrNotConnected
	}
	shotCtx, cancel := context.WithTimeout(t.ctx, 15*time.Second)
	defer cancel()

	var buf []byte
	if err := chromedp.Run(shotCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		buf, err = page.CaptureScreenshot().Do(ctx)
		return err
	})); err != nil {
		return fmt.Errorf("screenshot failed: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

// Close closes just this tab, leaving the instance alive.
func (t *Tab) Close() {
	if t.cancel != nil {
		t.cancel()
	}
}
