// Package authflow drives the browser through each portal's login ritual.
// DoorDash is a synchronous credential flow; UberEats suspends on a
// one-time code that a human enters out of band.
package authflow

import (
	"context"
	"errors"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var (
	// ErrMissingCredentials means the identifier or secret is absent from
	// configuration. Raised before any browser interaction.
	ErrMissingCredentials = errors.New("authflow: required credentials not configured")

	// ErrLoginUIMismatch means an expected login element never became
	// interactable; the portal's markup has likely changed.
	ErrLoginUIMismatch = errors.New("authflow: login page did not match expected markup")

	// ErrLoginTimedOut means the post-submit navigation (or the
	// human-in-the-loop code entry) did not complete in time.
	ErrLoginTimedOut = errors.New("authflow: login did not complete before timeout")
)

// Timeouts bounds each kind of wait in a login flow.
type Timeouts struct {
	// Element bounds the wait for a login field to become interactable.
	Element time.Duration
	// Navigation bounds the wait for post-submit navigation.
	Navigation time.Duration
	// CodeEntry bounds the human-in-the-loop wait for an emailed code.
	CodeEntry time.Duration
}

// DefaultTimeouts mirrors the portals' observed tolerances.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Element:    10 * time.Second,
		Navigation: 30 * time.Second,
		CodeEntry:  120 * time.Second,
	}
}

func (t Timeouts) withDefaults() Timeouts {
	d := DefaultTimeouts()
	if t.Element <= 0 {
		t.Element = d.Element
	}
	if t.Navigation <= 0 {
		t.Navigation = d.Navigation
	}
	if t.CodeEntry <= 0 {
		t.CodeEntry = d.CodeEntry
	}
	return t
}

// navigationWatch registers a load-event listener on the tab. It must be
// armed before the action that causes navigation: submission and navigation
// settle together, so watching after the click can miss the event.
type navigationWatch struct {
	fired chan struct{}
	stop  context.CancelFunc
}

func watchNavigation(tabCtx context.Context) *navigationWatch {
	listenCtx, stop := context.WithCancel(tabCtx)
	w := &navigationWatch{fired: make(chan struct{}, 1), stop: stop}

	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		if _, ok := ev.(*page.EventLoadEventFired); ok {
			select {
			case w.fired <- struct{}{}:
			default:
			}
		}
	})
	return w
}

// await blocks until the watched navigation completes or timeout elapses.
func (w *navigationWatch) await(ctx context.Context, timeout time.Duration) error {
	defer w.stop()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-w.fired:
		return nil
	case <-timer.C:
		return ErrLoginTimedOut
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitInteractable waits for selector to become visible within the element
// timeout, mapping elapse to ErrLoginUIMismatch.
func waitInteractable(tabCtx context.Context, selector string, timeout time.Duration) error {
	waitCtx, cancel := context.WithTimeout(tabCtx, timeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return errors.Join(ErrLoginUIMismatch, err)
	}
	return nil
}
