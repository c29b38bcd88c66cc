// Package browser declares the headless-browser control surface consumed by
// the search driver. Backends live in subpackages (chromedp, rod, static).
package browser

import (
	"context"
	"errors"
	"time"
)

// ErrUnsupported is returned by backends that cannot perform an operation,
// e.g. screenshots without a rendering engine.
var ErrUnsupported = errors.New("operation not supported by browser backend")

// WaitUntil names the load milestone Navigate waits for.
type WaitUntil string

// Load milestones understood by the backends. WaitNetworkIdle waits until
// at most two connections have been open for 500ms after load. Backends
// without network instrumentation (static) treat it as WaitLoad.
const (
	WaitLoad        WaitUntil = "load"
	WaitNetworkIdle WaitUntil = "networkidle"
)

// LaunchOptions configures a browser process.
type LaunchOptions struct {
	Headless       bool
	ExecPath       string
	RemoteURL      string
	UserAgent      string
	ViewportWidth  int
	ViewportHeight int
	// Flags are extra command-line switches, e.g. "no-sandbox".
	Flags []string
}

// NavigateOptions bounds a single navigation attempt.
type NavigateOptions struct {
	WaitUntil WaitUntil
	Timeout   time.Duration
}

// Launcher starts browser sessions.
type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Session, error)
}

// Session is one browser process owned by a single search run.
type Session interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Page is a single tab.
type Page interface {
	Navigate(ctx context.Context, url string, opts NavigateOptions) error
	// Query returns the first element matching selector, or nil when nothing
	// matches. Malformed selectors return an error.
	Query(ctx context.Context, selector string) (Element, error)
	Keyboard() Keyboard
	// Content returns the serialized DOM of the current document.
	Content(ctx context.Context) (string, error)
	Screenshot(ctx context.Context) ([]byte, error)
}

// Element is a handle to a DOM node.
type Element interface {
	Focus(ctx context.Context) error
	// Click invokes the element's click() method directly rather than
	// dispatching a pointer event, so obstructed elements still activate.
	Click(ctx context.Context) error
	Attribute(ctx context.Context, name string) (string, bool, error)
}

// Keyboard sends key input to the focused element.
type Keyboard interface {
	Type(ctx context.Context, text string, delay time.Duration) error
	Press(ctx context.Context, key string) error
}

// DefaultFlags are the switches needed to run Chrome inside containers and
// other restricted environments.
var DefaultFlags = []string{
	"no-sandbox",
	"disable-setuid-sandbox",
	"disable-dev-shm-usage",
	"disable-gpu",
}

// ForwardCancel calls cancel when parent is done, until the returned stop
// function runs. Backends use it to let a caller's context abort work running
// under a longer-lived browser context.
func ForwardCancel(parent context.Context, cancel context.CancelFunc) (stop func()) {
	if parent == nil {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-done:
		}
	}()
	return func() { close(done) }
}
