// Package rodbrowser implements browser.Launcher with go-rod. Pages are
// created through go-rod/stealth so common headless fingerprints are masked.
package rodbrowser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/input"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

// Launcher starts Chrome through the rod launcher, or connects to
// LaunchOptions.RemoteURL when set.
type Launcher struct {
	logger *zap.Logger
}

// New creates a rod-backed launcher.
func New(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger}
}

// Launch starts or attaches to Chrome and connects over CDP.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	var (
		wsURL string
		lnch  *launcher.Launcher
	)
	// The launcher kills Chrome when its context ends, so the process lives
	// under its own context and ctx only bounds startup.
	procCtx, procCancel := context.WithCancel(context.Background())
	if opts.RemoteURL != "" {
		wsURL = opts.RemoteURL
		l.logger.Info("connecting to remote chrome", zap.String("url", wsURL))
	} else {
		lnch = newLauncher(procCtx, opts)
		stop := browser.ForwardCancel(ctx, procCancel)
		u, err := lnch.Launch()
		stop()
		if err != nil {
			procCancel()
			return nil, fmt.Errorf("launch chrome: %w", err)
		}
		wsURL = u
		l.logger.Debug("launched local chrome", zap.String("url", wsURL))
	}

	b := rod.New().Context(procCtx).ControlURL(wsURL)
	stop := browser.ForwardCancel(ctx, procCancel)
	err := b.Connect()
	stop()
	if err != nil {
		if lnch != nil {
			lnch.Cleanup()
		}
		procCancel()
		return nil, fmt.Errorf("connect chrome: %w", err)
	}
	return &session{browser: b, launcher: lnch, cancel: procCancel, opts: opts, logger: l.logger}, nil
}

func newLauncher(ctx context.Context, opts browser.LaunchOptions) *launcher.Launcher {
	l := launcher.New().Context(ctx).Headless(opts.Headless)
	l = l.Set("disable-blink-features", "AutomationControlled")
	for _, f := range opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if hasValue {
			l = l.Set(flags.Flag(name), value)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	if opts.ExecPath != "" {
		l = l.Bin(opts.ExecPath)
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		l = l.Set("window-size", fmt.Sprintf("%d,%d", opts.ViewportWidth, opts.ViewportHeight))
	}
	return l
}

type session struct {
	mu       sync.Mutex
	browser  *rod.Browser
	launcher *launcher.Launcher
	cancel   context.CancelFunc
	opts     browser.LaunchOptions
	logger   *zap.Logger
	pages    []*rod.Page
}

// NewPage opens a stealth tab with the session's viewport and user agent.
func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	p, err := stealth.Page(s.browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("open tab: %w", err)
	}
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		err = p.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
			Width:             s.opts.ViewportWidth,
			Height:            s.opts.ViewportHeight,
			DeviceScaleFactor: 1,
		})
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set viewport: %w", err)
		}
	}
	if s.opts.UserAgent != "" {
		if err := p.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: s.opts.UserAgent}); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("set user agent: %w", err)
		}
	}
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return &page{page: p}, nil
}

// Close closes the browser and removes the launcher's profile directory. A
// remote browser is left running; only this session's tabs are closed.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer s.cancel()
	if s.launcher == nil {
		for _, p := range s.pages {
			if err := p.Close(); err != nil {
				s.logger.Debug("close tab", zap.Error(err))
			}
		}
		s.pages = nil
		return nil
	}
	err := s.browser.Close()
	s.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type page struct {
	page *rod.Page
}

func (p *page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	pg := p.page.Context(ctx)
	if err := pg.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := pg.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	if opts.WaitUntil == browser.WaitNetworkIdle {
		idle := opts.Timeout
		if idle <= 0 {
			idle = 30 * time.Second
		}
		if err := pg.WaitIdle(idle); err != nil {
			return fmt.Errorf("wait idle %s: %w", url, err)
		}
	}
	return nil
}

func (p *page) Query(ctx context.Context, selector string) (browser.Element, error) {
	found, el, err := p.page.Context(ctx).Has(selector)
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if !found {
		return nil, nil
	}
	return &element{el: el}, nil
}

func (p *page) Keyboard() browser.Keyboard {
	return keyboard{page: p.page}
}

func (p *page) Content(ctx context.Context) (string, error) {
	html, err := p.page.Context(ctx).HTML()
	if err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	buf, err := p.page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

type element struct {
	el *rod.Element
}

func (e *element) Focus(ctx context.Context) error {
	return e.el.Context(ctx).Focus()
}

// Click calls the node's click() method in page context.
func (e *element) Click(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(`() => this.click()`); err != nil {
		return fmt.Errorf("click: %w", err)
	}
	return nil
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	v, err := e.el.Context(ctx).Attribute(name)
	if err != nil {
		return "", false, fmt.Errorf("get attribute %s: %w", name, err)
	}
	if v == nil {
		return "", false, nil
	}
	return *v, true, nil
}

type keyboard struct {
	page *rod.Page
}

// Type sends text as key presses one rune at a time, pausing delay between
// them. Runes outside rod's US key table are inserted without key events.
func (k keyboard) Type(ctx context.Context, text string, delay time.Duration) error {
	pg := k.page.Context(ctx)
	for _, r := range text {
		var err error
		if key, ok := keyFor(r); ok {
			err = pg.Keyboard.Type(key)
		} else {
			err = pg.InsertText(string(r))
		}
		if err != nil {
			return fmt.Errorf("type: %w", err)
		}
		if delay <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return nil
}

// keyFor maps printable ASCII onto rod's key table.
func keyFor(r rune) (input.Key, bool) {
	if r < ' ' || r > '~' {
		return 0, false
	}
	return input.Key(r), true
}

var namedKeys = map[string]input.Key{
	"Enter":  input.Enter,
	"Tab":    input.Tab,
	"Escape": input.Escape,
}

func (k keyboard) Press(ctx context.Context, key string) error {
	in, ok := namedKeys[key]
	if !ok {
		return fmt.Errorf("press %s: %w", key, browser.ErrUnsupported)
	}
	if err := k.page.Context(ctx).Keyboard.Type(in); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}
