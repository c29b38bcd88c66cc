// Package chromedpbrowser implements browser.Launcher on top of chromedp and
// a local or remote Chrome.
package chromedpbrowser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/dom"
	"github.com/chromedp/cdproto/emulation"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

// screenshotQuality of 100 makes chromedp emit PNG.
const screenshotQuality = 100

// Launcher starts Chrome processes, or attaches to a running one when
// LaunchOptions.RemoteURL is set.
type Launcher struct {
	logger *zap.Logger
}

// New creates a chromedp-backed launcher.
func New(logger *zap.Logger) *Launcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Launcher{logger: logger}
}

// Launch starts the browser and verifies it is reachable.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	var (
		allocCtx    context.Context
		allocCancel context.CancelFunc
	)
	if opts.RemoteURL != "" {
		allocCtx, allocCancel = chromedp.NewRemoteAllocator(context.Background(), opts.RemoteURL)
	} else {
		allocCtx, allocCancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(opts)...)
	}
	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(l.logger.Sugar().Debugf),
		chromedp.WithErrorf(l.logger.Sugar().Debugf),
	)

	stop := browser.ForwardCancel(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &session{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
		opts:        opts,
	}, nil
}

func allocatorOptions(opts browser.LaunchOptions) []chromedp.ExecAllocatorOption {
	out := append([]chromedp.ExecAllocatorOption(nil), chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.Headless {
		out = append(out, chromedp.Flag("headless", "new"))
	} else {
		out = append(out, chromedp.Flag("headless", false))
	}
	out = append(out,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	for _, f := range opts.Flags {
		name, value, hasValue := strings.Cut(strings.TrimLeft(f, "-"), "=")
		if hasValue {
			out = append(out, chromedp.Flag(name, value))
		} else {
			out = append(out, chromedp.Flag(name, true))
		}
	}
	if opts.ExecPath != "" {
		out = append(out, chromedp.ExecPath(opts.ExecPath))
	}
	if opts.UserAgent != "" {
		out = append(out, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ViewportWidth > 0 && opts.ViewportHeight > 0 {
		out = append(out, chromedp.WindowSize(opts.ViewportWidth, opts.ViewportHeight))
	}
	return out
}

type session struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc
	opts        browser.LaunchOptions

	mu    sync.Mutex
	pages []*page
}

// NewPage opens a tab sized to the configured viewport. The tab lives until
// the session is closed.
func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	tabCtx, tabCancel := chromedp.NewContext(s.ctx)
	p := &page{ctx: tabCtx, cancel: tabCancel}

	actions := []chromedp.Action{}
	if s.opts.ViewportWidth > 0 && s.opts.ViewportHeight > 0 {
		actions = append(actions, chromedp.EmulateViewport(int64(s.opts.ViewportWidth), int64(s.opts.ViewportHeight)))
	}
	if s.opts.UserAgent != "" && s.opts.RemoteURL != "" {
		actions = append(actions, emulation.SetUserAgentOverride(s.opts.UserAgent))
	}
	if err := p.run(ctx, actions...); err != nil {
		tabCancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	s.mu.Lock()
	s.pages = append(s.pages, p)
	s.mu.Unlock()
	return p, nil
}

// Close shuts the browser down and releases the allocator.
func (s *session) Close() error {
	s.mu.Lock()
	pages := s.pages
	s.pages = nil
	s.mu.Unlock()
	for _, p := range pages {
		p.cancel()
	}
	err := chromedp.Cancel(s.ctx)
	s.cancel()
	s.allocCancel()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("close chrome: %w", err)
	}
	return nil
}

type page struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// run executes actions on the tab, honoring the caller's cancellation and
// deadline without tearing the tab down.
func (p *page) run(ctx context.Context, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(p.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := browser.ForwardCancel(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	var err error
	if opts.WaitUntil == browser.WaitNetworkIdle {
		err = p.navigateNetworkIdle(ctx, url)
	} else {
		err = p.run(ctx, chromedp.Navigate(url))
	}
	if err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// navigateNetworkIdle loads url and waits for Chrome's networkAlmostIdle
// lifecycle milestone (at most two open connections for 500ms) on the new
// top-level document.
func (p *page) navigateNetworkIdle(ctx context.Context, url string) error {
	var (
		mu     sync.Mutex
		top    cdp.FrameID
		loader cdp.LoaderID
		once   sync.Once
		idle   = make(chan struct{})
	)
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	// Lifecycle events replayed on enable arrive before the frame tree
	// reply, while top is still unset, and are ignored.
	chromedp.ListenTarget(listenCtx, func(ev any) {
		e, ok := ev.(*cdppage.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if top == "" || e.FrameID != top {
			return
		}
		switch e.Name {
		case "init":
			loader = e.LoaderID
		case "networkAlmostIdle":
			if loader != "" && e.LoaderID == loader {
				once.Do(func() { close(idle) })
			}
		}
	})

	err := p.run(ctx,
		cdppage.SetLifecycleEventsEnabled(true),
		chromedp.ActionFunc(func(ctx context.Context) error {
			tree, err := cdppage.GetFrameTree().Do(ctx)
			if err != nil {
				return fmt.Errorf("get frame tree: %w", err)
			}
			mu.Lock()
			top = tree.Frame.ID
			mu.Unlock()
			return nil
		}),
		chromedp.Navigate(url),
	)
	if err != nil {
		return err
	}
	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for network idle: %w", ctx.Err())
	}
}

func (p *page) Query(ctx context.Context, selector string) (browser.Element, error) {
	var id cdp.NodeID
	err := p.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		root, err := dom.GetDocument().WithDepth(0).Do(ctx)
		if err != nil {
			return fmt.Errorf("get document: %w", err)
		}
		id, err = dom.QuerySelector(root.NodeID, selector).Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("query %q: %w", selector, err)
	}
	if id == 0 {
		return nil, nil
	}
	return &element{page: p, id: id}, nil
}

func (p *page) Keyboard() browser.Keyboard {
	return keyboard{page: p}
}

func (p *page) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("read document: %w", err)
	}
	return html, nil
}

func (p *page) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	if err := p.run(ctx, chromedp.FullScreenshot(&buf, screenshotQuality)); err != nil {
		return nil, fmt.Errorf("capture screenshot: %w", err)
	}
	return buf, nil
}

type element struct {
	page *page
	id   cdp.NodeID
}

func (e *element) Focus(ctx context.Context) error {
	return e.page.run(ctx, dom.Focus().WithNodeID(e.id))
}

// Click calls the node's click() method in page context.
func (e *element) Click(ctx context.Context) error {
	return e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		obj, err := dom.ResolveNode().WithNodeID(e.id).Do(ctx)
		if err != nil {
			return fmt.Errorf("resolve node: %w", err)
		}
		_, exc, err := runtime.CallFunctionOn(`function() { this.click(); }`).
			WithObjectID(obj.ObjectID).
			WithUserGesture(true).
			Do(ctx)
		if err != nil {
			return fmt.Errorf("click: %w", err)
		}
		if exc != nil {
			return fmt.Errorf("click: %s", exc.Text)
		}
		return nil
	}))
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	var attrs []string
	err := e.page.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		attrs, err = dom.GetAttributes(e.id).Do(ctx)
		return err
	}))
	if err != nil {
		return "", false, fmt.Errorf("get attributes: %w", err)
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		if strings.EqualFold(attrs[i], name) {
			return attrs[i+1], true, nil
		}
	}
	return "", false, nil
}

type keyboard struct {
	page *page
}

// Type sends one key event per rune, pausing delay between them.
func (k keyboard) Type(ctx context.Context, text string, delay time.Duration) error {
	for _, r := range text {
		if err := k.page.run(ctx, chromedp.KeyEvent(string(r))); err != nil {
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

var namedKeys = map[string]string{
	"Enter":  kb.Enter,
	"Tab":    kb.Tab,
	"Escape": kb.Escape,
}

func (k keyboard) Press(ctx context.Context, key string) error {
	seq, ok := namedKeys[key]
	if !ok {
		seq = key
	}
	if err := k.page.run(ctx, chromedp.KeyEvent(seq)); err != nil {
		return fmt.Errorf("press %s: %w", key, err)
	}
	return nil
}
