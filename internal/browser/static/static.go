// Package static implements browser.Launcher without a rendering engine.
//
// Pages are fetched with colly and held as goquery documents. Typing edits the
// focused input's value attribute, and submitting a form (Enter or a submit
// control) issues the request a browser would send. Scripts never run, so the
// backend suits server-rendered search pages and tests.
package static

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
)

const defaultTimeout = 30 * time.Second

// ErrNoDocument is returned by page operations before the first navigation.
var ErrNoDocument = errors.New("static: no document loaded")

// Config controls collector behavior.
type Config struct {
	UserAgent string
	// Transport overrides the HTTP transport; nil uses a pooled default.
	Transport http.RoundTripper
}

// Launcher implements browser.Launcher using the colly collector.
type Launcher struct {
	cfg Config
}

// New builds a Launcher.
func New(cfg Config) *Launcher {
	return &Launcher{cfg: cfg}
}

// Launch creates a session with its own cookie jar.
func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("static launch canceled: %w", err)
	}
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit(), colly.IgnoreRobotsTxt())
	transport := l.cfg.Transport
	if transport == nil {
		transport = newHTTPTransport()
	}
	c.WithTransport(transport)
	ua := opts.UserAgent
	if ua == "" {
		ua = l.cfg.UserAgent
	}
	if ua != "" {
		c.UserAgent = ua
	}
	return &session{base: c}, nil
}

type session struct {
	mu     sync.Mutex
	base   *colly.Collector
	closed bool
}

func (s *session) NewPage(ctx context.Context) (browser.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errors.New("static: session closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &page{session: s}, nil
}

func (s *session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type page struct {
	session *session
	timeout time.Duration
	url     *url.URL
	doc     *goquery.Document
	focused *html.Node
}

func (p *page) Navigate(ctx context.Context, rawURL string, opts browser.NavigateOptions) error {
	if opts.Timeout > 0 {
		p.timeout = opts.Timeout
	}
	return p.request(ctx, http.MethodGet, rawURL, nil)
}

// request loads target into the page, replacing the current document.
func (p *page) request(ctx context.Context, method, target string, form map[string]string) error {
	timeout := p.timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	collector := p.session.base.Clone()
	collector.Context = ctx
	collector.SetRequestTimeout(timeout)

	var (
		body     []byte
		finalURL *url.URL
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		body = append([]byte(nil), r.Body...)
		finalURL = r.Request.URL
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		if method == http.MethodPost {
			done <- collector.Post(target, form)
			return
		}
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("navigate %s: %w", target, ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("navigate %s: %w", target, err)
		}
		if fetchErr != nil {
			return fmt.Errorf("navigate %s: %w", target, fetchErr)
		}
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return fmt.Errorf("parse %s: %w", target, err)
	}
	p.doc = doc
	p.url = finalURL
	p.focused = nil
	return nil
}

func (p *page) Query(ctx context.Context, selector string) (browser.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.doc == nil {
		return nil, ErrNoDocument
	}
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("compile selector %q: %w", selector, err)
	}
	match := p.doc.FindMatcher(sel).First()
	if match.Length() == 0 {
		return nil, nil
	}
	return &element{page: p, node: match.Get(0)}, nil
}

func (p *page) Keyboard() browser.Keyboard {
	return keyboard{page: p}
}

func (p *page) Content(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if p.doc == nil {
		return "", ErrNoDocument
	}
	out, err := p.doc.Html()
	if err != nil {
		return "", fmt.Errorf("serialize document: %w", err)
	}
	return out, nil
}

func (p *page) Screenshot(context.Context) ([]byte, error) {
	return nil, browser.ErrUnsupported
}

// submit sends form the way a browser would, including submitter's name and
// value when it has one.
func (p *page) submit(ctx context.Context, form, submitter *html.Node) error {
	action := attr(form, "action")
	target := p.url
	if action != "" {
		ref, err := url.Parse(action)
		if err != nil {
			return fmt.Errorf("parse form action %q: %w", action, err)
		}
		target = p.url.ResolveReference(ref)
	}
	values := formValues(form, submitter)

	if strings.EqualFold(attr(form, "method"), http.MethodPost) {
		flat := make(map[string]string, len(values))
		for k, v := range values {
			flat[k] = v[len(v)-1]
		}
		return p.request(ctx, http.MethodPost, target.String(), flat)
	}
	next := *target
	next.RawQuery = values.Encode()
	next.Fragment = ""
	return p.request(ctx, http.MethodGet, next.String(), nil)
}

type element struct {
	page *page
	node *html.Node
}

func (e *element) Focus(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.page.focused = e.node
	return nil
}

// Click activates links and submit controls. Other elements are inert
// without scripts.
func (e *element) Click(ctx context.Context) error {
	n := e.node
	switch {
	case n.Data == "a":
		href, ok := attrOK(n, "href")
		if !ok || href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return nil
		}
		ref, err := url.Parse(href)
		if err != nil {
			return fmt.Errorf("parse href %q: %w", href, err)
		}
		return e.page.request(ctx, http.MethodGet, e.page.url.ResolveReference(ref).String(), nil)
	case isSubmitControl(n):
		form := owningForm(n)
		if form == nil {
			return nil
		}
		return e.page.submit(ctx, form, n)
	default:
		return nil
	}
}

func (e *element) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	v, ok := attrOK(e.node, name)
	return v, ok, nil
}

type keyboard struct {
	page *page
}

// Type appends text to the focused field's value. Per-key delay has no
// observable effect without scripts and is ignored.
func (k keyboard) Type(ctx context.Context, text string, _ time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n := k.page.focused
	if n == nil {
		return errors.New("static: no focused element")
	}
	switch n.Data {
	case "textarea":
		n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	case "input":
		setAttr(n, "value", attr(n, "value")+text)
	default:
		return fmt.Errorf("static: cannot type into <%s>", n.Data)
	}
	return nil
}

// Press handles Enter, which submits the focused field's form. Other keys are
// ignored.
func (k keyboard) Press(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if key != "Enter" {
		return nil
	}
	n := k.page.focused
	if n == nil || n.Data != "input" {
		return nil
	}
	form := owningForm(n)
	if form == nil {
		return nil
	}
	return k.page.submit(ctx, form, nil)
}

func isSubmitControl(n *html.Node) bool {
	switch n.Data {
	case "button":
		t := strings.ToLower(attr(n, "type"))
		return t == "" || t == "submit"
	case "input":
		t := strings.ToLower(attr(n, "type"))
		return t == "submit" || t == "image"
	}
	return false
}

func owningForm(n *html.Node) *html.Node {
	for p := n.Parent; p != nil; p = p.Parent {
		if p.Type == html.ElementNode && p.Data == "form" {
			return p
		}
	}
	return nil
}

// formValues collects successful controls in tree order.
func formValues(form, submitter *html.Node) url.Values {
	values := url.Values{}
	goquery.NewDocumentFromNode(form).Find("input, select, textarea, button").Each(func(_ int, s *goquery.Selection) {
		n := s.Get(0)
		name := attr(n, "name")
		if name == "" {
			return
		}
		if _, disabled := attrOK(n, "disabled"); disabled {
			return
		}
		switch n.Data {
		case "button":
			if n == submitter {
				values.Add(name, attr(n, "value"))
			}
		case "textarea":
			values.Add(name, s.Text())
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() == 0 {
				return
			}
			if v, ok := attrOK(opt.Get(0), "value"); ok {
				values.Add(name, v)
			} else {
				values.Add(name, strings.TrimSpace(opt.Text()))
			}
		case "input":
			switch strings.ToLower(attr(n, "type")) {
			case "submit", "image":
				if n == submitter {
					values.Add(name, attr(n, "value"))
				}
			case "button", "reset", "file":
			case "checkbox", "radio":
				if _, checked := attrOK(n, "checked"); checked {
					v, ok := attrOK(n, "value")
					if !ok {
						v = "on"
					}
					values.Add(name, v)
				}
			default:
				values.Add(name, attr(n, "value"))
			}
		}
	})
	return values
}

func attr(n *html.Node, name string) string {
	v, _ := attrOK(n, name)
	return v
}

func attrOK(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && strings.EqualFold(a.Key, name) {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
