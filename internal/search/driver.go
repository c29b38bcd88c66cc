// Package search drives a browser through a hospital find-a-doctor form:
// launch, navigate with retry, fill and submit the form, walk the result
// pages, and classify what was found.
//
// The flow is a fixed sequence of states (launching, navigating, filling,
// submitting, extracting, paginating, analyzing) with a terminal failure
// reachable from each. Every transition is reported to a progress.Reporter.
package search

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/browser"
	"github.com/JakeFAU/findadoc-tester/internal/classifier"
	"github.com/JakeFAU/findadoc-tester/internal/extract"
	"github.com/JakeFAU/findadoc-tester/internal/hash/sha256"
	"github.com/JakeFAU/findadoc-tester/internal/logging"
	"github.com/JakeFAU/findadoc-tester/internal/metrics"
	"github.com/JakeFAU/findadoc-tester/internal/policy/ratelimit"
	"github.com/JakeFAU/findadoc-tester/internal/progress"
	"github.com/JakeFAU/findadoc-tester/internal/provider"
	"github.com/JakeFAU/findadoc-tester/internal/selector"
	"github.com/JakeFAU/findadoc-tester/internal/specialty"
	"github.com/JakeFAU/findadoc-tester/internal/storage"
	"github.com/JakeFAU/findadoc-tester/internal/telemetry"
)

const tracerName = "github.com/JakeFAU/findadoc-tester/internal/search"

// EmptyWarning accompanies a result with no extracted providers.
const EmptyWarning = "No providers were found. The search may have returned no results, " +
	"the page structure may have changed, or the results may not have finished loading."

// Limiter paces navigations per host.
type Limiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Clock supplies timestamps for artifact paths.
type Clock interface {
	Now() time.Time
}

// Hasher fingerprints result pages so a next-page click that changes nothing
// is detected.
type Hasher interface {
	Hash(content string) string
}

// Deps are the collaborators a Driver needs. Only Launcher is required.
type Deps struct {
	Launcher  browser.Launcher
	Resolver  *selector.Resolver
	Limiter   Limiter
	Artifacts storage.ArtifactStore
	Clock     Clock
	// Sleep implements settle delays and backoff; tests swap it out.
	Sleep  func(ctx context.Context, d time.Duration) error
	Hasher Hasher
	Tracer trace.Tracer
	Logger *zap.Logger
}

// Request is one search to run.
type Request struct {
	SessionID string
	Specialty specialty.Config
	ZipCode   string
}

// Driver runs searches. It holds no per-run state and is safe for concurrent
// use; each Run owns its own browser session.
type Driver struct {
	cfg       Config
	launcher  browser.Launcher
	resolver  *selector.Resolver
	limiter   Limiter
	artifacts storage.ArtifactStore
	clock     Clock
	sleep     func(ctx context.Context, d time.Duration) error
	hasher    Hasher
	tracer    trace.Tracer
	logger    *zap.Logger
}

// New validates cfg and wires a Driver.
func New(cfg Config, deps Deps) (*Driver, error) {
	if deps.Launcher == nil {
		return nil, errors.New("search: launcher is required")
	}
	if strings.TrimSpace(cfg.TargetURL) == "" {
		return nil, errors.New("search: target url is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := deps.Resolver
	if resolver == nil {
		resolver = selector.NewResolver(selector.Defaults(), logger)
	}
	clock := deps.Clock
	if clock == nil {
		clock = utcClock{}
	}
	sleep := deps.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	var hasher Hasher = sha256.New()
	if deps.Hasher != nil {
		hasher = deps.Hasher
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Driver{
		cfg:       cfg.withDefaults(),
		launcher:  deps.Launcher,
		resolver:  resolver,
		limiter:   deps.Limiter,
		artifacts: deps.Artifacts,
		clock:     clock,
		sleep:     sleep,
		hasher:    hasher,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

// TotalSteps is the step count announced to progress listeners.
func (d *Driver) TotalSteps() int {
	return TotalSteps(d.cfg.MaxPages)
}

// Run performs one search and classifies the providers found. On failure no
// partial result is returned. reporter may be nil. A panic inside the search
// is returned as an error and reported as a failure.
func (d *Driver) Run(ctx context.Context, req Request, reporter progress.Reporter) (provider.Result, error) {
	if reporter == nil {
		reporter = progress.Discard
	}
	logger := logging.ForSession(d.logger, req.SessionID, req.Specialty.Name, req.ZipCode)
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "search.run", trace.WithAttributes(
		attribute.String("session.id", req.SessionID),
		attribute.String("search.specialty", req.Specialty.Name),
		attribute.String("search.zip_code", req.ZipCode),
		attribute.String("search.target", d.cfg.TargetURL),
	))

	result, err := d.runGuarded(ctx, req, reporter, logger)
	metrics.ObserveRun(req.Specialty.Name, outcome(result, err), time.Since(start))
	if err != nil {
		telemetry.End(span, err)
		logger.Warn("search failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		reporter.Fail(err)
		return provider.Result{}, err
	}
	span.SetAttributes(
		attribute.Int("search.total", result.Total),
		attribute.Int("search.relevant", result.Relevant),
		attribute.Float64("search.accuracy", result.Accuracy),
	)
	telemetry.End(span, nil)

	metrics.ObserveProviders(req.Specialty.Name, result.Relevant, result.Irrelevant, result.Accuracy)
	logger.Info("search complete",
		zap.Int("total", result.Total),
		zap.Int("relevant", result.Relevant),
		zap.Float64("accuracy", result.Accuracy),
		zap.Duration("elapsed", time.Since(start)),
	)
	reporter.Done(fmt.Sprintf("Search complete: %d providers, %d relevant (%.1f%%)",
		result.Total, result.Relevant, result.Accuracy))
	return result, nil
}

func (d *Driver) runGuarded(ctx context.Context, req Request, reporter progress.Reporter, logger *zap.Logger) (result provider.Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("search panicked", zap.Any("panic", rec), zap.Stack("stack"))
			result, err = provider.Result{}, fmt.Errorf("search aborted: %v", rec)
		}
	}()
	return d.run(ctx, req, reporter, logger)
}

func (d *Driver) run(ctx context.Context, req Request, reporter progress.Reporter, logger *zap.Logger) (provider.Result, error) {
	reporter.Step(progress.StageLaunching, "Launching browser")
	sess, err := d.launch(ctx)
	if err != nil {
		return provider.Result{}, err
	}
	defer func() {
		if closeErr := sess.Close(); closeErr != nil {
			logger.Warn("failed to close browser", zap.Error(closeErr))
		}
	}()

	page, err := sess.NewPage(ctx)
	if err != nil {
		return provider.Result{}, fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	if err := d.navigate(ctx, page, reporter, logger); err != nil {
		return provider.Result{}, err
	}
	if err := d.pause(ctx, d.cfg.PostNavSettle); err != nil {
		return provider.Result{}, err
	}
	if err := d.fill(ctx, page, req, reporter, logger); err != nil {
		return provider.Result{}, err
	}
	if err := d.submit(ctx, page, reporter, logger); err != nil {
		return provider.Result{}, err
	}
	records, err := d.collect(ctx, page, reporter, logger)
	if err != nil {
		return provider.Result{}, err
	}

	reporter.Step(progress.StageAnalyzing, fmt.Sprintf("Analyzing %d providers", len(records)))
	ctx, span := d.tracer.Start(ctx, "search.analyze", trace.WithAttributes(attribute.Int("search.records", len(records))))
	defer span.End()
	result := classifier.Classify(records, req.Specialty.Terms)
	if result.Total == 0 {
		result.Warning = EmptyWarning
	}
	d.captureScreenshot(ctx, page, req.SessionID, logger)
	return result, nil
}

func (d *Driver) launch(ctx context.Context) (_ browser.Session, err error) {
	ctx, span := d.tracer.Start(ctx, "search.launch")
	defer func() { telemetry.End(span, err) }()
	launchCtx := ctx
	if d.cfg.LaunchTimeout > 0 {
		var cancel context.CancelFunc
		launchCtx, cancel = context.WithTimeout(ctx, d.cfg.LaunchTimeout)
		defer cancel()
	}
	sess, err := d.launcher.Launch(launchCtx, d.cfg.Launch)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLaunch, err)
	}
	return sess, nil
}

// navigate loads the target page, retrying with a fixed backoff.
func (d *Driver) navigate(ctx context.Context, page browser.Page, reporter progress.Reporter, logger *zap.Logger) (err error) {
	ctx, span := d.tracer.Start(ctx, "search.navigate", trace.WithAttributes(attribute.String("url.full", d.cfg.TargetURL)))
	defer func() { telemetry.End(span, err) }()
	reporter.Step(progress.StageNavigating, "Loading search page")
	host := ratelimit.Host(d.cfg.TargetURL)
	opts := browser.NavigateOptions{WaitUntil: d.cfg.WaitUntil, Timeout: d.cfg.NavTimeout}

	var lastErr error
	for attempt := 1; attempt <= d.cfg.NavAttempts; attempt++ {
		if attempt > 1 {
			if err := d.pause(ctx, d.cfg.NavBackoff); err != nil {
				return err
			}
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx, d.cfg.TargetURL); err != nil {
				return fmt.Errorf("wait for navigation slot: %w", err)
			}
		}
		err := page.Navigate(ctx, d.cfg.TargetURL, opts)
		metrics.ObserveNavigationAttempt(host, err)
		span.AddEvent("navigation attempt", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.Bool("ok", err == nil),
		))
		if err == nil {
			logger.Debug("search page loaded", zap.String("url", d.cfg.TargetURL), zap.Int("attempt", attempt))
			return nil
		}
		lastErr = err
		logger.Warn("navigation attempt failed",
			zap.String("url", d.cfg.TargetURL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.cfg.NavAttempts),
			zap.Error(err),
		)
		if ctx.Err() != nil {
			return fmt.Errorf("navigate: %w", ctx.Err())
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrNavigationExhausted, d.cfg.NavAttempts, lastErr)
}

func (d *Driver) fill(ctx context.Context, page browser.Page, req Request, reporter progress.Reporter, logger *zap.Logger) (err error) {
	ctx, span := d.tracer.Start(ctx, "search.fill")
	defer func() { telemetry.End(span, err) }()
	input, sel := d.resolver.Find(ctx, page, selector.RoleSpecialtyInput)
	if input == nil {
		return ErrRequiredFieldNotFound
	}
	logger.Debug("found specialty input", zap.String("selector", sel))
	reporter.Step(progress.StageFilling, "Entering specialty: "+req.Specialty.Name)
	if err := d.typeInto(ctx, page, input, req.Specialty.Name); err != nil {
		return fmt.Errorf("enter specialty: %w", err)
	}

	if req.ZipCode == "" {
		return nil
	}
	zip, sel := d.resolver.Find(ctx, page, selector.RoleZipInput)
	if zip == nil {
		logger.Info("zip code field not found, continuing without it")
		reporter.Step(progress.StageFilling, "ZIP code field not found, continuing")
		return nil
	}
	logger.Debug("found zip input", zap.String("selector", sel))
	reporter.Step(progress.StageFilling, "Entering ZIP code: "+req.ZipCode)
	if err := d.typeInto(ctx, page, zip, req.ZipCode); err != nil {
		return fmt.Errorf("enter zip code: %w", err)
	}
	return nil
}

func (d *Driver) typeInto(ctx context.Context, page browser.Page, el browser.Element, text string) error {
	if err := el.Focus(ctx); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	if err := page.Keyboard().Type(ctx, text, d.cfg.TypeDelay); err != nil {
		return err
	}
	return d.pause(ctx, d.cfg.FieldSettle)
}

// submit clicks the search button, or presses Enter in the focused field
// when no button can be found.
func (d *Driver) submit(ctx context.Context, page browser.Page, reporter progress.Reporter, logger *zap.Logger) (err error) {
	ctx, span := d.tracer.Start(ctx, "search.submit")
	defer func() { telemetry.End(span, err) }()
	button, sel := d.resolver.Find(ctx, page, selector.RoleSubmitButton)
	if button != nil {
		logger.Debug("found search button", zap.String("selector", sel))
		reporter.Step(progress.StageSubmitting, "Submitting search")
		if err := button.Click(ctx); err != nil {
			return fmt.Errorf("click search button: %w", err)
		}
	} else {
		logger.Info("search button not found, pressing enter")
		reporter.Step(progress.StageSubmitting, "Search button not found, pressing Enter")
		if err := page.Keyboard().Press(ctx, "Enter"); err != nil {
			return fmt.Errorf("press enter: %w", err)
		}
	}
	return d.pause(ctx, d.cfg.SubmitSettle)
}

// collect extracts every result page up to MaxPages. Pagination stops when
// a next-page click leaves the page content unchanged.
func (d *Driver) collect(ctx context.Context, page browser.Page, reporter progress.Reporter, logger *zap.Logger) (_ []provider.Record, err error) {
	ctx, span := d.tracer.Start(ctx, "search.collect")
	defer func() { telemetry.End(span, err) }()

	var (
		records []provider.Record
		prev    string
	)
	for n := 1; ; n++ {
		html, err := page.Content(ctx)
		if err != nil {
			return nil, fmt.Errorf("read results page %d: %w", n, err)
		}
		digest := d.hasher.Hash(html)
		if n > 1 && digest == prev {
			logger.Warn("results page unchanged after next click, stopping pagination", zap.Int("page", n))
			span.AddEvent("pagination stalled", trace.WithAttributes(attribute.Int("page", n)))
			break
		}
		prev = digest

		reporter.Step(progress.StageExtracting, fmt.Sprintf("Extracting providers from page %d", n))
		found, err := extract.Providers(html, d.cfg.Extract)
		if err != nil {
			return nil, fmt.Errorf("extract results page %d: %w", n, err)
		}
		records = append(records, found...)
		logger.Info("extracted providers", zap.Int("page", n), zap.Int("count", len(found)))
		span.AddEvent("results page", trace.WithAttributes(
			attribute.Int("page", n),
			attribute.Int("providers", len(found)),
		))

		if n >= d.cfg.MaxPages {
			break
		}
		next := d.nextPage(ctx, page, logger)
		if next == nil {
			break
		}
		reporter.Step(progress.StagePaginating, fmt.Sprintf("Loading results page %d", n+1))
		if err := next.Click(ctx); err != nil {
			logger.Warn("next page click failed, stopping pagination", zap.Error(err))
			break
		}
		if err := d.pause(ctx, d.cfg.PageSettle); err != nil {
			return nil, err
		}
	}
	return records, nil
}

// nextPage returns the next-page control, or nil when it is missing or
// disabled.
func (d *Driver) nextPage(ctx context.Context, page browser.Page, logger *zap.Logger) browser.Element {
	next, sel := d.resolver.Find(ctx, page, selector.RoleNextPage)
	if next == nil {
		return nil
	}
	if isDisabled(ctx, next) {
		logger.Debug("next page control is disabled", zap.String("selector", sel))
		return nil
	}
	return next
}

func isDisabled(ctx context.Context, el browser.Element) bool {
	if _, ok, err := el.Attribute(ctx, "disabled"); err == nil && ok {
		return true
	}
	if class, ok, err := el.Attribute(ctx, "class"); err == nil && ok &&
		strings.Contains(strings.ToLower(class), "disabled") {
		return true
	}
	if aria, ok, err := el.Attribute(ctx, "aria-disabled"); err == nil && ok &&
		strings.EqualFold(strings.TrimSpace(aria), "true") {
		return true
	}
	return false
}

// captureScreenshot stores a full-page PNG of the final results page. It
// never fails the run.
func (d *Driver) captureScreenshot(ctx context.Context, page browser.Page, sessionID string, logger *zap.Logger) {
	if d.artifacts == nil {
		return
	}
	shot, err := page.Screenshot(ctx)
	if err != nil {
		if errors.Is(err, browser.ErrUnsupported) {
			logger.Debug("screenshot not supported by browser backend")
		} else {
			logger.Warn("failed to capture screenshot", zap.Error(err))
		}
		return
	}
	path := storage.ScreenshotPath(d.cfg.ScreenshotPrefix, sessionID, d.clock.Now())
	uri, err := d.artifacts.PutObject(ctx, path, "image/png", bytes.NewReader(shot))
	if err != nil {
		logger.Warn("failed to store screenshot", zap.String("path", path), zap.Error(err))
		return
	}
	logger.Info("saved debug screenshot", zap.String("uri", uri))
}

func (d *Driver) pause(ctx context.Context, dur time.Duration) error {
	if dur <= 0 {
		return nil
	}
	if err := d.sleep(ctx, dur); err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	return nil
}

func outcome(result provider.Result, err error) string {
	switch {
	case errors.Is(err, ErrLaunch):
		return metrics.OutcomeLaunchFailed
	case errors.Is(err, ErrNavigationExhausted):
		return metrics.OutcomeNavigationFailed
	case errors.Is(err, ErrRequiredFieldNotFound):
		return metrics.OutcomeFieldNotFound
	case err != nil:
		return metrics.OutcomeError
	case result.Total == 0:
		return metrics.OutcomeEmpty
	default:
		return metrics.OutcomeSuccess
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }
