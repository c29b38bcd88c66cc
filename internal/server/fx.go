// Package server builds the application's dependencies from configuration
// and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/api"
	"github.com/JakeFAU/findadoc-tester/internal/browser"
	chromedpbrowser "github.com/JakeFAU/findadoc-tester/internal/browser/chromedp"
	rodbrowser "github.com/JakeFAU/findadoc-tester/internal/browser/rod"
	"github.com/JakeFAU/findadoc-tester/internal/browser/static"
	"github.com/JakeFAU/findadoc-tester/internal/clock/system"
	"github.com/JakeFAU/findadoc-tester/internal/config"
	"github.com/JakeFAU/findadoc-tester/internal/id/uuid"
	"github.com/JakeFAU/findadoc-tester/internal/logging"
	"github.com/JakeFAU/findadoc-tester/internal/metrics"
	"github.com/JakeFAU/findadoc-tester/internal/policy/ratelimit"
	"github.com/JakeFAU/findadoc-tester/internal/progress"
	progresssinks "github.com/JakeFAU/findadoc-tester/internal/progress/sinks"
	"github.com/JakeFAU/findadoc-tester/internal/provider"
	"github.com/JakeFAU/findadoc-tester/internal/publisher"
	gcppublisher "github.com/JakeFAU/findadoc-tester/internal/publisher/pubsub"
	"github.com/JakeFAU/findadoc-tester/internal/search"
	"github.com/JakeFAU/findadoc-tester/internal/selector"
	"github.com/JakeFAU/findadoc-tester/internal/specialty"
	storagepkg "github.com/JakeFAU/findadoc-tester/internal/storage"
	gcsstorage "github.com/JakeFAU/findadoc-tester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/findadoc-tester/internal/storage/local"
	memoryStorage "github.com/JakeFAU/findadoc-tester/internal/storage/memory"
	"github.com/JakeFAU/findadoc-tester/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg             *config.Config
	logger          *zap.Logger
	registerer      prometheus.Registerer
	apiServer       *api.Server
	driver          *search.Driver
	broker          *progress.Broker
	progressHub     *progress.Hub
	publisher       publisher.Publisher
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storage         *storage.Client
	artifacts       storagepkg.ArtifactStore
	idGen           *uuid.Generator
	clock           *system.Clock
	tracerProvider  *sdktrace.TracerProvider
}

// Option customizes Build.
type Option func(*App)

// WithLogger supplies the logger instead of building one from config.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithRegisterer registers progress collectors somewhere other than the
// default Prometheus registry.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(a *App) { a.registerer = reg }
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	type SanitizedConfig struct {
		ServerPort int    `json:"server_port"`
		Target     string `json:"target"`
		Backend    string `json:"backend"`
		Storage    string `json:"storage"`
	}
	logger.Info("Creating application", zap.Any("config", SanitizedConfig{
		ServerPort: cfg.Server.Port,
		Target:     cfg.Target.URL,
		Backend:    cfg.Browser.Backend,
		Storage:    cfg.Storage.Backend,
	}))
	return &App{
		cfg:        cfg,
		logger:     logger,
		registerer: prometheus.DefaultRegisterer,
		idGen:      uuid.New(),
		clock:      system.New(),
	}, nil
}

// Handler exposes the API router, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run starts the HTTP server and blocks until ctx is canceled or a
// termination signal arrives.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return closeErr
	}
}

// RunOnce performs a single search outside the HTTP server. Progress goes to
// the configured progress sinks under a fresh session id.
func (a *App) RunOnce(ctx context.Context, specialtyName, customTerms, zip string) (provider.Report, error) {
	cfg, err := specialty.Resolve(specialtyName, customTerms)
	if err != nil {
		metrics.ObserveRun(specialtyName, metrics.OutcomeInvalidSpecialty, 0)
		return provider.Report{}, err
	}
	sessionID, err := a.idGen.NewID()
	if err != nil {
		return provider.Report{}, err
	}
	session, err := a.broker.Open(sessionID, a.driver.TotalSteps())
	if err != nil {
		return provider.Report{}, err
	}
	result, err := a.driver.Run(ctx, search.Request{
		SessionID: sessionID,
		Specialty: cfg,
		ZipCode:   zip,
	}, session)
	if err != nil {
		return provider.Report{}, err
	}
	report := provider.Report{
		Success:     true,
		Specialty:   cfg.Name,
		Description: cfg.Description,
		ZipCode:     zip,
		Timestamp:   a.clock.Now(),
		Results:     result,
		SessionID:   sessionID,
	}
	if a.publisher != nil {
		if _, err := a.publisher.Publish(ctx, a.cfg.PubSub.TopicName, report.Summary()); err != nil {
			a.logger.Warn("publish run summary failed", zap.Error(err))
		}
	}
	return report, nil
}

// Close gracefully shuts down the application.
func (a *App) Close(ctx context.Context) error {
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
	return nil
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(ctx); err != nil {
			a.logger.Warn("tracer provider shutdown failed", zap.Error(err))
		}
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	opted := &App{}
	for _, opt := range opts {
		opt(opted)
	}
	logger := opted.logger
	if logger == nil {
		var err error
		logger, err = logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	for _, opt := range opts {
		opt(app)
	}
	if app.registerer == nil {
		app.registerer = prometheus.DefaultRegisterer
	}

	app.logger.Info("building application dependencies")
	if app.tracerProvider, err = telemetry.InitTracerProvider(ctx, cfg.Telemetry); err != nil {
		return nil, fmt.Errorf("telemetry init failed: %w", err)
	}
	if app.artifacts, err = setupStorage(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if app.publisher, err = setupPublisher(ctx, app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if err = setupProgress(app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}
	if app.driver, err = setupDriver(app); err != nil {
		app.closeInfrastructure(ctx)
		return nil, err
	}

	app.apiServer = api.NewServer(api.Deps{
		Runner:    app.driver,
		Broker:    app.broker,
		Publisher: app.publisher,
		Topic:     cfg.PubSub.TopicName,
		IDGen:     app.idGen,
		Clock:     app.clock,
		Logger:    logger.Named("api"),
	}, api.Options{
		StaticDir:      cfg.Server.StaticDir,
		RequestTimeout: cfg.Server.RequestTimeout(),
		TracerProvider: app.tracerProvider,
	})
	return app, nil
}

func setupStorage(ctx context.Context, app *App) (storagepkg.ArtifactStore, error) {
	switch app.cfg.Storage.Backend {
	case config.StorageGCS:
		app.logger.Info("using GCS storage backend")
		var err error
		app.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		blobStore, err := gcsstorage.New(app.storage, gcsstorage.Config{Bucket: app.cfg.Storage.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		app.logger.Debug("GCS storage backend", zap.String("bucket", app.cfg.Storage.GCSBucket))
		return blobStore, nil
	case config.StorageLocal:
		app.logger.Info("using local storage backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: app.cfg.Storage.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		app.logger.Debug("local storage backend", zap.String("path", app.cfg.Storage.BaseDir))
		return blobStore, nil
	case config.StorageMemory:
		app.logger.Info("using in-memory storage backend")
		return memoryStorage.NewBlobStore(), nil
	default:
		app.logger.Info("debug screenshots disabled")
		return nil, nil
	}
}

func setupPublisher(ctx context.Context, app *App) (publisher.Publisher, error) {
	if app.cfg.PubSub.TopicName == "" || app.cfg.PubSub.ProjectID == "" {
		app.logger.Warn("No Pub/Sub topic configured, run summaries will not be published")
		return nil, nil
	}
	var err error
	app.pubsubClient, err = pubsub.NewClient(ctx, app.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	app.pubsubPublisher = gcppublisher.New(app.pubsubClient.Topic(app.cfg.PubSub.TopicName))
	app.logger.Info(
		"Pub/Sub publisher initialized",
		zap.String("project", app.cfg.PubSub.ProjectID),
		zap.String("topic", app.cfg.PubSub.TopicName),
	)
	return app.pubsubPublisher, nil
}

func setupProgress(app *App) error {
	promSink, err := progresssinks.NewPrometheusSink(app.registerer)
	if err != nil {
		return fmt.Errorf("progress metrics init failed: %w", err)
	}
	hubCfg := app.cfg.Progress.Hub
	hubCfg.Logger = app.logger.Named("progress_hub")
	app.progressHub = progress.NewHub(hubCfg,
		progresssinks.NewLogSink(app.logger.Named("progress_log")),
		promSink,
	)
	app.broker = progress.NewBroker(progress.BrokerConfig{
		Retention: app.cfg.Progress.Retention(),
		Emitter:   app.progressHub,
		Clock:     app.clock,
		Logger:    app.logger.Named("progress"),
	})
	app.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch_events", hubCfg.MaxBatchEvents),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
		zap.Duration("sink_timeout", hubCfg.SinkTimeout),
		zap.Duration("retention", app.cfg.Progress.Retention()),
	)
	return nil
}

func setupLauncher(app *App) (browser.Launcher, error) {
	logger := app.logger.Named("browser")
	switch app.cfg.Browser.Backend {
	case config.BackendChromedp:
		app.logger.Info("using chromedp browser backend", zap.Bool("headless", app.cfg.Browser.Headless))
		return chromedpbrowser.New(logger), nil
	case config.BackendRod:
		app.logger.Info("using rod browser backend", zap.Bool("headless", app.cfg.Browser.Headless))
		return rodbrowser.New(logger), nil
	case config.BackendStatic:
		app.logger.Warn("using static browser backend; script-rendered pages will not work")
		return static.New(static.Config{UserAgent: app.cfg.Browser.UserAgent}), nil
	default:
		return nil, fmt.Errorf("unknown browser backend %q", app.cfg.Browser.Backend)
	}
}

func setupDriver(app *App) (*search.Driver, error) {
	launcher, err := setupLauncher(app)
	if err != nil {
		return nil, err
	}
	searchCfg := searchConfig(app.cfg)
	limiter := ratelimit.New(ratelimit.Config{
		RPS:     app.cfg.Search.NavigationQPS,
		Burst:   app.cfg.Search.NavigationBurst,
		OnDelay: metrics.ObserveNavigationWait,
	})
	app.logger.Info("search driver config",
		zap.String("target", searchCfg.TargetURL),
		zap.Int("nav_attempts", searchCfg.NavAttempts),
		zap.Duration("nav_timeout", searchCfg.NavTimeout),
		zap.Int("max_pages", searchCfg.MaxPages),
		zap.Float64("navigation_qps", app.cfg.Search.NavigationQPS),
	)
	var tracer trace.Tracer
	if app.tracerProvider != nil {
		tracer = app.tracerProvider.Tracer("github.com/JakeFAU/findadoc-tester/internal/search")
	}
	driver, err := search.New(searchCfg, search.Deps{
		Launcher:  launcher,
		Resolver:  selector.NewResolver(selector.Defaults().Merge(app.cfg.Selectors), app.logger.Named("selector")),
		Limiter:   limiter,
		Artifacts: app.artifacts,
		Clock:     app.clock,
		Tracer:    tracer,
		Logger:    app.logger.Named("search"),
	})
	if err != nil {
		return nil, fmt.Errorf("search driver init failed: %w", err)
	}
	return driver, nil
}

// searchConfig maps loaded configuration onto driver settings.
func searchConfig(cfg *config.Config) search.Config {
	sc := search.DefaultConfig(cfg.Target.URL)
	sc.Launch.Headless = cfg.Browser.Headless
	sc.Launch.ExecPath = cfg.Browser.ExecPath
	sc.Launch.RemoteURL = cfg.Browser.RemoteURL
	sc.Launch.UserAgent = cfg.Browser.UserAgent
	sc.LaunchTimeout = cfg.Browser.LaunchTimeout()
	sc.NavAttempts = cfg.Search.NavAttempts
	sc.NavTimeout = cfg.Search.NavTimeout()
	sc.NavBackoff = cfg.Search.NavBackoff()
	sc.PostNavSettle = cfg.Search.PostNavSettle()
	sc.TypeDelay = cfg.Search.TypeDelay()
	sc.FieldSettle = cfg.Search.FieldSettle()
	sc.SubmitSettle = cfg.Search.SubmitSettle()
	sc.PageSettle = cfg.Search.PageSettle()
	sc.MaxPages = cfg.Search.MaxPages
	sc.Extract = cfg.Extract
	sc.ScreenshotPrefix = cfg.Storage.Prefix
	return sc
}
