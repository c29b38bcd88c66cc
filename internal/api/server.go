package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/metrics"
	"github.com/JakeFAU/findadoc-tester/internal/progress"
	"github.com/JakeFAU/findadoc-tester/internal/provider"
	"github.com/JakeFAU/findadoc-tester/internal/publisher"
	"github.com/JakeFAU/findadoc-tester/internal/search"
	"github.com/JakeFAU/findadoc-tester/internal/telemetry"
)

const (
	defaultRequestTimeout = 180 * time.Second
	publishTimeout        = 10 * time.Second
)

// Runner executes one search. *search.Driver satisfies it.
type Runner interface {
	Run(ctx context.Context, req search.Request, reporter progress.Reporter) (provider.Result, error)
	TotalSteps() int
}

// IDGenerator allocates session ids.
type IDGenerator interface {
	NewID() (string, error)
}

// Clock stamps reports.
type Clock interface {
	Now() time.Time
}

// Deps are the collaborators the server routes to. Runner, Broker, IDGen and
// Clock are required; Publisher is optional.
type Deps struct {
	Runner    Runner
	Broker    *progress.Broker
	Publisher publisher.Publisher
	// Topic receives run summaries when Publisher is set.
	Topic  string
	IDGen  IDGenerator
	Clock  Clock
	Logger *zap.Logger
}

// Options tune routing.
type Options struct {
	// StaticDir, when set, is served at /.
	StaticDir string
	// RequestTimeout bounds every route except the progress stream.
	RequestTimeout time.Duration
	// TracerProvider, when set, starts a server span per request and
	// extracts incoming trace context.
	TracerProvider trace.TracerProvider
}

// Server wires HTTP handlers to the search runner and progress broker.
type Server struct {
	router    chi.Router
	handler   http.Handler
	runner    Runner
	broker    *progress.Broker
	publisher publisher.Publisher
	topic     string
	idGen     IDGenerator
	clock     Clock
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, opts Options) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		runner:    deps.Runner,
		broker:    deps.Broker,
		publisher: deps.Publisher,
		topic:     deps.Topic,
		idGen:     deps.IDGen,
		clock:     deps.Clock,
		logger:    logger,
	}
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	// Streaming responses cannot pass through http.TimeoutHandler, which
	// buffers and hides http.Flusher.
	r.Get("/api/runTest/progress/{session_id}", s.streamProgress)

	r.Group(func(r chi.Router) {
		r.Use(timeoutMiddleware(timeout))

		r.Get("/healthz", s.healthz)
		r.Get("/readyz", s.readyz)
		r.Method(http.MethodGet, "/metrics", metrics.Handler())

		r.Route("/api", func(r chi.Router) {
			r.Get("/specialties", s.listSpecialties)
			r.Post("/runTest", s.runTest)
			r.Post("/runTestWithProgress", s.runTestWithProgress)
		})

		if opts.StaticDir != "" {
			r.Handle("/*", http.FileServer(http.Dir(opts.StaticDir)))
		}
	})

	s.router = r
	s.handler = r
	if opts.TracerProvider != nil {
		s.handler = otelhttp.NewHandler(r, "findadoc-tester",
			otelhttp.WithTracerProvider(opts.TracerProvider),
			otelhttp.WithPropagators(telemetry.Propagator()),
		)
	}
	return s
}

// Handler returns the routed, optionally traced, handler for use with
// http.Server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.runner == nil || s.broker == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sessions": s.broker.Len()})
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			logger.Info("request completed",
				zap.String("request_id", requestID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", status),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic recovered",
						zap.Any("panic", rec),
						zap.String("request_id", requestID(r.Context())),
						zap.Stack("stack"),
					)
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"error":"request timed out"}`)
	}
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
