// Package metrics exposes Prometheus collectors for the find-a-doctor service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Run outcomes used as the "outcome" label.
const (
	OutcomeSuccess            = "success"
	OutcomeEmpty              = "empty"
	OutcomeInvalidSpecialty   = "invalid_specialty"
	OutcomeLaunchFailed       = "launch_failed"
	OutcomeNavigationFailed   = "navigation_failed"
	OutcomeFieldNotFound      = "field_not_found"
	OutcomeError              = "error"
	navigationResultOK        = "ok"
	navigationResultError     = "error"
	defaultRouteLabel         = "unknown"
	defaultSpecialtyLabel     = "unknown"
	customSpecialtyLabelValue = "Custom Search"
)

var (
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findadoc_runs_total",
			Help: "Total number of search runs, labeled by specialty and outcome.",
		},
		[]string{"specialty", "outcome"},
	)

	runDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "findadoc_run_duration_seconds",
			Help:    "Histogram of search run wall time, labeled by outcome.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	providersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findadoc_providers_total",
			Help: "Total number of provider records extracted, labeled by relevance.",
		},
		[]string{"relevant"},
	)

	accuracyPercent = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "findadoc_accuracy_percent",
			Help:    "Histogram of per-run relevance accuracy, labeled by specialty.",
			Buckets: []float64{0, 10, 25, 50, 75, 90, 100},
		},
		[]string{"specialty"},
	)

	navigationAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "findadoc_navigation_attempts_total",
			Help: "Total number of page navigation attempts, labeled by host and result.",
		},
		[]string{"host", "result"},
	)

	navigationWaitSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "findadoc_navigation_wait_seconds",
			Help:    "Histogram of politeness waits before navigating.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests, labeled by method and code.",
		},
		[]string{"method", "code"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, labeled by method and route.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 15, 30, 60},
		},
		[]string{"method", "route"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// SpecialtyLabel bounds label cardinality: built-in names pass through and
// everything else collapses to the custom bucket.
func SpecialtyLabel(name string) string {
	switch name {
	case "":
		return defaultSpecialtyLabel
	case "Cardiology", "Dermatology", "Orthopedics", "Pediatrics", "Neurology":
		return name
	default:
		return customSpecialtyLabelValue
	}
}

// ObserveRun records a finished run.
func ObserveRun(specialty, outcome string, duration time.Duration) {
	runsTotal.WithLabelValues(SpecialtyLabel(specialty), outcome).Inc()
	runDurationSeconds.WithLabelValues(outcome).Observe(duration.Seconds())
}

// ObserveProviders records the classifier's tallies for one run.
func ObserveProviders(specialty string, relevant, irrelevant int, accuracy float64) {
	if relevant > 0 {
		providersTotal.WithLabelValues("true").Add(float64(relevant))
	}
	if irrelevant > 0 {
		providersTotal.WithLabelValues("false").Add(float64(irrelevant))
	}
	if relevant+irrelevant > 0 {
		accuracyPercent.WithLabelValues(SpecialtyLabel(specialty)).Observe(accuracy)
	}
}

// ObserveNavigationAttempt counts one navigation try against host.
func ObserveNavigationAttempt(host string, err error) {
	result := navigationResultOK
	if err != nil {
		result = navigationResultError
	}
	navigationAttemptsTotal.WithLabelValues(host, result).Inc()
}

// ObserveNavigationWait records the duration of a politeness wait.
func ObserveNavigationWait(host string, d time.Duration) {
	navigationWaitSeconds.WithLabelValues(host).Observe(d.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if route == "" {
		route = defaultRouteLabel
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
