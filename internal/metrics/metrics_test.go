package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSpecialtyLabel(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"Cardiology", "Cardiology"},
		{"Neurology", "Neurology"},
		{"Custom Search", "Custom Search"},
		{"cardiology", "Custom Search"},
		{"anything else", "Custom Search"},
		{"", "unknown"},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, SpecialtyLabel(tc.input), tc.input)
	}
}

func TestObserveRun(t *testing.T) {
	counter := runsTotal.WithLabelValues("Dermatology", OutcomeSuccess)
	before := testutil.ToFloat64(counter)

	ObserveRun("Dermatology", OutcomeSuccess, 3*time.Second)

	require.InDelta(t, before+1, testutil.ToFloat64(counter), 0.001)
	require.Positive(t, testutil.CollectAndCount(runDurationSeconds))
}

func TestObserveProviders(t *testing.T) {
	relevant := providersTotal.WithLabelValues("true")
	irrelevant := providersTotal.WithLabelValues("false")
	beforeRelevant := testutil.ToFloat64(relevant)
	beforeIrrelevant := testutil.ToFloat64(irrelevant)

	ObserveProviders("Pediatrics", 2, 1, 66.7)
	ObserveProviders("Pediatrics", 0, 0, 0)

	require.InDelta(t, beforeRelevant+2, testutil.ToFloat64(relevant), 0.001)
	require.InDelta(t, beforeIrrelevant+1, testutil.ToFloat64(irrelevant), 0.001)
}

func TestObserveNavigationAttempt(t *testing.T) {
	ok := navigationAttemptsTotal.WithLabelValues("doctors.test", "ok")
	failed := navigationAttemptsTotal.WithLabelValues("doctors.test", "error")
	beforeOK := testutil.ToFloat64(ok)
	beforeFailed := testutil.ToFloat64(failed)

	ObserveNavigationAttempt("doctors.test", nil)
	ObserveNavigationAttempt("doctors.test", errors.New("timeout"))
	ObserveNavigationAttempt("doctors.test", errors.New("timeout"))
	ObserveNavigationWait("doctors.test", 250*time.Millisecond)

	require.InDelta(t, beforeOK+1, testutil.ToFloat64(ok), 0.001)
	require.InDelta(t, beforeFailed+2, testutil.ToFloat64(failed), 0.001)
	require.Positive(t, testutil.CollectAndCount(navigationWaitSeconds))
}

func TestMiddleware(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/things/{id}", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/missing", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	r.Get("/stream", func(w http.ResponseWriter, _ *http.Request) {
		_, isFlusher := w.(http.Flusher)
		if !isFlusher {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	})

	okCounter := httpRequestsTotal.WithLabelValues("GET", "200")
	notFoundCounter := httpRequestsTotal.WithLabelValues("GET", "404")
	acceptedCounter := httpRequestsTotal.WithLabelValues("GET", "202")
	beforeOK := testutil.ToFloat64(okCounter)
	beforeNotFound := testutil.ToFloat64(notFoundCounter)
	beforeAccepted := testutil.ToFloat64(acceptedCounter)

	for _, path := range []string{"/api/things/1", "/api/things/2", "/missing", "/stream"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	}

	require.InDelta(t, beforeOK+2, testutil.ToFloat64(okCounter), 0.001)
	require.InDelta(t, beforeNotFound+1, testutil.ToFloat64(notFoundCounter), 0.001)
	require.InDelta(t, beforeAccepted+1, testutil.ToFloat64(acceptedCounter), 0.001)

	routeHist, ok := httpRequestDurationSeconds.WithLabelValues("GET", "/api/things/{id}").(prometheus.Histogram)
	require.True(t, ok)
	require.Equal(t, 1, testutil.CollectAndCount(routeHist))
}

func TestHandlerServesRegistry(t *testing.T) {
	ObserveRun("Cardiology", OutcomeEmpty, time.Second)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "findadoc_runs_total")
}
