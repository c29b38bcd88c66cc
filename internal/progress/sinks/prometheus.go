package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/findadoc-tester/internal/progress"
)

// PrometheusSink derives run-level metrics from progress streams: runs
// started, finished by result, in flight, wall time, and steps per stage.
type PrometheusSink struct {
	runsStarted  prometheus.Counter
	runsFinished *prometheus.CounterVec
	runsActive   prometheus.Gauge
	runDuration  *prometheus.HistogramVec
	steps        *prometheus.CounterVec

	tracker *sessionTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "findadoc_progress_runs_started_total",
			Help: "Search runs that reported their first step.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findadoc_progress_runs_finished_total",
			Help: "Search runs finished, partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "findadoc_progress_runs_active",
			Help: "Search runs currently reporting progress.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "findadoc_progress_run_duration_seconds",
			Help:    "Time from first to terminal progress event.",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"result"}),
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "findadoc_progress_steps_total",
			Help: "Progress events partitioned by stage.",
		}, []string{"stage"}),
		tracker: newSessionTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsFinished,
		s.runsActive,
		s.runDuration,
		s.steps,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	stage := string(evt.Stage)
	if stage == "" {
		stage = "unknown"
	}
	s.steps.WithLabelValues(stage).Inc()

	if s.tracker.start(evt.SessionID, evt.TS) {
		s.runsStarted.Inc()
		s.runsActive.Inc()
	}
	if !evt.Done {
		return
	}
	result := "success"
	if evt.Failed() {
		result = "error"
	}
	s.runsFinished.WithLabelValues(result).Inc()
	if started, ok := s.tracker.complete(evt.SessionID); ok {
		s.runsActive.Dec()
		if d := evt.TS.Sub(started); d > 0 {
			s.runDuration.WithLabelValues(result).Observe(d.Seconds())
		}
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type sessionTracker struct {
	mu      sync.Mutex
	running map[string]time.Time
}

func newSessionTracker() *sessionTracker {
	return &sessionTracker{running: make(map[string]time.Time)}
}

func (t *sessionTracker) start(id string, ts time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = ts
	return true
}

func (t *sessionTracker) complete(id string) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ts, ok := t.running[id]
	if ok {
		delete(t.running, id)
	}
	return ts, ok
}
