package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/findadoc-tester/internal/progress"
)

func TestPrometheusSinkRecordsRuns(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	batch := []progress.Event{
		{SessionID: "a", Step: 1, TotalSteps: 3, Stage: progress.StageLaunching, TS: start},
		{SessionID: "a", Step: 2, TotalSteps: 3, Stage: progress.StageNavigating, TS: start.Add(time.Second)},
		{SessionID: "a", Step: 3, TotalSteps: 3, Stage: progress.StageDone, Done: true, TS: start.Add(12 * time.Second)},
		{SessionID: "b", Step: 1, TotalSteps: 3, Stage: progress.StageLaunching, TS: start},
		{SessionID: "b", Step: progress.FailedStep, TotalSteps: 3, Stage: progress.StageFailed, Done: true, TS: start.Add(time.Second)},
		{SessionID: "c", Step: 1, TotalSteps: 3, Stage: progress.StageLaunching, TS: start},
	}
	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 3.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("success")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsFinished.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsActive))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.steps.WithLabelValues(string(progress.StageLaunching))))
	require.Equal(t, 2, testutil.CollectAndCount(sink.runDuration, "findadoc_progress_run_duration_seconds"))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	now := time.Now().UTC()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{SessionID: "s", Message: "Launching browser", Step: 1, Stage: progress.StageLaunching, TS: now},
		{SessionID: "s", Message: "boom", Step: progress.FailedStep, Stage: progress.StageFailed, Done: true, TS: now},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zap.InfoLevel, entries[0].Level)
	require.Equal(t, "Launching browser", entries[0].Message)
	require.Equal(t, zap.WarnLevel, entries[1].Level)
	require.Equal(t, "s", entries[1].ContextMap()["session_id"])
}
