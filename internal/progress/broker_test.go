package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatal("subscription did not close")
		}
	}
}

func TestBrokerReplaysHistoryToLateSubscriber(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b := NewBroker(BrokerConfig{Clock: fixedClock{ts}})
	s, err := b.Open("abc", 4)
	require.NoError(t, err)
	s.Step(StageLaunching, "Launching browser")
	s.Step(StageNavigating, "Loading page")
	s.Done("Complete")

	events := collect(t, b.Subscribe(context.Background(), "abc"))
	require.Len(t, events, 3)
	require.Equal(t, []int{1, 2, 4}, []int{events[0].Step, events[1].Step, events[2].Step})
	for _, evt := range events {
		require.Equal(t, "abc", evt.SessionID)
		require.Equal(t, 4, evt.TotalSteps)
		require.Equal(t, ts, evt.TS)
	}
	require.True(t, events[2].Done)
	require.Equal(t, StageDone, events[2].Stage)
}

func TestBrokerSubscriberBeforeOpenSeesLiveEvents(t *testing.T) {
	t.Parallel()

	b := NewBroker(BrokerConfig{})
	ch := b.Subscribe(context.Background(), "early")

	done := make(chan []Event, 1)
	go func() {
		var out []Event
		for evt := range ch {
			out = append(out, evt)
		}
		done <- out
	}()

	s, err := b.Open("early", 2)
	require.NoError(t, err)
	s.Step(StageLaunching, "one")
	s.Fail(errors.New("navigation failed after 3 attempts"))
	s.Step(StageNavigating, "ignored after close")

	var events []Event
	select {
	case events = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not close")
	}

	require.Len(t, events, 2)
	require.Equal(t, FailedStep, events[1].Step)
	require.True(t, events[1].Failed())
	require.True(t, events[1].Done)
	require.Equal(t, "navigation failed after 3 attempts", events[1].Message)
}

func TestBrokerStepsIncreaseAndDoneExceedsLastStep(t *testing.T) {
	t.Parallel()

	b := NewBroker(BrokerConfig{})
	s, err := b.Open("overrun", 2)
	require.NoError(t, err)
	s.Step(StageExtracting, "a")
	s.Step(StageExtracting, "b")
	s.Step(StageAnalyzing, "c")
	s.Done("done")

	events := collect(t, b.Subscribe(context.Background(), "overrun"))
	prev := 0
	for _, evt := range events {
		require.Greater(t, evt.Step, prev)
		prev = evt.Step
	}
	require.Equal(t, 4, events[3].Step)
}

func TestBrokerOpenRejectsDuplicate(t *testing.T) {
	t.Parallel()

	b := NewBroker(BrokerConfig{})
	_, err := b.Open("dup", 1)
	require.NoError(t, err)
	_, err = b.Open("dup", 1)
	require.ErrorIs(t, err, ErrSessionExists)

	_, err = b.Open("", 1)
	require.Error(t, err)
}

func TestBrokerSubscriberCancelRemovesPendingSession(t *testing.T) {
	t.Parallel()

	b := NewBroker(BrokerConfig{})
	ctx, cancel := context.WithCancel(context.Background())
	ch := b.Subscribe(ctx, "never-opened")
	require.Equal(t, 1, b.Len())

	cancel()
	collect(t, ch)
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestBrokerRemovesClosedSessionAfterRetention(t *testing.T) {
	t.Parallel()

	b := NewBroker(BrokerConfig{Retention: 10 * time.Millisecond})
	s, err := b.Open("short", 1)
	require.NoError(t, err)
	s.Done("done")
	require.Eventually(t, func() bool { return b.Len() == 0 }, time.Second, 5*time.Millisecond)

	_, err = b.Open("short", 1)
	require.NoError(t, err)
}

func TestBrokerForwardsToEmitter(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1}, sink)
	b := NewBroker(BrokerConfig{Emitter: hub})
	s, err := b.Open("fan", 1)
	require.NoError(t, err)
	s.Step(StageLaunching, "go")
	s.Done("done")
	require.NoError(t, hub.Close(context.Background()))

	total := 0
	for _, batch := range sink.Batches() {
		total += len(batch)
	}
	require.Equal(t, 2, total)
}

func TestDiscardReporter(t *testing.T) {
	t.Parallel()

	Discard.Step(StageLaunching, "x")
	Discard.Done("y")
	Discard.Fail(errors.New("z"))
}
