package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage names the driver state an Event reports on.
type Stage string

// Supported progress stages.
const (
	StageLaunching  Stage = "launching"
	StageNavigating Stage = "navigating"
	StageFilling    Stage = "filling"
	StageSubmitting Stage = "submitting"
	StageExtracting Stage = "extracting"
	StagePaginating Stage = "paginating"
	StageAnalyzing  Stage = "analyzing"
	StageDone       Stage = "done"
	StageFailed     Stage = "failed"
)

// FailedStep is the step index carried by the terminal failure event.
const FailedStep = -1

// Event is one status update for a session.
type Event struct {
	// SessionID correlates the event with the run that produced it.
	SessionID string `json:"sessionId"`
	// Message is human-readable status text, or the error for failures.
	Message string `json:"message"`
	// Step increases with every event of a session; FailedStep on failure.
	Step int `json:"step"`
	// TotalSteps is the planned number of steps for the run.
	TotalSteps int `json:"totalSteps"`
	// Stage is the driver state the event belongs to.
	Stage Stage `json:"stage,omitempty"`
	// Done marks the last event of a session.
	Done bool `json:"done"`
	// TS is the UTC timestamp recorded by the session.
	TS time.Time `json:"timestamp"`
}

// Failed reports whether e is a failure event.
func (e Event) Failed() bool {
	return e.Step == FailedStep
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.SessionID == "" {
		return errors.New("session id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	if e.Step < FailedStep {
		return fmt.Errorf("step %d out of range", e.Step)
	}
	if e.Failed() && !e.Done {
		return errors.New("failure event must be terminal")
	}
	return nil
}
