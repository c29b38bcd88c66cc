package progress

import "context"

// Sink consumes batches of progress events. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Emitter publishes individual events; Hub satisfies this interface so the
// broker stays agnostic about how events are buffered or persisted.
type Emitter interface {
	Emit(evt Event)
}

// Reporter receives a run's milestones. The search driver calls Step for each
// state transition and exactly one of Done or Fail at the end.
type Reporter interface {
	Step(stage Stage, message string)
	Done(message string)
	Fail(err error)
}

// Discard is a Reporter that drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Step(Stage, string) {}
func (discard) Done(string)        {}
func (discard) Fail(error)         {}
