package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleBroker shows a listener attached before the run starts receiving the
// full step sequence.
func ExampleBroker() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Second}, sink)
	broker := NewBroker(BrokerConfig{Emitter: hub})

	events := broker.Subscribe(context.Background(), "demo")
	session, err := broker.Open("demo", 3)
	if err != nil {
		panic(err)
	}
	session.Step(StageLaunching, "Launching browser")
	session.Step(StageNavigating, "Loading search page")
	session.Done("Search complete")

	for evt := range events {
		fmt.Printf("%d/%d %s\n", evt.Step, evt.TotalSteps, evt.Message)
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}
	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// 1/3 Launching browser
	// 2/3 Loading search page
	// 3/3 Search complete
	// events forwarded: 3
}
