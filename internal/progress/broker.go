package progress

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ErrSessionExists is returned by Open when the id is already running.
var ErrSessionExists = errors.New("progress session already exists")

const defaultRetention = time.Minute

// Clock supplies event timestamps.
type Clock interface {
	Now() time.Time
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// BrokerConfig controls session bookkeeping.
//   - Retention: how long a finished session stays subscribable (default 1m).
//   - Emitter: optional fan-out target (usually a Hub) for every event.
//   - Clock: timestamp source (defaults to UTC wall clock).
type BrokerConfig struct {
	Retention time.Duration
	Emitter   Emitter
	Clock     Clock
	Logger    *zap.Logger
}

// Broker is the session-keyed table of in-flight runs. It is safe for
// concurrent use.
type Broker struct {
	cfg    BrokerConfig
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewBroker creates an empty Broker.
func NewBroker(cfg BrokerConfig) *Broker {
	if cfg.Retention <= 0 {
		cfg.Retention = defaultRetention
	}
	if cfg.Clock == nil {
		cfg.Clock = utcClock{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broker{cfg: cfg, logger: logger, sessions: make(map[string]*Session)}
}

// Open starts a session that will receive totalSteps planned steps. Listeners
// that subscribed before Open are kept.
func (b *Broker) Open(sessionID string, totalSteps int) (*Session, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.sessions[sessionID]
	if ok && s.isOpened() {
		return nil, fmt.Errorf("%w: %s", ErrSessionExists, sessionID)
	}
	if !ok {
		s = newSession(b, sessionID)
		b.sessions[sessionID] = s
	}
	s.open(totalSteps)
	b.logger.Debug("progress session opened", zap.String("session_id", sessionID))
	return s, nil
}

// Subscribe returns a channel carrying every event of sessionID, starting
// with those already recorded. The channel closes after the terminal event or
// when ctx is done. Subscribing to an unknown id waits for it to be opened.
func (b *Broker) Subscribe(ctx context.Context, sessionID string) <-chan Event {
	b.mu.Lock()
	s, ok := b.sessions[sessionID]
	if !ok {
		s = newSession(b, sessionID)
		b.sessions[sessionID] = s
	}
	s.mu.Lock()
	s.listeners++
	s.mu.Unlock()
	b.mu.Unlock()

	out := make(chan Event)
	go s.pump(ctx, out)
	return out
}

// Len reports how many sessions are tracked.
func (b *Broker) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

func (b *Broker) remove(s *Session) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.sessions[s.id]; ok && cur == s {
		delete(b.sessions, s.id)
	}
}

// Session records the events of one run and implements Reporter.
type Session struct {
	id     string
	broker *Broker

	mu        sync.Mutex
	opened    bool
	closed    bool
	total     int
	step      int
	history   []Event
	notify    chan struct{}
	listeners int
}

func newSession(b *Broker, id string) *Session {
	return &Session{id: id, broker: b, notify: make(chan struct{})}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

func (s *Session) isOpened() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opened
}

func (s *Session) open(total int) {
	s.mu.Lock()
	s.opened = true
	s.total = total
	s.mu.Unlock()
}

// Step records the next milestone.
func (s *Session) Step(stage Stage, message string) {
	s.publish(func(step, total int) Event {
		return Event{Message: message, Step: step + 1, TotalSteps: total, Stage: stage}
	})
}

// Done records the successful end of the run and closes the session.
func (s *Session) Done(message string) {
	s.publish(func(step, total int) Event {
		final := total
		if final <= step {
			final = step + 1
		}
		return Event{Message: message, Step: final, TotalSteps: total, Stage: StageDone, Done: true}
	})
}

// Fail records a failure and closes the session.
func (s *Session) Fail(err error) {
	msg := "search failed"
	if err != nil {
		msg = err.Error()
	}
	s.publish(func(_, total int) Event {
		return Event{Message: msg, Step: FailedStep, TotalSteps: total, Stage: StageFailed, Done: true}
	})
}

func (s *Session) publish(build func(step, total int) Event) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	evt := build(s.step, s.total)
	evt.SessionID = s.id
	evt.TS = s.broker.cfg.Clock.Now()
	if evt.Step > s.step {
		s.step = evt.Step
	}
	s.history = append(s.history, evt)
	close(s.notify)
	s.notify = make(chan struct{})
	if evt.Done {
		s.closed = true
		time.AfterFunc(s.broker.cfg.Retention, func() { s.broker.remove(s) })
	}
	s.mu.Unlock()

	if s.broker.cfg.Emitter != nil {
		s.broker.cfg.Emitter.Emit(evt)
	}
}

// pump delivers history then live events to out until the session closes or
// ctx is done.
func (s *Session) pump(ctx context.Context, out chan<- Event) {
	defer close(out)
	defer s.detach()
	next := 0
	for {
		s.mu.Lock()
		pending := append([]Event(nil), s.history[next:]...)
		closed := s.closed
		wait := s.notify
		s.mu.Unlock()

		for _, evt := range pending {
			select {
			case out <- evt:
				next++
			case <-ctx.Done():
				return
			}
		}
		if closed {
			return
		}
		select {
		case <-wait:
		case <-ctx.Done():
			return
		}
	}
}

// detach drops a listener; a session nobody opened disappears with its last
// listener.
func (s *Session) detach() {
	b := s.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	s.mu.Lock()
	s.listeners--
	orphan := !s.opened && s.listeners == 0
	s.mu.Unlock()
	if orphan && b.sessions[s.id] == s {
		delete(b.sessions, s.id)
	}
}
