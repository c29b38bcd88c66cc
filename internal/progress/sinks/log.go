package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/findadoc-tester/internal/progress"
)

// LogSink writes each progress event as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event; failures are logged at warn level.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("stage", string(evt.Stage)),
			zap.Int("step", evt.Step),
			zap.Int("total_steps", evt.TotalSteps),
			zap.Time("ts", evt.TS),
		}
		if evt.Failed() {
			s.logger.Warn(evt.Message, fields...)
			continue
		}
		s.logger.Info(evt.Message, fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
