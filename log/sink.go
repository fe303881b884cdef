package log

import (
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/hearth/types"
)

// EventSink adapts a Logger to types.EventSink: inbound events are logged at
// debug level, process exits at info (or error, for essential services).
type EventSink struct {
	logger *Logger
}

// NewEventSink wraps logger.
func NewEventSink(logger *Logger) *EventSink {
	return &EventSink{logger: logger.Named("events")}
}

// RecordEvents implements types.EventSink.
func (s *EventSink) RecordEvents(source string, events []types.Event) {
	if len(events) == 0 || !s.logger.Enabled(zapcore.DebugLevel) {
		return
	}
	for _, ev := range events {
		s.logger.Debug("event", map[string]any{
			"source": source,
			"group":  ev.GroupID,
			"type":   ev.Type.String(),
			"size":   ev.Size(),
		})
	}
}

// RecordExit implements types.EventSink.
func (s *EventSink) RecordExit(rec types.ExitRecord) {
	fields := map[string]any{
		"source":    rec.Source,
		"name":      rec.Name,
		"pid":       rec.Pid,
		"exit_code": rec.ExitCode,
		"essential": rec.Essential,
	}
	if rec.Essential {
		s.logger.Error("essential process exited", fields)
		return
	}
	s.logger.Info("process exited", fields)
}
