package types

import "time"

// ExitRecord describes a supervised process that was observed to exit.
type ExitRecord struct {
	// Source names the pool or component that owned the process
	// ("platform", "user", "foreground").
	Source    string
	Name      string
	Pid       int
	ExitCode  int
	Essential bool
	At        time.Time
}

// EventSink receives liveness and inbound-event records. Implementations must
// be safe for concurrent use and must not block the caller for long; sinks are
// fire-and-forget and report no errors.
type EventSink interface {
	RecordEvents(source string, events []Event)
	RecordExit(rec ExitRecord)
}

// MultiSink fans records out to every non-nil sink in order.
type MultiSink []EventSink

// RecordEvents implements EventSink.
func (m MultiSink) RecordEvents(source string, events []Event) {
	if len(events) == 0 {
		return
	}
	for _, s := range m {
		if s != nil {
			s.RecordEvents(source, events)
		}
	}
}

// RecordExit implements EventSink.
func (m MultiSink) RecordExit(rec ExitRecord) {
	for _, s := range m {
		if s != nil {
			s.RecordExit(rec)
		}
	}
}

// NopSink discards everything.
type NopSink struct{}

// RecordEvents implements EventSink.
func (NopSink) RecordEvents(string, []Event) {}

// RecordExit implements EventSink.
func (NopSink) RecordExit(ExitRecord) {}
