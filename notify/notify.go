// Package notify publishes supervised-process exits to downstream systems.
//
// A Publisher delivers one ExitNotice. Sink adapts a Publisher to
// types.EventSink so the supervisor can fan exits out to it alongside the
// log and trace sinks without waiting on the network.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pithecene-io/hearth/types"
)

// EventTypeProcessExited is the event_type of every ExitNotice.
const EventTypeProcessExited = "process_exited"

// DefaultBackoff is the delay before the first retry. Later retries double it.
const DefaultBackoff = 500 * time.Millisecond

// ExitNotice is the JSON payload published for a process exit.
type ExitNotice struct {
	EventType string `json:"event_type"`
	Version   string `json:"version"`
	Session   string `json:"session"`
	Source    string `json:"source"`
	Name      string `json:"name"`
	Pid       int    `json:"pid"`
	ExitCode  int    `json:"exit_code"`
	Essential bool   `json:"essential"`
	Timestamp string `json:"timestamp"` // RFC 3339, UTC
}

// NewExitNotice builds the notice for rec observed in session.
func NewExitNotice(session string, rec types.ExitRecord) *ExitNotice {
	at := rec.At
	if at.IsZero() {
		at = time.Now()
	}
	return &ExitNotice{
		EventType: EventTypeProcessExited,
		Version:   types.Version,
		Session:   session,
		Source:    rec.Source,
		Name:      rec.Name,
		Pid:       rec.Pid,
		ExitCode:  rec.ExitCode,
		Essential: rec.Essential,
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// Publisher sends exit notices to one downstream system.
type Publisher interface {
	// Publish sends notice. It must respect ctx cancellation.
	Publish(ctx context.Context, notice *ExitNotice) error

	// Close releases publisher resources.
	Close() error
}

// permanentError marks a failure that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so Retry gives up immediately.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry calls attempt up to 1+retries times, sleeping backoff, 2*backoff,
// 4*backoff... between calls. It stops early on success, on ctx
// cancellation, or when attempt returns an error wrapped with Permanent.
func Retry(ctx context.Context, retries int, backoff time.Duration, attempt func(context.Context) error) error {
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	attempts := 1 + retries
	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("context canceled: %w", err)
		}
		if i > 0 {
			timer := time.NewTimer(backoff << (i - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("context canceled during backoff: %w", ctx.Err())
			case <-timer.C:
			}
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(lastErr, &perm) {
			return fmt.Errorf("non-retriable error: %w", perm.err)
		}
	}
	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}
