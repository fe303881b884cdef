package process

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrStopTimeout is returned when a child survives SIGKILL for longer than
// the kill wait.
var ErrStopTimeout = errors.New("process: did not exit after kill")

// killWait bounds how long Escalate polls after SIGKILL.
const killWait = 5 * time.Second

// Outcome reports how an escalated stop ended.
type Outcome struct {
	State State
	// Forced is true when the grace period expired (or ctx was cancelled)
	// and SIGKILL was sent.
	Forced bool
}

// Escalate stops p in two phases: SIGTERM, then poll every interval until
// the child exits or grace elapses, then SIGKILL. Cancelling ctx skips the
// rest of the grace period. A child that has already exited is returned
// as-is.
func Escalate(ctx context.Context, p Process, grace, interval time.Duration) (Outcome, error) {
	if interval <= 0 {
		interval = 10 * time.Millisecond
	}
	if st := p.Poll(); !st.Running {
		return Outcome{State: st}, nil
	}

	if err := p.Stop(false); err != nil && !errors.Is(err, ErrNotRunning) {
		return Outcome{State: p.Poll()}, fmt.Errorf("graceful stop: %w", err)
	}
	if st, exited := waitExit(ctx, p, grace, interval); exited {
		return Outcome{State: st}, nil
	}

	if err := p.Stop(true); err != nil && !errors.Is(err, ErrNotRunning) {
		return Outcome{State: p.Poll(), Forced: true}, fmt.Errorf("forced stop: %w", err)
	}
	st, exited := waitExit(context.Background(), p, killWait, interval)
	if !exited {
		return Outcome{State: st, Forced: true}, fmt.Errorf("pid %d: %w", st.Pid, ErrStopTimeout)
	}
	return Outcome{State: st, Forced: true}, nil
}

// waitExit polls p until it exits, timeout elapses or ctx is done.
func waitExit(ctx context.Context, p Process, timeout, interval time.Duration) (State, bool) {
	if st := p.Poll(); !st.Running {
		return st, true
	}
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if st := p.Poll(); !st.Running {
				return st, true
			}
		case <-deadline.C:
			st := p.Poll()
			return st, !st.Running
		case <-ctx.Done():
			st := p.Poll()
			return st, !st.Running
		}
	}
}
