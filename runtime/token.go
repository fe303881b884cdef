package runtime

import (
	"errors"
	"fmt"
	"os"
	"sync/atomic"
)

// ErrTerminated is the reason recorded when Terminate is called with nil.
var ErrTerminated = errors.New("runtime: terminated")

// SignalError is the termination reason for a fatal signal.
type SignalError struct {
	Signal os.Signal
}

func (e *SignalError) Error() string {
	return fmt.Sprintf("received %s", e.Signal)
}

// Token is a single-slot termination flag. The first Terminate wins; the
// orchestrator observes it once per tick. It implements service.Terminator
// and is safe for concurrent use.
type Token struct {
	reason atomic.Pointer[error]
	done   chan struct{}
}

// NewToken returns an untripped token.
func NewToken() *Token {
	return &Token{done: make(chan struct{})}
}

// Terminate trips the token. Later calls are ignored.
func (t *Token) Terminate(reason error) {
	t.trip(reason)
}

// trip reports whether this call tripped the token.
func (t *Token) trip(reason error) bool {
	if reason == nil {
		reason = ErrTerminated
	}
	if !t.reason.CompareAndSwap(nil, &reason) {
		return false
	}
	close(t.done)
	return true
}

// Tripped reports whether the token has been tripped.
func (t *Token) Tripped() bool {
	return t.reason.Load() != nil
}

// Reason returns the first termination reason, or nil.
func (t *Token) Reason() error {
	if p := t.reason.Load(); p != nil {
		return *p
	}
	return nil
}

// Done is closed when the token trips.
func (t *Token) Done() <-chan struct{} {
	return t.done
}
