package service

import (
	"errors"
	"fmt"
)

// ErrNotReady is returned by WaitReady when members have not announced
// readiness in time.
var ErrNotReady = errors.New("service: pool not ready")

// Terminator receives the request to shut the whole system down.
type Terminator interface {
	Terminate(reason error)
}

// TerminatorFunc adapts a function to Terminator.
type TerminatorFunc func(reason error)

// Terminate implements Terminator.
func (f TerminatorFunc) Terminate(reason error) { f(reason) }

// EssentialExitError reports the loss of an essential service.
type EssentialExitError struct {
	Pool     string
	Service  string
	Pid      int
	ExitCode int
}

// Error implements error.
func (e *EssentialExitError) Error() string {
	return fmt.Sprintf("essential service %s (pool %s, pid %d) exited with code %d",
		e.Service, e.Pool, e.Pid, e.ExitCode)
}

// IsEssentialExit reports whether err is or wraps an EssentialExitError.
func IsEssentialExit(err error) bool {
	var ee *EssentialExitError
	return errors.As(err, &ee)
}
