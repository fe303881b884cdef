package runtime

import (
	"errors"
	"fmt"

	"github.com/pithecene-io/hearth/service"
)

// Exit codes of `hearth run`.
const (
	ExitCodeClean         = 0 // orderly shutdown (signal or ctx)
	ExitCodeConfig        = 1 // configuration could not be loaded
	ExitCodeHomeCrash     = 2 // home package crashed or could not start
	ExitCodeEssentialLoss = 3 // essential service exited
)

// LaunchErrorKind classifies foreground launch failures.
type LaunchErrorKind int

const (
	// LaunchErrorPackage indicates the requested package is missing or has
	// no foreground binary.
	LaunchErrorPackage LaunchErrorKind = iota
	// LaunchErrorProtocol indicates the package declares a protocol version
	// newer than the supervisor speaks.
	LaunchErrorProtocol
	// LaunchErrorInput indicates the launch input file could not be written.
	LaunchErrorInput
	// LaunchErrorSpawn indicates the process could not be started.
	LaunchErrorSpawn
)

func (k LaunchErrorKind) String() string {
	switch k {
	case LaunchErrorPackage:
		return "package"
	case LaunchErrorProtocol:
		return "protocol"
	case LaunchErrorInput:
		return "input"
	case LaunchErrorSpawn:
		return "spawn"
	default:
		return fmt.Sprintf("launch_error(%d)", int(k))
	}
}

// LaunchError reports an abandoned foreground launch attempt.
type LaunchError struct {
	Kind    LaunchErrorKind
	Package string
	Err     error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch %s: %s: %v", e.Package, e.Kind, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsLaunchError reports whether err is a LaunchError of kind k.
func IsLaunchError(err error, k LaunchErrorKind) bool {
	var le *LaunchError
	return errors.As(err, &le) && le.Kind == k
}

// HomeCrashError is the termination reason when the home package exits
// abnormally or cannot be started.
type HomeCrashError struct {
	Package  string
	ExitCode int
	// Err is set when the home package failed to launch.
	Err error
}

func (e *HomeCrashError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("home package %s failed to start: %v", e.Package, e.Err)
	}
	return fmt.Sprintf("home package %s exited with code %d", e.Package, e.ExitCode)
}

func (e *HomeCrashError) Unwrap() error {
	return e.Err
}

// ExitCode maps a termination reason to the process exit code.
//
// Mapping:
//   - nil, signals, cancellation: 0
//   - essential service loss: 3
//   - home package crash: 2
//   - anything else: 1
func ExitCode(reason error) int {
	var (
		sig  *SignalError
		home *HomeCrashError
	)
	switch {
	case reason == nil, errors.As(reason, &sig), errors.Is(reason, ErrTerminated):
		return ExitCodeClean
	case service.IsEssentialExit(reason):
		return ExitCodeEssentialLoss
	case errors.As(reason, &home):
		return ExitCodeHomeCrash
	default:
		return ExitCodeConfig
	}
}
