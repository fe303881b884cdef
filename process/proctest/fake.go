// Package proctest provides an in-memory process.Process for tests that
// exercise supervision logic without spawning children.
package proctest

import (
	"sync"
	"syscall"

	"github.com/pithecene-io/hearth/process"
)

// Fake is a scripted process. It starts running and exits when told to, or
// when signalled if ExitOnTerm is set or the signal is SIGKILL.
type Fake struct {
	mu       sync.Mutex
	pid      int
	running  bool
	exitCode int
	signals  []syscall.Signal

	// ExitOnTerm makes a graceful stop terminate the process.
	ExitOnTerm bool
}

// NewFake returns a running fake with the given pid.
func NewFake(pid int) *Fake {
	return &Fake{pid: pid, running: true}
}

// Exit marks the fake as exited with code. Later exits are ignored.
func (f *Fake) Exit(code int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		f.running = false
		f.exitCode = code
	}
}

// Signals returns the signals delivered so far.
func (f *Fake) Signals() []syscall.Signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]syscall.Signal(nil), f.signals...)
}

// Pid implements process.Process.
func (f *Fake) Pid() int { return f.pid }

// Poll implements process.Process.
func (f *Fake) Poll() process.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return process.State{Running: f.running, ExitCode: f.exitCode, Pid: f.pid}
}

// Signal implements process.Process.
func (f *Fake) Signal(sig syscall.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return process.ErrNotRunning
	}
	f.signals = append(f.signals, sig)
	if sig == syscall.SIGKILL || (sig == syscall.SIGTERM && f.ExitOnTerm) {
		f.running = false
		f.exitCode = 128 + int(sig)
	}
	return nil
}

// Stop implements process.Process.
func (f *Fake) Stop(force bool) error {
	if force {
		return f.Signal(syscall.SIGKILL)
	}
	return f.Signal(syscall.SIGTERM)
}
