// Package process manages the OS lifecycle of supervised children: spawn,
// signal, non-blocking status polling and the two-phase stop escalation.
package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

var (
	// ErrAlreadyRunning is returned by Spawn while the previous child of the
	// handle is still live.
	ErrAlreadyRunning = errors.New("process: already running")
	// ErrNotRunning is returned when signalling a handle with no live child.
	ErrNotRunning = errors.New("process: not running")
)

// State is a snapshot of a child's status.
type State struct {
	Running bool
	// ExitCode is valid once Running is false. Death by signal is reported
	// as 128+signo; a child that could not be waited on reports -1.
	ExitCode int
	Pid      int
}

// Process is the lifecycle surface the supervisor needs from a child.
type Process interface {
	Pid() int
	// Poll performs a non-blocking status check. Once the child has exited
	// the result is latched.
	Poll() State
	Signal(sig syscall.Signal) error
	// Stop sends SIGTERM, or SIGKILL when force is set.
	Stop(force bool) error
}

// Credential is the OS identity a child runs as.
type Credential struct {
	UID uint32
	GID uint32
}

// Options configures a spawn.
type Options struct {
	Dir string
	// Env entries are appended to the supervisor's environment; later
	// entries win.
	Env []string
	// ExtraFiles become descriptors 3, 4, ... in the child.
	ExtraFiles []*os.File
	Credential *Credential
	// Stdout and Stderr default to the supervisor's stderr.
	Stdout *os.File
	Stderr *os.File
}

// Handle owns at most one live child at a time. It is safe for concurrent
// use.
type Handle struct {
	mu       sync.Mutex
	name     string
	pid      int
	running  bool
	exitCode int
}

// NewHandle creates an idle handle. name is used in error messages.
func NewHandle(name string) *Handle {
	return &Handle{name: name}
}

// Name returns the handle's name.
func (h *Handle) Name() string { return h.name }

// Spawn starts binary with args. It fails with ErrAlreadyRunning if the
// previous child has not exited.
func (h *Handle) Spawn(binary string, args []string, opts Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pollLocked()
	if h.running {
		return fmt.Errorf("spawn %s: %w (pid %d)", h.name, ErrAlreadyRunning, h.pid)
	}

	cmd := exec.Command(binary, args...)
	cmd.Dir = opts.Dir
	if len(opts.Env) > 0 {
		cmd.Env = deduplicateEnv(append(os.Environ(), opts.Env...))
	}
	cmd.ExtraFiles = opts.ExtraFiles
	cmd.Stdout = opts.Stdout
	if cmd.Stdout == nil {
		cmd.Stdout = os.Stderr
	}
	cmd.Stderr = opts.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}
	cmd.SysProcAttr = sysProcAttr(opts.Credential)

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn %s: %w", h.name, err)
	}

	h.pid = cmd.Process.Pid
	h.running = true
	h.exitCode = 0
	// The child is reaped with wait4 by Poll and Close, never through
	// os.Process, so drop the runtime's handle.
	_ = cmd.Process.Release()
	return nil
}

// Pid implements Process. It returns the last spawned pid, or 0.
func (h *Handle) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Poll implements Process.
func (h *Handle) Poll() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pollLocked()
	return State{Running: h.running, ExitCode: h.exitCode, Pid: h.pid}
}

func (h *Handle) pollLocked() {
	if !h.running {
		return
	}
	var status unix.WaitStatus
	pid, err := unix.Wait4(h.pid, &status, unix.WNOHANG, nil)
	switch {
	case errors.Is(err, unix.ECHILD):
		h.latch(-1)
	case err != nil:
		// EINTR and friends: try again next poll.
	case pid == h.pid:
		h.latch(exitCode(status))
	}
}

func (h *Handle) latch(code int) {
	h.running = false
	h.exitCode = code
}

// Signal implements Process.
func (h *Handle) Signal(sig syscall.Signal) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.signalLocked(sig)
}

func (h *Handle) signalLocked(sig syscall.Signal) error {
	h.pollLocked()
	if !h.running {
		return ErrNotRunning
	}
	if err := unix.Kill(h.pid, sig); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return ErrNotRunning
		}
		return fmt.Errorf("signal %s (pid %d): %w", h.name, h.pid, err)
	}
	return nil
}

// Stop implements Process.
func (h *Handle) Stop(force bool) error {
	if force {
		return h.Signal(unix.SIGKILL)
	}
	return h.Signal(unix.SIGTERM)
}

// Close force-kills a still-running child and its process group, then reaps
// it. It is safe to call more than once.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.pollLocked()
	if !h.running {
		return nil
	}
	_ = unix.Kill(-h.pid, unix.SIGKILL)
	_ = unix.Kill(h.pid, unix.SIGKILL)

	for {
		var status unix.WaitStatus
		pid, err := unix.Wait4(h.pid, &status, 0, nil)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			h.latch(-1)
			if errors.Is(err, unix.ECHILD) {
				return nil
			}
			return fmt.Errorf("reap %s (pid %d): %w", h.name, h.pid, err)
		}
		if pid == h.pid {
			h.latch(exitCode(status))
			return nil
		}
	}
}

func exitCode(status unix.WaitStatus) int {
	switch {
	case status.Exited():
		return status.ExitStatus()
	case status.Signaled():
		return 128 + int(status.Signal())
	default:
		return -1
	}
}

// deduplicateEnv keeps the last occurrence of each env var key, so entries
// appended for a child win over inherited duplicates from os.Environ().
func deduplicateEnv(env []string) []string {
	seen := make(map[string]int, len(env))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		seen[key] = i
	}
	result := make([]string, 0, len(seen))
	for i, entry := range env {
		key, _, _ := strings.Cut(entry, "=")
		if seen[key] == i {
			result = append(result, entry)
		}
	}
	return result
}
