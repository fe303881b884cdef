package process

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

// waitState polls h until the child exits or the deadline passes.
func waitState(t *testing.T, h *Handle, timeout time.Duration) State {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if st := h.Poll(); !st.Running {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("process %d still running after %v", h.Pid(), timeout)
	return State{}
}

func TestHandle_ExitCode(t *testing.T) {
	requireShell(t)
	h := NewHandle("exit3")
	t.Cleanup(func() { _ = h.Close() })

	if err := h.Spawn("/bin/sh", []string{"-c", "exit 3"}, Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	st := waitState(t, h, 5*time.Second)
	if st.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", st.ExitCode)
	}

	// Latched: polling again must not wait on the pid again.
	if again := h.Poll(); again != st {
		t.Errorf("second Poll = %+v, want latched %+v", again, st)
	}
}

func TestHandle_AlreadyRunning(t *testing.T) {
	requireShell(t)
	h := NewHandle("sleeper")
	t.Cleanup(func() { _ = h.Close() })

	if err := h.Spawn("/bin/sh", []string{"-c", "sleep 30"}, Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	err := h.Spawn("/bin/sh", []string{"-c", "true"}, Options{})
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Spawn = %v, want ErrAlreadyRunning", err)
	}
}

func TestHandle_StopGraceful(t *testing.T) {
	requireShell(t)
	h := NewHandle("sleeper")
	t.Cleanup(func() { _ = h.Close() })

	if err := h.Spawn("/bin/sh", []string{"-c", "exec sleep 30"}, Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	if err := h.Stop(false); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	st := waitState(t, h, 5*time.Second)
	if st.ExitCode != 128+int(unix.SIGTERM) {
		t.Errorf("ExitCode = %d, want %d", st.ExitCode, 128+int(unix.SIGTERM))
	}
	if err := h.Stop(true); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Stop after exit = %v, want ErrNotRunning", err)
	}
}

func TestHandle_RespawnAfterExit(t *testing.T) {
	requireShell(t)
	h := NewHandle("twice")
	t.Cleanup(func() { _ = h.Close() })

	if err := h.Spawn("/bin/sh", []string{"-c", "exit 1"}, Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	first := waitState(t, h, 5*time.Second)
	if err := h.Spawn("/bin/sh", []string{"-c", "exit 2"}, Options{}); err != nil {
		t.Fatalf("respawn failed: %v", err)
	}
	second := waitState(t, h, 5*time.Second)
	if first.Pid == second.Pid {
		t.Error("respawn reused the old pid record")
	}
	if second.ExitCode != 2 {
		t.Errorf("ExitCode = %d, want 2", second.ExitCode)
	}
}

func TestHandle_CloseKillsChild(t *testing.T) {
	requireShell(t)
	h := NewHandle("orphan")
	if err := h.Spawn("/bin/sh", []string{"-c", "trap '' TERM; sleep 30"}, Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	pid := h.Pid()
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if st := h.Poll(); st.Running {
		t.Error("child still running after Close")
	}
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("kill(%d, 0) = %v, want ESRCH", pid, err)
	}
	if err := h.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}
}

func TestHandle_ExtraFilesAndEnv(t *testing.T) {
	requireShell(t)
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe failed: %v", err)
	}
	defer r.Close()

	h := NewHandle("writer")
	t.Cleanup(func() { _ = h.Close() })
	err = h.Spawn("/bin/sh", []string{"-c", `printf "%s" "$HEARTH_TEST_VALUE" >&3`}, Options{
		Env:        []string{"HEARTH_TEST_VALUE=first", "HEARTH_TEST_VALUE=second"},
		ExtraFiles: []*os.File{w},
	})
	_ = w.Close()
	if err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}

	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(out) != "second" {
		t.Errorf("child wrote %q, want %q", out, "second")
	}
	if st := waitState(t, h, 5*time.Second); st.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", st.ExitCode)
	}
}

func TestHandle_SpawnMissingBinary(t *testing.T) {
	h := NewHandle("ghost")
	if err := h.Spawn("/nonexistent/hearth-binary", nil, Options{}); err == nil {
		t.Fatal("expected error spawning a missing binary")
	}
	if st := h.Poll(); st.Running {
		t.Error("failed spawn left the handle running")
	}
}

func TestDeduplicateEnv(t *testing.T) {
	got := deduplicateEnv([]string{"A=1", "B=2", "A=3", "C"})
	want := []string{"B=2", "A=3", "C"}
	if len(got) != len(want) {
		t.Fatalf("deduplicateEnv = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("deduplicateEnv[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
