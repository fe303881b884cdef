package process_test

import (
	"context"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/pithecene-io/hearth/process"
	"github.com/pithecene-io/hearth/process/proctest"
)

func TestEscalate_AlreadyExited(t *testing.T) {
	fake := proctest.NewFake(10)
	fake.Exit(4)

	out, err := process.Escalate(context.Background(), fake, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if out.Forced || out.State.ExitCode != 4 {
		t.Errorf("Outcome = %+v, want unforced exit 4", out)
	}
	if len(fake.Signals()) != 0 {
		t.Errorf("signals sent to exited process: %v", fake.Signals())
	}
}

func TestEscalate_GracefulExit(t *testing.T) {
	fake := proctest.NewFake(11)
	fake.ExitOnTerm = true

	out, err := process.Escalate(context.Background(), fake, time.Second, time.Millisecond)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if out.Forced {
		t.Error("graceful exit reported as forced")
	}
	if got := fake.Signals(); len(got) != 1 || got[0] != syscall.SIGTERM {
		t.Errorf("Signals = %v, want [SIGTERM]", got)
	}
}

func TestEscalate_ForcedAfterGrace(t *testing.T) {
	fake := proctest.NewFake(12)

	start := time.Now()
	out, err := process.Escalate(context.Background(), fake, 30*time.Millisecond, 5*time.Millisecond)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if !out.Forced {
		t.Error("expected forced stop")
	}
	if time.Since(start) < 25*time.Millisecond {
		t.Error("grace period not honoured")
	}
	want := []syscall.Signal{syscall.SIGTERM, syscall.SIGKILL}
	got := fake.Signals()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("Signals = %v, want %v", got, want)
	}
	if out.State.ExitCode != 128+int(syscall.SIGKILL) {
		t.Errorf("ExitCode = %d, want %d", out.State.ExitCode, 128+int(syscall.SIGKILL))
	}
}

func TestEscalate_ContextCancelSkipsGrace(t *testing.T) {
	fake := proctest.NewFake(13)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	out, err := process.Escalate(ctx, fake, time.Hour, time.Millisecond)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if !out.Forced {
		t.Error("expected forced stop after cancellation")
	}
	if time.Since(start) > time.Second {
		t.Error("cancellation did not cut the grace period short")
	}
}

func TestEscalate_RealProcessIgnoringTerm(t *testing.T) {
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	h := process.NewHandle("stubborn")
	t.Cleanup(func() { _ = h.Close() })
	if err := h.Spawn("/bin/sh", []string{"-c", "trap '' TERM; while :; do sleep 1; done"}, process.Options{}); err != nil {
		t.Fatalf("Spawn failed: %v", err)
	}
	// Give the shell time to install the trap.
	time.Sleep(100 * time.Millisecond)

	out, err := process.Escalate(context.Background(), h, 100*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Escalate failed: %v", err)
	}
	if !out.Forced || out.State.Running {
		t.Errorf("Outcome = %+v, want forced and exited", out)
	}
}
