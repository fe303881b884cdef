package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/pithecene-io/hearth/service"
)

func TestReadStatus(t *testing.T) {
	dir := t.TempDir()
	if err := service.WritePIDFile(service.PIDFilePath(dir, "platform"), []int{11, 12, 13}); err != nil {
		t.Fatal(err)
	}
	alive := func(pid int) bool { return pid != 12 }

	got, err := readStatus(dir, alive)
	if err != nil {
		t.Fatalf("readStatus: %v", err)
	}
	want := []PoolStatus{
		{Pool: "platform", PIDs: []int{11, 12, 13}, Alive: 2, File: filepath.Join(dir, "platform.pids")},
		{Pool: "user", File: filepath.Join(dir, "user.pids")},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("status mismatch (-want +got):\n%s", diff)
	}
}

func TestReadStatus_Corrupt(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(service.PIDFilePath(dir, "user"), []byte("12\nnot-a-pid\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := readStatus(dir, processAlive); err == nil {
		t.Error("expected an error for a corrupt PID list")
	}
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("the test process should be alive")
	}
}
