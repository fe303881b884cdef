package ipc

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sys/unix"

	"github.com/pithecene-io/hearth/types"
)

func openTestPipe(t *testing.T) *Pipe {
	t.Helper()
	p, err := OpenPipe()
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestPipe_ReadWouldBlock(t *testing.T) {
	p := openTestPipe(t)
	buf := make([]byte, 8)
	n, err := p.Read.Read(buf)
	if n != 0 || err != nil {
		t.Errorf("Read on empty pipe = %d, %v; want 0, nil", n, err)
	}
	ready, err := p.Read.Poll(10 * time.Millisecond)
	if err != nil {
		t.Fatalf("Poll failed: %v", err)
	}
	if ready {
		t.Error("Poll reported ready on an empty pipe")
	}
}

func TestPipe_WrongDirection(t *testing.T) {
	p := openTestPipe(t)
	if _, err := p.Read.Write([]byte("x")); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("Write on read end = %v, want ErrWrongDirection", err)
	}
	if _, err := p.Write.Read(make([]byte, 1)); !errors.Is(err, ErrWrongDirection) {
		t.Errorf("Read on write end = %v, want ErrWrongDirection", err)
	}
}

func TestPipe_EOFAfterWriterClose(t *testing.T) {
	p := openTestPipe(t)
	if _, err := p.Write.Write([]byte("ab")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := p.Write.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Write.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	ready, err := p.Read.Poll(time.Second)
	if err != nil || !ready {
		t.Fatalf("Poll = %v, %v; want true, nil", ready, err)
	}
	buf := make([]byte, 4)
	n, err := p.Read.Read(buf)
	if n != 2 || err != nil {
		t.Fatalf("Read = %d, %v; want 2, nil", n, err)
	}
	if _, err := p.Read.Read(buf); !errors.Is(err, io.EOF) {
		t.Errorf("Read after drain = %v, want io.EOF", err)
	}
}

func TestPipe_WriteAfterReaderClose(t *testing.T) {
	p := openTestPipe(t)
	_ = p.Read.Close()
	if _, err := p.Write.Write([]byte("x")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write to closed reader = %v, want io.ErrClosedPipe", err)
	}
}

func TestPipe_Detach(t *testing.T) {
	p := openTestPipe(t)
	f, err := p.Write.Detach("child-write")
	if err != nil {
		t.Fatalf("Detach failed: %v", err)
	}
	defer f.Close()

	if p.Write.Fd() != -1 {
		t.Errorf("Fd after Detach = %d, want -1", p.Write.Fd())
	}
	if _, err := p.Write.Write([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Detach = %v, want ErrClosed", err)
	}
	if _, err := p.Write.Detach("again"); !errors.Is(err, ErrClosed) {
		t.Errorf("second Detach = %v, want ErrClosed", err)
	}

	if _, err := f.Write([]byte("from child")); err != nil {
		t.Fatalf("write through detached file failed: %v", err)
	}
	buf := make([]byte, 32)
	n, err := p.Read.Read(buf)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(buf[:n]) != "from child" {
		t.Errorf("Read = %q, want %q", buf[:n], "from child")
	}
}

func TestPipe_ChannelRoundTrip(t *testing.T) {
	p := openTestPipe(t)
	sender := NewChannel(nil, p.Write)
	receiver := NewChannel(p.Read, nil)

	want := testEvents()
	sender.Queue(want...)

	var got []types.Event
	deadline := time.Now().Add(5 * time.Second)
	for len(got) < len(want) && time.Now().Before(deadline) {
		if _, err := sender.SendEvents(DefaultEventLimit); err != nil {
			t.Fatalf("SendEvents failed: %v", err)
		}
		if _, err := receiver.ReceiveEvents(DefaultEventLimit, 10*time.Millisecond); err != nil {
			t.Fatalf("ReceiveEvents failed: %v", err)
		}
		got = receiver.Drain(got)
	}

	if diff := cmp.Diff(want, got, eventOpts); diff != "" {
		t.Errorf("pipe round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestInheritPipeEnd(t *testing.T) {
	p := openTestPipe(t)
	dup, err := unix.Dup(p.Write.Fd())
	if err != nil {
		t.Fatalf("dup: %v", err)
	}
	end, err := InheritPipeEnd(dup, true)
	if err != nil {
		t.Fatalf("InheritPipeEnd failed: %v", err)
	}
	defer end.Close()

	flags, err := unix.FcntlInt(uintptr(dup), unix.F_GETFL, 0)
	if err != nil {
		t.Fatal(err)
	}
	if flags&unix.O_NONBLOCK == 0 {
		t.Error("inherited descriptor is still blocking")
	}
	if _, err := end.Write([]byte("hi")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	buf := make([]byte, 8)
	n, err := p.Read.Read(buf)
	if err != nil || string(buf[:n]) != "hi" {
		t.Errorf("Read = %q, %v; want %q", buf[:n], err, "hi")
	}

	if _, err := InheritPipeEnd(1<<20, false); err == nil {
		t.Error("InheritPipeEnd accepted a descriptor that is not open")
	}
}
