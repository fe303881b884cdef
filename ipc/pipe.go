package ipc

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// PipeEnd is one end of an anonymous pipe held by the supervisor. Both ends
// are opened close-on-exec and non-blocking; the end handed to a child is
// switched to blocking mode by Detach.
type PipeEnd struct {
	mu       sync.Mutex
	fd       int
	writable bool
	closed   bool
}

// Pipe is a freshly created anonymous pipe.
type Pipe struct {
	Read  *PipeEnd
	Write *PipeEnd
}

// OpenPipe creates an anonymous pipe with both ends non-blocking.
func OpenPipe() (*Pipe, error) {
	var fds [2]int
	if err := unix.Pipe2(fds[:], unix.O_CLOEXEC|unix.O_NONBLOCK); err != nil {
		return nil, fmt.Errorf("pipe2: %w", err)
	}
	return &Pipe{
		Read:  &PipeEnd{fd: fds[0]},
		Write: &PipeEnd{fd: fds[1], writable: true},
	}, nil
}

// InheritPipeEnd adopts a descriptor inherited from the parent, as a child
// does with ChildReadFD and ChildWriteFD. The descriptor is switched to
// non-blocking close-on-exec mode so it satisfies the Transport contract.
func InheritPipeEnd(fd int, writable bool) (*PipeEnd, error) {
	if _, err := unix.FcntlInt(uintptr(fd), unix.F_GETFD, 0); err != nil {
		return nil, fmt.Errorf("descriptor %d: %w", fd, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		return nil, fmt.Errorf("set non-blocking on %d: %w", fd, err)
	}
	unix.CloseOnExec(fd)
	return &PipeEnd{fd: fd, writable: writable}, nil
}

// Close closes both ends.
func (p *Pipe) Close() error {
	return errors.Join(p.Read.Close(), p.Write.Close())
}

// Fd returns the descriptor, or -1 once closed or detached.
func (e *PipeEnd) Fd() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return -1
	}
	return e.fd
}

// Detach hands ownership of the descriptor to an *os.File suitable for
// exec.Cmd.ExtraFiles. The descriptor is made blocking, since children read
// and write it with ordinary blocking I/O. The PipeEnd is unusable afterwards.
func (e *PipeEnd) Detach(name string) (*os.File, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrClosed
	}
	if err := unix.SetNonblock(e.fd, false); err != nil {
		return nil, fmt.Errorf("set blocking on %s: %w", name, err)
	}
	e.closed = true
	return os.NewFile(uintptr(e.fd), name), nil
}

// Poll implements Transport.
func (e *PipeEnd) Poll(timeout time.Duration) (bool, error) {
	fd := e.Fd()
	if fd < 0 {
		return false, ErrClosed
	}
	events := int16(unix.POLLIN)
	if e.writable {
		events = unix.POLLOUT
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: events}}
	n, err := unix.Poll(fds, int(timeout.Milliseconds()))
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return false, nil
		}
		return false, fmt.Errorf("poll: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	return fds[0].Revents&(events|unix.POLLHUP|unix.POLLERR) != 0, nil
}

// Read implements Transport.
func (e *PipeEnd) Read(p []byte) (int, error) {
	if e.writable {
		return 0, ErrWrongDirection
	}
	fd := e.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Read(fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case err != nil:
		return 0, fmt.Errorf("read: %w", err)
	case n == 0:
		return 0, io.EOF
	}
	return n, nil
}

// Write implements Transport.
func (e *PipeEnd) Write(p []byte) (int, error) {
	if !e.writable {
		return 0, ErrWrongDirection
	}
	fd := e.Fd()
	if fd < 0 {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, p)
	switch {
	case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EINTR):
		return 0, nil
	case errors.Is(err, unix.EPIPE):
		return 0, io.ErrClosedPipe
	case err != nil:
		return 0, fmt.Errorf("write: %w", err)
	}
	return n, nil
}

// Reset implements Transport. Kernel pipes carry no resettable state.
func (e *PipeEnd) Reset() error {
	return nil
}

// Close implements Transport. Closing twice is a no-op.
func (e *PipeEnd) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return unix.Close(e.fd)
}
