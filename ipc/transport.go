package ipc

import (
	"errors"
	"time"
)

// Transport is one end of a point-to-point byte stream with a non-blocking
// contract:
//
//   - Poll waits at most timeout for the transport to become readable. A
//     closed peer counts as readable so the following Read can report it.
//   - Read and Write never block. A (0, nil) result means "would block" and
//     the caller retries later. Read returns io.EOF once the peer has closed.
//   - Reset discards any transport-level buffered state.
type Transport interface {
	Poll(timeout time.Duration) (bool, error)
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Reset() error
	Close() error
}

// ErrClosed is returned by operations on a transport closed by this side.
var ErrClosed = errors.New("ipc: transport closed")

// ErrWrongDirection is returned when reading a write-only end or writing a
// read-only end.
var ErrWrongDirection = errors.New("ipc: operation not supported by this pipe end")
