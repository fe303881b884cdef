package ipc

import (
	"io"
	"sync"
	"time"
)

// MemoryPipe is an in-process, single-direction Transport. It backs pool and
// foreground tests, and lets callers constrain fragmentation (MaxChunk) and
// back-pressure (Capacity) to exercise the resumable framing paths.
type MemoryPipe struct {
	mu     sync.Mutex
	buf    []byte
	closed bool
	notify chan struct{}

	// MaxChunk caps the bytes moved by a single Read or Write. Zero means
	// unlimited.
	MaxChunk int
	// Capacity caps the bytes buffered before Write reports would-block.
	// Zero means unlimited.
	Capacity int
}

// NewMemoryPipe creates an empty in-memory pipe.
func NewMemoryPipe() *MemoryPipe {
	return &MemoryPipe{notify: make(chan struct{}, 1)}
}

func (m *MemoryPipe) signal() {
	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// Poll implements Transport.
func (m *MemoryPipe) Poll(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		m.mu.Lock()
		ready := len(m.buf) > 0 || m.closed
		m.mu.Unlock()
		if ready {
			return true, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false, nil
		}
		timer := time.NewTimer(remaining)
		select {
		case <-m.notify:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// Read implements Transport.
func (m *MemoryPipe) Read(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.buf) == 0 {
		if m.closed {
			return 0, io.EOF
		}
		return 0, nil
	}
	n := len(p)
	if m.MaxChunk > 0 && n > m.MaxChunk {
		n = m.MaxChunk
	}
	n = copy(p[:n], m.buf)
	m.buf = m.buf[n:]
	if len(m.buf) == 0 {
		m.buf = nil
	}
	return n, nil
}

// Write implements Transport.
func (m *MemoryPipe) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, io.ErrClosedPipe
	}
	n := len(p)
	if m.MaxChunk > 0 && n > m.MaxChunk {
		n = m.MaxChunk
	}
	if m.Capacity > 0 {
		if room := m.Capacity - len(m.buf); room < n {
			n = max(room, 0)
		}
	}
	m.buf = append(m.buf, p[:n]...)
	if n > 0 {
		m.signal()
	}
	return n, nil
}

// Len returns the number of buffered bytes.
func (m *MemoryPipe) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.buf)
}

// Bytes returns a copy of the buffered bytes without consuming them.
func (m *MemoryPipe) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

// Reset implements Transport.
func (m *MemoryPipe) Reset() error {
	m.mu.Lock()
	m.buf = nil
	m.mu.Unlock()
	return nil
}

// Close implements Transport. Buffered bytes remain readable; Read reports
// io.EOF once they are drained.
func (m *MemoryPipe) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.signal()
	return nil
}
