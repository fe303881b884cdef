package ipc

// Buffer is a growable byte buffer reused across frames. Only the first n
// bytes requested by the latest Ensure are meaningful; anything beyond is
// left over from earlier frames and never read.
type Buffer struct {
	data []byte
}

// Ensure grows the buffer to hold at least n bytes and returns the first n.
// The buffer never shrinks.
func (b *Buffer) Ensure(n int) []byte {
	if n > len(b.data) {
		grown := make([]byte, n)
		b.data = grown
	}
	return b.data[:n]
}

// Cap returns the current allocation size.
func (b *Buffer) Cap() int {
	return len(b.data)
}
