// Package ipc implements the framed event protocol spoken between the
// supervisor and its children, and the byte transports it runs over.
//
// Wire format per event, both directions:
//
//	uint32 group_id | uint32 type | uint32 data_size | data_size bytes
//
// All integers are native byte order. The protocol is same-host only, so no
// endianness is negotiated.
package ipc

import (
	"errors"
	"fmt"
)

// Frame size constants.
const (
	// HeaderFieldSize is the width of each fixed header field.
	HeaderFieldSize = 4
	// HeaderSize is the width of the three fixed header fields.
	HeaderSize = 3 * HeaderFieldSize
	// MaxPayloadSize is the largest data_size a frame may declare (16 MiB).
	MaxPayloadSize = 16 * 1024 * 1024
)

// Field is the frame field currently being assembled in one direction.
type Field int

// Frame fields in wire order. FieldFinished sits between frames.
const (
	FieldGroupID Field = iota
	FieldType
	FieldDataSize
	FieldData
	FieldFinished
)

func (f Field) String() string {
	switch f {
	case FieldGroupID:
		return "group_id"
	case FieldType:
		return "type"
	case FieldDataSize:
		return "data_size"
	case FieldData:
		return "data"
	case FieldFinished:
		return "finished"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// FrameErrorKind classifies frame errors.
type FrameErrorKind int

const (
	// FrameErrorTooLarge indicates a declared data_size above MaxPayloadSize.
	FrameErrorTooLarge FrameErrorKind = iota
	// FrameErrorClosed indicates the peer closed the transport.
	FrameErrorClosed
	// FrameErrorTransport indicates an I/O failure on the transport.
	FrameErrorTransport
)

// FrameError represents a framing failure in one direction of a channel.
type FrameError struct {
	Kind FrameErrorKind
	Msg  string
	Err  error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// IsFatal returns true if the direction can no longer make progress without
// a Reset. An oversized frame desynchronizes the stream, so it is fatal.
// Transport errors are retried on the next pump.
func (e *FrameError) IsFatal() bool {
	return e.Kind == FrameErrorTooLarge
}

// IsFatalFrameError returns true if the error is a fatal frame error.
func IsFatalFrameError(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.IsFatal()
	}
	return false
}

// IsClosed returns true if err reports a transport closed by the peer.
func IsClosed(err error) bool {
	var frameErr *FrameError
	if errors.As(err, &frameErr) {
		return frameErr.Kind == FrameErrorClosed
	}
	return false
}
