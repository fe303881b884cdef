package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/pithecene-io/hearth/types"
)

// Result is the outcome of one framing step.
type Result int

const (
	// Continue means progress was made but the current frame is incomplete.
	Continue Result = iota
	// Completed means a whole frame was received or sent.
	Completed
	// Failed means no progress was possible this step: no data, nothing
	// queued to send, or a transport error. It is not necessarily an error.
	Failed
)

func (r Result) String() string {
	switch r {
	case Continue:
		return "continue"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("result(%d)", int(r))
	}
}

const (
	// DefaultEventLimit caps the events moved per ReceiveEvents/SendEvents
	// call when the caller passes a non-positive limit.
	DefaultEventLimit = 64

	// eventReserveStep is the capacity increment of the received-event slice.
	eventReserveStep = 16
)

// direction is the resumable framing state for one half of a channel.
type direction struct {
	field  Field
	done   int
	header [HeaderFieldSize]byte

	groupID  uint32
	typ      uint32
	dataSize uint32
	payload  Buffer

	// broken latches a fatal frame error until Reset.
	broken error
	// lastErr is the most recent transport error, cleared on progress.
	lastErr error
}

func (d *direction) reset(initial Field) {
	d.field = initial
	d.done = 0
	d.groupID, d.typ, d.dataSize = 0, 0, 0
	d.broken = nil
	d.lastErr = nil
}

// current returns the value of the header field in progress.
func (d *direction) current() uint32 {
	switch d.field {
	case FieldGroupID:
		return d.groupID
	case FieldType:
		return d.typ
	default:
		return d.dataSize
	}
}

// ChannelStats counts traffic through a channel since creation.
type ChannelStats struct {
	EventsReceived int64
	EventsSent     int64
	BytesReceived  int64
	BytesSent      int64
	// Oversized counts queued events dropped because their payload exceeded
	// MaxPayloadSize.
	Oversized int64
}

// Channel runs the framing state machine over two transports: in carries
// child-to-core bytes, out carries core-to-child bytes. Either may be nil for
// a one-way connection.
//
// A Channel is owned by a single goroutine. Callers that share it across
// goroutines must provide their own locking.
type Channel struct {
	in  Transport
	out Transport

	recv direction
	send direction

	received []types.Event
	queue    []types.Event

	stats ChannelStats
}

// NewChannel creates a channel over the given transports.
func NewChannel(in, out Transport) *Channel {
	c := &Channel{in: in, out: out}
	c.recv.reset(FieldGroupID)
	c.send.reset(FieldFinished)
	return c
}

// CanReceive reports whether the channel has an inbound transport.
func (c *Channel) CanReceive() bool { return c.in != nil }

// CanSend reports whether the channel has an outbound transport.
func (c *Channel) CanSend() bool { return c.out != nil }

// ReceiveEvent performs at most one non-blocking read and advances the
// inbound state machine.
func (c *Channel) ReceiveEvent() Result {
	d := &c.recv
	if c.in == nil || d.broken != nil {
		return Failed
	}

	var dst []byte
	if d.field == FieldData {
		dst = d.payload.Ensure(int(d.dataSize))[d.done:]
	} else {
		dst = d.header[d.done:]
	}

	n, err := c.in.Read(dst)
	if err != nil {
		d.lastErr = transportError(err, "receive")
		return Failed
	}
	d.lastErr = nil
	if n == 0 {
		return Failed
	}
	d.done += n
	c.stats.BytesReceived += int64(n)

	if d.field == FieldData {
		if d.done < int(d.dataSize) {
			return Continue
		}
		c.finishReceive()
		return Completed
	}

	if d.done < HeaderFieldSize {
		return Continue
	}
	value := binary.NativeEndian.Uint32(d.header[:])
	d.done = 0

	switch d.field {
	case FieldGroupID:
		d.groupID = value
		d.field = FieldType
	case FieldType:
		d.typ = value
		d.field = FieldDataSize
	case FieldDataSize:
		if value > MaxPayloadSize {
			d.broken = &FrameError{
				Kind: FrameErrorTooLarge,
				Msg:  fmt.Sprintf("payload size %d exceeds maximum %d", value, MaxPayloadSize),
			}
			return Failed
		}
		d.dataSize = value
		if value == 0 {
			c.finishReceive()
			return Completed
		}
		d.payload.Ensure(int(value))
		d.field = FieldData
	}
	return Continue
}

func (c *Channel) finishReceive() {
	d := &c.recv
	d.field = FieldFinished

	if len(c.received) == cap(c.received) {
		grown := make([]types.Event, len(c.received), cap(c.received)+eventReserveStep)
		copy(grown, c.received)
		c.received = grown
	}
	c.received = append(c.received, types.NewEvent(
		d.groupID, types.EventType(d.typ), d.payload.Ensure(int(d.dataSize))))
	c.stats.EventsReceived++

	d.field = FieldGroupID
	d.done = 0
}

// SendEvent performs at most one non-blocking write and advances the
// outbound state machine. When the previous frame has been fully written it
// first pops the next queued event; with nothing queued it reports Failed.
func (c *Channel) SendEvent() Result {
	d := &c.send
	if c.out == nil || d.broken != nil {
		return Failed
	}
	if d.field == FieldFinished && !c.popQueued() {
		return Failed
	}

	var src []byte
	if d.field == FieldData {
		src = d.payload.Ensure(int(d.dataSize))[d.done:]
	} else {
		binary.NativeEndian.PutUint32(d.header[:], d.current())
		src = d.header[d.done:]
	}

	n, err := c.out.Write(src)
	if err != nil {
		d.lastErr = transportError(err, "send")
		return Failed
	}
	d.lastErr = nil
	if n == 0 {
		return Failed
	}
	d.done += n
	c.stats.BytesSent += int64(n)

	if n < len(src) {
		return Continue
	}
	d.done = 0

	switch d.field {
	case FieldGroupID:
		d.field = FieldType
	case FieldType:
		d.field = FieldDataSize
	case FieldDataSize:
		if d.dataSize > 0 {
			d.field = FieldData
			return Continue
		}
		d.field = FieldFinished
		c.stats.EventsSent++
		return Completed
	case FieldData:
		d.field = FieldFinished
		c.stats.EventsSent++
		return Completed
	}
	return Continue
}

// popQueued loads the next sendable event into the outbound scratch state.
func (c *Channel) popQueued() bool {
	d := &c.send
	for len(c.queue) > 0 {
		ev := c.queue[0]
		c.queue[0] = types.Event{}
		c.queue = c.queue[1:]
		if len(ev.Payload) > MaxPayloadSize {
			c.stats.Oversized++
			continue
		}
		d.groupID = ev.GroupID
		d.typ = uint32(ev.Type)
		d.dataSize = uint32(len(ev.Payload))
		copy(d.payload.Ensure(len(ev.Payload)), ev.Payload)
		d.field = FieldGroupID
		d.done = 0
		return true
	}
	c.queue = nil
	return false
}

// ReceiveEvents polls the inbound transport for up to timeout and, if data
// is available, assembles events until limit have completed or a step
// fails. It returns the number of events completed.
//
// The returned error is non-nil only when the direction is broken (see
// IsFatalFrameError) or the transport reported an error, including a peer
// close. Callers treat both as "stop pumping this cycle".
func (c *Channel) ReceiveEvents(limit int, timeout time.Duration) (int, error) {
	if c.in == nil {
		return 0, nil
	}
	if c.recv.broken != nil {
		return 0, c.recv.broken
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	ready, err := c.in.Poll(timeout)
	if err != nil {
		return 0, transportError(err, "poll")
	}
	if !ready {
		return 0, nil
	}

	completed := 0
	for completed < limit {
		switch c.ReceiveEvent() {
		case Completed:
			completed++
		case Failed:
			return completed, c.recvErr()
		}
	}
	return completed, nil
}

// SendEvents writes queued events until limit have completed or a step
// fails (typically because the queue is empty or the transport is full).
func (c *Channel) SendEvents(limit int) (int, error) {
	if c.out == nil {
		return 0, nil
	}
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	completed := 0
	for completed < limit {
		switch c.SendEvent() {
		case Completed:
			completed++
		case Failed:
			return completed, c.sendErr()
		}
	}
	return completed, nil
}

func (c *Channel) recvErr() error {
	if c.recv.broken != nil {
		return c.recv.broken
	}
	return c.recv.lastErr
}

func (c *Channel) sendErr() error {
	if c.send.broken != nil {
		return c.send.broken
	}
	return c.send.lastErr
}

// Queue appends events to the outbound queue in order.
func (c *Channel) Queue(events ...types.Event) {
	c.queue = append(c.queue, events...)
}

// Pending returns the number of outbound events not yet fully written,
// including a partially written frame.
func (c *Channel) Pending() int {
	n := len(c.queue)
	if c.send.field != FieldFinished {
		n++
	}
	return n
}

// Received returns the number of completed inbound events awaiting Drain.
func (c *Channel) Received() int {
	return len(c.received)
}

// Drain appends the completed inbound events to dst in wire order and
// empties the channel's received list, keeping its capacity.
func (c *Channel) Drain(dst []types.Event) []types.Event {
	dst = append(dst, c.received...)
	clear(c.received)
	c.received = c.received[:0]
	return dst
}

// InboundField returns the inbound field currently being assembled.
func (c *Channel) InboundField() Field { return c.recv.field }

// OutboundField returns the outbound field currently being written.
func (c *Channel) OutboundField() Field { return c.send.field }

// Stats returns traffic counters.
func (c *Channel) Stats() ChannelStats { return c.stats }

// Reset discards all in-flight frame state, the received list and the
// outbound queue, and resets both transports.
func (c *Channel) Reset() error {
	c.recv.reset(FieldGroupID)
	c.send.reset(FieldFinished)
	clear(c.received)
	c.received = c.received[:0]
	c.queue = nil

	var errs []error
	if c.in != nil {
		errs = append(errs, c.in.Reset())
	}
	if c.out != nil {
		errs = append(errs, c.out.Reset())
	}
	return errors.Join(errs...)
}

// Close closes both transports.
func (c *Channel) Close() error {
	var errs []error
	if c.in != nil {
		errs = append(errs, c.in.Close())
	}
	if c.out != nil {
		errs = append(errs, c.out.Close())
	}
	return errors.Join(errs...)
}

func transportError(err error, op string) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return &FrameError{Kind: FrameErrorClosed, Msg: op + ": peer closed", Err: err}
	}
	return &FrameError{Kind: FrameErrorTransport, Msg: op + " failed", Err: err}
}
