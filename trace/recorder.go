// Package trace records supervisor activity to a compressed binary file.
//
// A trace is a zstd stream of msgpack-encoded Records, one per inbound event
// or observed process exit. Payload bytes are never recorded, so a trace can
// be kept without leaking what applications said to each other.
package trace

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/pithecene-io/hearth/iox"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/types"
)

// Kind distinguishes record shapes.
type Kind string

const (
	KindHeader Kind = "header"
	KindEvent  Kind = "event"
	KindExit   Kind = "exit"
)

// Record is one trace entry. Exit-only fields are zero for event records and
// vice versa.
type Record struct {
	Kind      Kind   `msgpack:"kind"`
	TS        int64  `msgpack:"ts"`
	Source    string `msgpack:"source"`
	Name      string `msgpack:"name,omitempty"`
	Group     uint32 `msgpack:"group,omitempty"`
	Type      uint32 `msgpack:"type,omitempty"`
	Size      int    `msgpack:"size,omitempty"`
	Pid       int    `msgpack:"pid,omitempty"`
	ExitCode  int    `msgpack:"exit_code,omitempty"`
	Essential bool   `msgpack:"essential,omitempty"`
	// Format is set on the header record only.
	Format int `msgpack:"format,omitempty"`
}

// Time returns the record timestamp.
func (r Record) Time() time.Time { return time.Unix(0, r.TS) }

// EventType returns the recorded event type.
func (r Record) EventType() types.EventType { return types.EventType(r.Type) }

// ErrClosed is returned by Flush after Close.
var ErrClosed = errors.New("trace recorder closed")

// Recorder writes a trace. It implements types.EventSink and is safe for
// concurrent use. Write failures are sticky: the first one is logged, later
// records are dropped, and Close reports it.
type Recorder struct {
	mu     sync.Mutex
	out    io.Writer
	closer io.Closer
	zw     *zstd.Encoder
	enc    *msgpack.Encoder
	logger *log.Logger
	now    func() time.Time
	count  int
	err    error
	closed bool
}

// Create opens path for writing, truncating any previous trace.
func Create(path string, logger *log.Logger) (*Recorder, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create trace dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace: %w", err)
	}
	r, err := NewRecorder(f, logger)
	if err != nil {
		iox.DiscardClose(f)
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewRecorder writes a trace to w. Closing the recorder does not close w.
func NewRecorder(w io.Writer, logger *log.Logger) (*Recorder, error) {
	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	if logger == nil {
		logger = log.NewNop()
	}
	enc := msgpack.NewEncoder(zw)
	enc.UseCompactInts(true)
	header := Record{
		Kind:   KindHeader,
		TS:     time.Now().UnixNano(),
		Source: types.Version,
		Format: types.TraceFormatVersion,
	}
	if err := enc.Encode(&header); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("write trace header: %w", err)
	}
	return &Recorder{
		out:    w,
		zw:     zw,
		enc:    enc,
		logger: logger.Named("trace"),
		now:    time.Now,
	}, nil
}

// RecordEvents implements types.EventSink.
func (r *Recorder) RecordEvents(source string, events []types.Event) {
	if len(events) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ts := r.now().UnixNano()
	for _, ev := range events {
		r.encodeLocked(Record{
			Kind:   KindEvent,
			TS:     ts,
			Source: source,
			Group:  ev.GroupID,
			Type:   uint32(ev.Type),
			Size:   ev.Size(),
		})
	}
}

// RecordExit implements types.EventSink.
func (r *Recorder) RecordExit(rec types.ExitRecord) {
	at := rec.At
	r.mu.Lock()
	defer r.mu.Unlock()
	if at.IsZero() {
		at = r.now()
	}
	r.encodeLocked(Record{
		Kind:      KindExit,
		TS:        at.UnixNano(),
		Source:    rec.Source,
		Name:      rec.Name,
		Pid:       rec.Pid,
		ExitCode:  rec.ExitCode,
		Essential: rec.Essential,
	})
	// Exits are rare and worth keeping if the supervisor dies next.
	r.flushLocked()
}

func (r *Recorder) encodeLocked(rec Record) {
	if r.closed || r.err != nil {
		return
	}
	if err := r.enc.Encode(&rec); err != nil {
		r.failLocked(err)
		return
	}
	r.count++
}

func (r *Recorder) flushLocked() {
	if r.closed || r.err != nil {
		return
	}
	if err := r.zw.Flush(); err != nil {
		r.failLocked(err)
	}
}

func (r *Recorder) failLocked(err error) {
	r.err = fmt.Errorf("write trace: %w", err)
	r.logger.Warn("trace disabled after write failure", map[string]any{
		"error":    err.Error(),
		"recorded": r.count,
	})
}

// Count returns the number of records written so far, not counting the
// header.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Flush writes buffered records to the underlying writer.
func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.flushLocked()
	return r.err
}

// Close finishes the zstd stream and closes the file opened by Create.
// It is safe to call more than once.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.err
	}
	r.closed = true
	if err := r.zw.Close(); err != nil && r.err == nil {
		r.err = fmt.Errorf("close trace: %w", err)
	}
	if r.closer != nil {
		if err := r.closer.Close(); err != nil && r.err == nil {
			r.err = fmt.Errorf("close trace: %w", err)
		}
	}
	return r.err
}

var _ types.EventSink = (*Recorder)(nil)
