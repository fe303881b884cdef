// Package archive keeps a durable history of supervised-process exits in a
// Hive-partitioned JSONL dataset (day/session/source) on the local
// filesystem or in S3.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/justapithecus/lode/lode"

	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/types"
)

// DefaultFlushInterval is how often buffered exits are written.
const DefaultFlushInterval = 5 * time.Second

// Options configures an Archive.
type Options struct {
	Session       string
	FlushInterval time.Duration
	Logger        *log.Logger
}

// Archive is a types.EventSink that batches exit records and writes each
// batch as one dataset snapshot. Inbound events are not archived.
type Archive struct {
	ds     lode.Dataset
	opts   Options
	logger *log.Logger

	mu      sync.Mutex
	pending []any
	written int64
	closed  bool

	flushMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// New starts an archive writing to ds.
func New(ds lode.Dataset, opts Options) *Archive {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	a := &Archive{
		ds:     ds,
		opts:   opts,
		logger: logger.Named("archive"),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.loop()
	return a
}

// RecordEvents implements types.EventSink.
func (a *Archive) RecordEvents(string, []types.Event) {}

// RecordExit implements types.EventSink.
func (a *Archive) RecordExit(rec types.ExitRecord) {
	if rec.At.IsZero() {
		rec.At = time.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.pending = append(a.pending, toRecord(a.opts.Session, rec))
}

func (a *Archive) loop() {
	defer close(a.done)
	ticker := time.NewTicker(a.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.Flush(context.Background()); err != nil {
				a.logger.Warn("exit archive flush failed", map[string]any{"error": err.Error()})
			}
		}
	}
}

// Flush writes buffered exits. On failure the batch is kept for the next
// flush.
func (a *Archive) Flush(ctx context.Context) error {
	a.flushMu.Lock()
	defer a.flushMu.Unlock()

	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	a.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	if _, err := a.ds.Write(ctx, batch, lode.Metadata{}); err != nil {
		a.mu.Lock()
		a.pending = append(batch, a.pending...)
		a.mu.Unlock()
		return wrap("write", DatasetID, err)
	}
	a.mu.Lock()
	a.written += int64(len(batch))
	a.mu.Unlock()
	return nil
}

// Written reports how many exit records have been stored.
func (a *Archive) Written() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.written
}

// Close stops the flush loop and writes what remains. Close is idempotent.
func (a *Archive) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	<-a.done
	return a.Flush(context.Background())
}

var _ types.EventSink = (*Archive)(nil)

func toRecord(session string, rec types.ExitRecord) map[string]any {
	at := rec.At.UTC()
	return map[string]any{
		"day":       at.Format(time.DateOnly),
		"session":   session,
		"source":    rec.Source,
		"name":      rec.Name,
		"pid":       rec.Pid,
		"exit_code": rec.ExitCode,
		"essential": rec.Essential,
		"at":        at.Format(time.RFC3339Nano),
	}
}
