package notify

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/types"
)

// Defaults for SinkOptions.
const (
	DefaultQueueSize    = 64
	DefaultDrainTimeout = 5 * time.Second
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// Session identifies the supervisor session in every notice.
	Session string
	// EssentialOnly restricts notices to exits that were essential losses.
	EssentialOnly bool
	// QueueSize bounds the notices waiting to be published. When the queue
	// is full new notices are dropped.
	QueueSize int
	// DrainTimeout bounds how long Close waits for queued notices.
	DrainTimeout time.Duration
	Logger       *log.Logger
}

// Sink is a types.EventSink that publishes exits from a background
// goroutine. Inbound events are ignored.
type Sink struct {
	pub    Publisher
	opts   SinkOptions
	logger *log.Logger

	queue  chan *ExitNotice
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.RWMutex
	closed bool

	published atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewSink starts a sink that publishes through pub. The sink owns pub and
// closes it on Close.
func NewSink(pub Publisher, opts SinkOptions) *Sink {
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Sink{
		pub:    pub,
		opts:   opts,
		logger: logger.Named("notify"),
		queue:  make(chan *ExitNotice, opts.QueueSize),
		done:   make(chan struct{}),
		ctx:    ctx,
		cancel: cancel,
	}
	go s.run()
	return s
}

// RecordEvents implements types.EventSink.
func (s *Sink) RecordEvents(string, []types.Event) {}

// RecordExit implements types.EventSink. It never blocks.
func (s *Sink) RecordExit(rec types.ExitRecord) {
	if s.opts.EssentialOnly && !rec.Essential {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- NewExitNotice(s.opts.Session, rec):
	default:
		s.dropped.Add(1)
		s.logger.Warn("notification queue full, exit dropped", map[string]any{
			"source": rec.Source,
			"name":   rec.Name,
		})
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for notice := range s.queue {
		if err := s.pub.Publish(s.ctx, notice); err != nil {
			s.failed.Add(1)
			s.logger.Warn("exit notification failed", map[string]any{
				"source": notice.Source,
				"name":   notice.Name,
				"error":  err.Error(),
			})
			continue
		}
		s.published.Add(1)
	}
}

// Stats reports how many notices were published, failed, or dropped.
func (s *Sink) Stats() (published, failed, dropped int64) {
	return s.published.Load(), s.failed.Load(), s.dropped.Load()
}

// Close stops accepting exits, waits up to DrainTimeout for queued notices,
// and closes the publisher. Close is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	timer := time.NewTimer(s.opts.DrainTimeout)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
		s.cancel()
		<-s.done
	}
	s.cancel()
	return s.pub.Close()
}

var _ types.EventSink = (*Sink)(nil)
