package service

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/types"
)

// Worker pumps one connection's channel on its own goroutine and exchanges
// events with the pool through two mutex-guarded queues. Locks are held
// only to splice queues, never across I/O.
type Worker struct {
	conn    *Connection
	spec    ServiceSpec
	limit   int
	timeout time.Duration
	wake    chan<- struct{}
	logger  *log.Logger

	inMu    sync.Mutex
	inbound []types.Event

	outMu    sync.Mutex
	outbound []types.Event

	ready    atomic.Bool
	received atomic.Int64
	sent     atomic.Int64

	// lastErr is touched only by the pump goroutine.
	lastErr string

	// reportedSent is touched only under the owning pool's aggregator lock.
	reportedSent int64

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

func newWorker(conn *Connection, spec ServiceSpec, limit int, timeout time.Duration, wake chan<- struct{}, logger *log.Logger) *Worker {
	return &Worker{
		conn:    conn,
		spec:    spec,
		limit:   limit,
		timeout: timeout,
		wake:    wake,
		logger:  logger,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns the service name.
func (w *Worker) Name() string { return w.spec.Name }

// Spec returns the spec the service was launched from.
func (w *Worker) Spec() ServiceSpec { return w.spec }

// Connection returns the pumped connection.
func (w *Worker) Connection() *Connection { return w.conn }

// Ready reports whether the service has announced readiness.
func (w *Worker) Ready() bool { return w.ready.Load() }

// Push appends events to the worker's outbound queue.
func (w *Worker) Push(events ...types.Event) {
	if len(events) == 0 {
		return
	}
	w.outMu.Lock()
	w.outbound = append(w.outbound, events...)
	w.outMu.Unlock()
}

// Outbound returns a copy of the events queued for the child but not yet
// handed to its channel.
func (w *Worker) Outbound() []types.Event {
	w.outMu.Lock()
	defer w.outMu.Unlock()
	return append([]types.Event(nil), w.outbound...)
}

// TakeInbound appends the events received from the child to dst and clears
// the worker's inbound queue.
func (w *Worker) TakeInbound(dst []types.Event) []types.Event {
	w.inMu.Lock()
	defer w.inMu.Unlock()
	dst = append(dst, w.inbound...)
	clear(w.inbound)
	w.inbound = w.inbound[:0]
	return dst
}

// Counts returns the number of events received from and sent to the child.
func (w *Worker) Counts() (received, sent int64) {
	return w.received.Load(), w.sent.Load()
}

func (w *Worker) start() {
	w.startOnce.Do(func() { go w.run() })
}

// halt stops the pump goroutine and waits for it. Safe to call more than
// once, and before start.
func (w *Worker) halt() {
	w.stopOnce.Do(func() { close(w.stop) })
	started := true
	w.startOnce.Do(func() { started = false })
	if started {
		<-w.done
	}
}

func (w *Worker) run() {
	defer close(w.done)
	channel := w.conn.Channel()
	var batch []types.Event

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		idle := true
		if w.conn.CanReceive() {
			idle = false
			n, err := channel.ReceiveEvents(w.limit, w.timeout)
			if n > 0 {
				batch = channel.Drain(batch[:0])
				w.inMu.Lock()
				w.inbound = append(w.inbound, batch...)
				w.inMu.Unlock()
				clear(batch)
				w.received.Add(int64(n))
				w.signal()
			}
			if err != nil {
				w.noteError(err)
				idle = true
			}
		}

		if w.conn.CanSend() {
			w.outMu.Lock()
			pending := w.outbound
			w.outbound = nil
			w.outMu.Unlock()
			channel.Queue(pending...)
			if channel.Pending() > 0 {
				n, err := channel.SendEvents(w.limit)
				w.sent.Add(int64(n))
				if err != nil {
					w.noteError(err)
				}
			}
		}

		if idle && !w.sleep() {
			return
		}
	}
}

// sleep waits for the receive timeout. It returns false when stopped.
func (w *Worker) sleep() bool {
	timer := time.NewTimer(w.timeout)
	defer timer.Stop()
	select {
	case <-w.stop:
		return false
	case <-timer.C:
		return true
	}
}

func (w *Worker) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// noteError logs a transport error once per distinct message. The
// connection is torn down only when the aggregator sees the process exit.
func (w *Worker) noteError(err error) {
	msg := err.Error()
	if msg == w.lastErr {
		return
	}
	w.lastErr = msg
	fields := map[string]any{"service": w.spec.Name, "error": msg}
	if ipc.IsFatalFrameError(err) {
		w.logger.Warn("channel broken", fields)
		return
	}
	w.logger.Debug("channel error", fields)
}
