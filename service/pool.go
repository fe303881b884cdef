package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/metrics"
	"github.com/pithecene-io/hearth/policy"
	"github.com/pithecene-io/hearth/process"
	"github.com/pithecene-io/hearth/types"
)

// Pool defaults.
const (
	DefaultReceiveTimeout    = 20 * time.Millisecond
	DefaultAggregatorTimeout = 100 * time.Millisecond
	DefaultStopGrace         = 3 * time.Second
	DefaultStopPoll          = 50 * time.Millisecond
)

// Config configures a Pool.
type Config struct {
	// Name identifies the pool in logs, metrics, trace records and the
	// PID-list file name.
	Name string
	// EventLimit caps the events moved per pump call.
	EventLimit int
	// ReceiveTimeout bounds each worker's readiness poll.
	ReceiveTimeout time.Duration
	// AggregatorTimeout is the longest the aggregator sleeps without a
	// wake signal, so liveness checks run even when no traffic flows.
	AggregatorTimeout time.Duration
	// StopGrace and StopPoll parameterize the stop escalation.
	StopGrace time.Duration
	StopPoll  time.Duration
	// RunDir holds the PID-list file. Empty disables it.
	RunDir string

	Strategy   Strategy
	Spawner    Spawner
	Terminator Terminator
	Logger     *log.Logger
	Metrics    *metrics.Collector
	Sink       types.EventSink
}

func (c Config) withDefaults() Config {
	if c.EventLimit <= 0 {
		c.EventLimit = ipc.DefaultEventLimit
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = DefaultReceiveTimeout
	}
	if c.AggregatorTimeout <= 0 {
		c.AggregatorTimeout = DefaultAggregatorTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = DefaultStopGrace
	}
	if c.StopPoll <= 0 {
		c.StopPoll = DefaultStopPoll
	}
	if c.Strategy == nil {
		c.Strategy = PlatformStrategy{}
	}
	if c.Spawner == nil {
		c.Spawner = ProcessSpawner{}
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	if c.Sink == nil {
		c.Sink = types.NopSink{}
	}
	return c
}

// Member describes one pool member.
type Member struct {
	Name      string
	Pid       int
	Route     uint32
	Essential bool
	Ready     bool
	Received  int64
	Sent      int64
}

// Pool supervises a set of services. Each member has a Worker goroutine;
// the aggregator goroutine started by Start reaps exited members and moves
// events between the workers and the pool-level queues.
type Pool struct {
	cfg    Config
	logger *log.Logger

	mu      sync.Mutex
	workers []*Worker

	wake    chan struct{}
	readyCh chan struct{}

	inMu    sync.Mutex
	inbound []types.Event

	outMu    sync.Mutex
	outbound []types.Event

	// aggMu serializes aggregator passes; the fields below it are only
	// touched under it.
	aggMu   sync.Mutex
	scratch []types.Event

	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
	running   bool
}

// NewPool creates an empty pool. Call Start to run the aggregator.
func NewPool(cfg Config) *Pool {
	cfg = cfg.withDefaults()
	return &Pool{
		cfg:     cfg,
		logger:  cfg.Logger.With(map[string]any{"pool": cfg.Name}),
		wake:    make(chan struct{}, 1),
		readyCh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Name returns the pool name.
func (p *Pool) Name() string { return p.cfg.Name }

// Launch spawns spec and admits it.
func (p *Pool) Launch(spec ServiceSpec) error {
	conn, err := p.cfg.Spawner.Spawn(SpawnRequest{
		Name:   spec.Name,
		Binary: spec.Binary,
		Launch: ipc.LaunchArgs{EventLimit: p.cfg.EventLimit, Timeout: p.cfg.ReceiveTimeout},
		Args:   spec.Args,
		Options: process.Options{
			Dir:        spec.Dir,
			Credential: spec.Credential,
		},
	})
	if err != nil {
		p.logger.Error("service launch failed", map[string]any{
			"service": spec.Name,
			"binary":  spec.Binary,
			"error":   err.Error(),
		})
		return fmt.Errorf("pool %s: %w", p.cfg.Name, err)
	}
	p.Add(spec, conn)
	return nil
}

// LaunchAll launches every spec, continuing past failures.
func (p *Pool) LaunchAll(specs []ServiceSpec) error {
	var errs []error
	for _, spec := range specs {
		errs = append(errs, p.Launch(spec))
	}
	return errors.Join(errs...)
}

// Add admits an already running connection and starts its worker.
func (p *Pool) Add(spec ServiceSpec, conn *Connection) *Worker {
	w := newWorker(conn, spec, p.cfg.EventLimit, p.cfg.ReceiveTimeout, p.wake,
		p.logger.With(map[string]any{"service": spec.Name}))

	p.mu.Lock()
	p.workers = append(p.workers, w)
	pids, size := p.pidsLocked()
	p.mu.Unlock()

	w.start()
	p.membershipChanged(pids, size)
	p.logger.Info("service started", map[string]any{
		"service":   spec.Name,
		"pid":       conn.Pid(),
		"route":     spec.Route,
		"essential": spec.Essential,
	})
	return w
}

// Start runs the aggregator goroutine. It is a no-op after Stop.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		p.mu.Lock()
		select {
		case <-p.stop:
			p.mu.Unlock()
			return
		default:
		}
		p.running = true
		p.mu.Unlock()
		go p.loop()
	})
}

func (p *Pool) loop() {
	defer close(p.done)
	ticker := time.NewTicker(p.cfg.AggregatorTimeout)
	defer ticker.Stop()
	for {
		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
		p.Aggregate()
	}
}

// Send queues events for distribution to members on the next aggregator
// pass.
func (p *Pool) Send(events ...types.Event) {
	if len(events) == 0 {
		return
	}
	p.outMu.Lock()
	p.outbound = append(p.outbound, events...)
	p.outMu.Unlock()
	p.signalWake()
}

// TakeInbound appends the collected inbound events to dst and clears the
// pool-level inbound queue.
func (p *Pool) TakeInbound(dst []types.Event) []types.Event {
	p.inMu.Lock()
	defer p.inMu.Unlock()
	dst = append(dst, p.inbound...)
	clear(p.inbound)
	p.inbound = p.inbound[:0]
	return dst
}

// Aggregate performs one aggregator pass: reap exited members, collect
// inbound events, distribute outbound events. Start runs it in the
// background; tests may call it directly.
func (p *Pool) Aggregate() {
	p.aggMu.Lock()
	defer p.aggMu.Unlock()

	p.reap()
	workers := p.snapshot()

	var collected []types.Event
	for _, w := range workers {
		collected = p.collect(w, collected)
		_, sent := w.Counts()
		if delta := sent - w.reportedSent; delta > 0 {
			p.cfg.Metrics.AddEventsSent(p.cfg.Name, int(delta))
			w.reportedSent = sent
		}
	}
	p.queueInbound(collected)

	p.outMu.Lock()
	outbound := p.outbound
	p.outbound = nil
	p.outMu.Unlock()
	if len(outbound) > 0 && len(workers) > 0 {
		p.cfg.Strategy.DistributeOutbound(outbound, workers)
	}
}

// collect appends what w has read, after the strategy's inbound filter, to
// dst.
func (p *Pool) collect(w *Worker, dst []types.Event) []types.Event {
	p.scratch = w.TakeInbound(p.scratch[:0])
	if len(p.scratch) == 0 {
		return dst
	}
	p.observe(w, p.scratch)
	dst = append(dst, p.cfg.Strategy.CollectInbound(w, p.scratch)...)
	clear(p.scratch)
	return dst
}

func (p *Pool) queueInbound(events []types.Event) {
	if len(events) == 0 {
		return
	}
	p.inMu.Lock()
	p.inbound = append(p.inbound, events...)
	p.inMu.Unlock()
}

// observe records readiness announcements and feeds the sink.
func (p *Pool) observe(w *Worker, events []types.Event) {
	p.cfg.Metrics.AddEventsReceived(p.cfg.Name, len(events))
	p.cfg.Sink.RecordEvents(p.cfg.Name+"/"+w.Name(), events)
	if w.Ready() {
		return
	}
	for _, ev := range events {
		if ev.Type == types.EventTypeServiceReady {
			w.ready.Store(true)
			p.logger.Info("service ready", map[string]any{"service": w.Name()})
			p.signalReady()
			return
		}
	}
}

// reap removes members whose process has exited. Events the member read
// before exiting are still collected. Losing an essential member trips the
// terminator.
func (p *Pool) reap() {
	for _, w := range p.snapshot() {
		st := w.conn.Poll()
		if st.Running || !p.remove(w) {
			continue
		}
		w.halt()
		_ = w.conn.Close()
		p.queueInbound(p.collect(w, nil))

		spec := w.Spec()
		fields := map[string]any{
			"service":   spec.Name,
			"pid":       st.Pid,
			"exit_code": st.ExitCode,
		}
		p.cfg.Metrics.IncServiceExit(p.cfg.Name, spec.Essential)
		p.cfg.Sink.RecordExit(types.ExitRecord{
			Source:    p.cfg.Name,
			Name:      spec.Name,
			Pid:       st.Pid,
			ExitCode:  st.ExitCode,
			Essential: spec.Essential,
			At:        time.Now(),
		})
		if !spec.Essential {
			p.logger.Warn("service exited", fields)
			continue
		}
		p.logger.Error("essential service exited", fields)
		if p.cfg.Terminator != nil {
			p.cfg.Terminator.Terminate(&EssentialExitError{
				Pool:     p.cfg.Name,
				Service:  spec.Name,
				Pid:      st.Pid,
				ExitCode: st.ExitCode,
			})
		}
	}
}

// Stop stops the aggregator, then stops every member with the two-phase
// escalation concurrently and removes the PID-list file. Later calls return
// nil.
func (p *Pool) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		p.mu.Lock()
		close(p.stop)
		running := p.running
		p.mu.Unlock()
		if running {
			<-p.done
		}

		p.aggMu.Lock()
		p.mu.Lock()
		workers := p.workers
		p.workers = nil
		p.mu.Unlock()
		p.aggMu.Unlock()

		err = p.retire(ctx, workers)
		if p.cfg.RunDir != "" {
			if rmErr := os.Remove(PIDFilePath(p.cfg.RunDir, p.cfg.Name)); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				p.logger.Warn("cannot remove pid file", map[string]any{"error": rmErr.Error()})
			}
		}
		p.cfg.Metrics.SetPoolSize(p.cfg.Name, 0)
		p.logger.Info("pool stopped", map[string]any{"members": len(workers)})
	})
	return err
}

// Replace changes membership to specs: members whose launch parameters are
// unchanged keep running, the rest are stopped, and new specs are launched.
func (p *Pool) Replace(ctx context.Context, specs []ServiceSpec) error {
	want := make(map[string]ServiceSpec, len(specs))
	for _, spec := range specs {
		want[spec.Name] = spec
	}

	p.mu.Lock()
	kept := make(map[string]bool, len(p.workers))
	var retired []*Worker
	remaining := p.workers[:0]
	for _, w := range p.workers {
		if spec, ok := want[w.Name()]; ok && !kept[w.Name()] && spec.sameLaunch(w.Spec()) {
			kept[w.Name()] = true
			remaining = append(remaining, w)
			continue
		}
		retired = append(retired, w)
	}
	clear(p.workers[len(remaining):])
	p.workers = remaining
	pids, size := p.pidsLocked()
	p.mu.Unlock()
	p.membershipChanged(pids, size)

	errs := []error{p.retire(ctx, retired)}
	for _, spec := range specs {
		if kept[spec.Name] {
			continue
		}
		kept[spec.Name] = true
		errs = append(errs, p.Launch(spec))
	}
	p.logger.Info("pool membership replaced", map[string]any{
		"stopped":   len(retired),
		"members":   p.Len(),
		"requested": len(specs),
	})
	return errors.Join(errs...)
}

// retire stops already-removed workers concurrently.
func (p *Pool) retire(ctx context.Context, workers []*Worker) error {
	var g errgroup.Group
	for _, w := range workers {
		g.Go(func() error {
			out, err := process.Escalate(ctx, w.conn.Process(), p.cfg.StopGrace, p.cfg.StopPoll)
			w.halt()
			_ = w.conn.Close()
			p.logger.Info("service stopped", map[string]any{
				"service":   w.Name(),
				"pid":       out.State.Pid,
				"exit_code": out.State.ExitCode,
				"forced":    out.Forced,
			})
			p.cfg.Sink.RecordExit(types.ExitRecord{
				Source:   p.cfg.Name,
				Name:     w.Name(),
				Pid:      out.State.Pid,
				ExitCode: out.State.ExitCode,
				At:       time.Now(),
			})
			if err != nil {
				return fmt.Errorf("stop %s: %w", w.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}

// WaitReady blocks until every member has announced readiness with a
// ServiceReady event, timeout elapses, or ctx is done. Readiness is
// observed by the aggregator, so the pool must be started.
func (p *Pool) WaitReady(ctx context.Context, timeout time.Duration) error {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	for {
		pending := p.pendingReady()
		if len(pending) == 0 {
			return nil
		}
		select {
		case <-p.readyCh:
		case <-deadline.C:
			if pending = p.pendingReady(); len(pending) == 0 {
				return nil
			}
			return fmt.Errorf("%w: waiting for %s", ErrNotReady, strings.Join(pending, ", "))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Pool) pendingReady() []string {
	var pending []string
	for _, w := range p.snapshot() {
		if !w.Ready() {
			pending = append(pending, w.Name())
		}
	}
	return pending
}

// Members describes the current members in admission order.
func (p *Pool) Members() []Member {
	workers := p.snapshot()
	members := make([]Member, 0, len(workers))
	for _, w := range workers {
		spec := w.Spec()
		received, sent := w.Counts()
		members = append(members, Member{
			Name:      spec.Name,
			Pid:       w.conn.Pid(),
			Route:     spec.Route,
			Essential: spec.Essential,
			Ready:     w.Ready(),
			Received:  received,
			Sent:      sent,
		})
	}
	return members
}

// Worker returns the member named name.
func (p *Pool) Worker(name string) (*Worker, bool) {
	for _, w := range p.snapshot() {
		if w.Name() == name {
			return w, true
		}
	}
	return nil, false
}

// Len returns the number of members.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.workers)
}

// FilterStats sums the counters of the current members' filters. Retired
// members no longer contribute.
func (p *Pool) FilterStats() policy.Stats {
	var total policy.Stats
	for _, w := range p.snapshot() {
		if f := w.Spec().Filter; f != nil {
			total.Add(f.Stats())
		}
	}
	return total
}

func (p *Pool) snapshot() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.workers)
}

// remove drops w from the membership. It reports false if w was already
// removed by Replace or Stop.
func (p *Pool) remove(w *Worker) bool {
	p.mu.Lock()
	i := slices.Index(p.workers, w)
	if i < 0 {
		p.mu.Unlock()
		return false
	}
	p.workers = slices.Delete(p.workers, i, i+1)
	pids, size := p.pidsLocked()
	p.mu.Unlock()

	p.membershipChanged(pids, size)
	p.signalReady()
	return true
}

func (p *Pool) pidsLocked() ([]int, int) {
	pids := make([]int, 0, len(p.workers))
	for _, w := range p.workers {
		pids = append(pids, w.conn.Pid())
	}
	return pids, len(p.workers)
}

// membershipChanged publishes the pool size and rewrites the PID-list file.
// File errors are logged, not returned.
func (p *Pool) membershipChanged(pids []int, size int) {
	p.cfg.Metrics.SetPoolSize(p.cfg.Name, size)
	if p.cfg.RunDir == "" {
		return
	}
	if err := WritePIDFile(PIDFilePath(p.cfg.RunDir, p.cfg.Name), pids); err != nil {
		p.logger.Warn("cannot write pid file", map[string]any{"error": err.Error()})
	}
}

func (p *Pool) signalWake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pool) signalReady() {
	select {
	case p.readyCh <- struct{}{}:
	default:
	}
}
