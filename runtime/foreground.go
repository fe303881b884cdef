package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/iox"
	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/metrics"
	"github.com/pithecene-io/hearth/policy"
	"github.com/pithecene-io/hearth/process"
	"github.com/pithecene-io/hearth/service"
	"github.com/pithecene-io/hearth/types"
)

// ForegroundSource names the foreground in sinks and metrics.
const ForegroundSource = "foreground"

// ResetState is the progress of the reset handshake of one launch.
type ResetState int

const (
	// RequireRequest discards inbound events until a ResetRequest arrives.
	// Nothing is sent to the application in this state.
	RequireRequest ResetState = iota
	// SendResponse prepends ResetAcknowledged to the next outbound flush.
	SendResponse
	// ResetComplete filters both directions normally.
	ResetComplete
)

func (s ResetState) String() string {
	switch s {
	case RequireRequest:
		return "require_request"
	case SendResponse:
		return "send_response"
	case ResetComplete:
		return "reset_complete"
	default:
		return fmt.Sprintf("reset_state(%d)", int(s))
	}
}

// ForegroundConfig configures the foreground process slot.
type ForegroundConfig struct {
	EventLimit     int
	ReceiveTimeout time.Duration
	StopGrace      time.Duration
	StopPoll       time.Duration
	// InputDir holds the per-launch input files. Defaults to os.TempDir().
	InputDir string
	// Protected is the password-gated event set shared with the filters.
	Protected map[types.EventType]bool
	// Spawner starts the application. Defaults to service.ProcessSpawner.
	Spawner service.Spawner
	// Logger, Metrics and Sink are optional.
	Logger  *log.Logger
	Metrics *metrics.Collector
	Sink    types.EventSink
}

func (c ForegroundConfig) withDefaults() ForegroundConfig {
	if c.EventLimit <= 0 {
		c.EventLimit = ipc.DefaultEventLimit
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = service.DefaultReceiveTimeout
	}
	if c.StopGrace <= 0 {
		c.StopGrace = service.DefaultStopGrace
	}
	if c.StopPoll <= 0 {
		c.StopPoll = service.DefaultStopPoll
	}
	if c.InputDir == "" {
		c.InputDir = os.TempDir()
	}
	if c.Spawner == nil {
		c.Spawner = service.ProcessSpawner{}
	}
	if c.Logger == nil {
		c.Logger = log.NewNop()
	}
	if c.Sink == nil {
		c.Sink = types.NopSink{}
	}
	return c
}

// ForegroundExit describes a reaped foreground application.
type ForegroundExit struct {
	Record  types.ExitRecord
	Package *config.Package
	// Requested is true when the supervisor asked the application to stop.
	Requested bool
}

// Foreground owns the single foreground application slot. Launch, Reap,
// BeginStop and Stop run on the orchestrator goroutine; Send, TakeInbound
// and SetPasswordVerified may be called from anywhere. A pump goroutine
// moves events between the application's channel and the queues and runs
// the reset handshake.
type Foreground struct {
	cfg    ForegroundConfig
	logger *log.Logger
	filter *policy.Filter

	conn          *service.Connection
	pkg           *config.Package
	group         uint32
	inputFile     string
	stopRequested bool
	stopping      sync.WaitGroup

	// stateMu guards the handshake state and the pending replies.
	stateMu sync.Mutex
	state   ResetState
	replies []types.Event

	inMu    sync.Mutex
	inbound []types.Event

	outMu    sync.Mutex
	outbound []types.Event

	pumpStop chan struct{}
	pumpDone chan struct{}
}

// NewForeground creates an empty foreground slot.
func NewForeground(cfg ForegroundConfig) *Foreground {
	cfg = cfg.withDefaults()
	return &Foreground{
		cfg:    cfg,
		logger: cfg.Logger.Named(ForegroundSource),
		filter: policy.NewFilter(policy.Config{Role: types.RoleApp, CheckGroup: true, Replies: true}),
	}
}

// Launch starts pkg in the foreground with a fresh group id. A failed
// attempt returns a *LaunchError and leaves the slot empty.
func (f *Foreground) Launch(pkg *config.Package, req LaunchRequest) error {
	if f.conn != nil {
		if f.conn.Poll().Running {
			return &LaunchError{Kind: LaunchErrorSpawn, Package: f.pkg.Name, Err: process.ErrAlreadyRunning}
		}
		f.release()
	}
	if err := f.launch(pkg, req); err != nil {
		f.cfg.Metrics.IncLaunchFailure()
		f.logger.Error("launch failed", map[string]any{
			"path":  req.Path,
			"error": err.Error(),
		})
		return err
	}
	f.cfg.Metrics.IncLaunchSuccess()
	f.logger.Info("application launched", map[string]any{
		"package": pkg.Name,
		"pid":     f.conn.Pid(),
		"group":   f.group,
		"command": req.Command,
		"trusted": pkg.Trusted(),
	})
	return nil
}

func (f *Foreground) launch(pkg *config.Package, req LaunchRequest) error {
	if pkg == nil {
		return &LaunchError{Kind: LaunchErrorPackage, Package: req.Path, Err: os.ErrNotExist}
	}
	if pkg.Binary == "" {
		return &LaunchError{Kind: LaunchErrorPackage, Package: pkg.Name, Err: errors.New("no foreground binary")}
	}
	if pkg.ProtocolVersion > types.MaxProtocolVersion {
		return &LaunchError{Kind: LaunchErrorProtocol, Package: pkg.Name,
			Err: fmt.Errorf("protocol version %d exceeds %d", pkg.ProtocolVersion, types.MaxProtocolVersion)}
	}

	var cred *process.Credential
	if pkg.UID != nil && pkg.GID != nil {
		cred = &process.Credential{UID: *pkg.UID, GID: *pkg.GID}
	}
	inputFile, err := f.writeInput(req.Input, cred)
	if err != nil {
		return &LaunchError{Kind: LaunchErrorInput, Package: pkg.Name, Err: err}
	}

	group := nextGroup(f.group)
	f.filter.Reconfigure(policy.Config{
		Role:             types.RoleApp,
		Permissions:      pkg.Permissions,
		MaxVersion:       pkg.ProtocolVersion,
		Protected:        f.cfg.Protected,
		Replies:          true,
		CheckGroup:       true,
		PasswordVerified: pkg.Trusted(),
	})
	f.filter.SetGroup(group)

	conn, err := f.cfg.Spawner.Spawn(service.SpawnRequest{
		Name:   pkg.Name,
		Binary: pkg.Binary,
		Launch: ipc.LaunchArgs{
			EventLimit: f.cfg.EventLimit,
			Timeout:    f.cfg.ReceiveTimeout,
			Foreground: true,
			Group:      group,
			Command:    req.Command,
			InputFile:  inputFile,
		},
		Options: process.Options{Dir: pkg.Path, Credential: cred},
	})
	if err != nil {
		_ = os.Remove(inputFile)
		return &LaunchError{Kind: LaunchErrorSpawn, Package: pkg.Name, Err: err}
	}

	f.conn = conn
	f.pkg = pkg
	f.group = group
	f.inputFile = inputFile
	f.stopRequested = false
	f.resetQueues()
	f.pumpStop = make(chan struct{})
	f.pumpDone = make(chan struct{})
	go f.pump(conn, pkg.Name, f.pumpStop, f.pumpDone)
	return nil
}

// nextGroup returns a group id different from prev and from NoGroup.
func nextGroup(prev uint32) uint32 {
	next := prev + 1
	if next == types.NoGroup {
		next++
	}
	return next
}

// writeInput stores the launch input where the child can read it. A child
// running under its own credential gets the file chowned to it; when the
// supervisor lacks the privilege for that, the file is made world-readable.
func (f *Foreground) writeInput(input string, cred *process.Credential) (string, error) {
	path, err := iox.WriteTemp(f.cfg.InputDir, "hearth-input-*.txt", []byte(input))
	if err != nil {
		return "", fmt.Errorf("write input file: %w", err)
	}
	if cred == nil {
		return path, nil
	}
	if err := os.Chown(path, int(cred.UID), int(cred.GID)); err == nil {
		return path, nil
	}
	if err := os.Chmod(path, 0o644); err != nil {
		_ = os.Remove(path)
		return "", fmt.Errorf("share input file: %w", err)
	}
	return path, nil
}

func (f *Foreground) resetQueues() {
	f.stateMu.Lock()
	f.state = RequireRequest
	f.replies = nil
	f.stateMu.Unlock()
	f.inMu.Lock()
	f.inbound = nil
	f.inMu.Unlock()
	f.outMu.Lock()
	f.outbound = nil
	f.outMu.Unlock()
}

// Running reports whether an application occupies the slot and is alive.
func (f *Foreground) Running() bool {
	return f.conn != nil && f.conn.Poll().Running
}

// Package returns the package in the slot, or nil.
func (f *Foreground) Package() *config.Package { return f.pkg }

// Group returns the group id of the current or last launch.
func (f *Foreground) Group() uint32 { return f.group }

// Pid returns the application's pid, or 0 when the slot is empty.
func (f *Foreground) Pid() int {
	if f.conn == nil {
		return 0
	}
	return f.conn.Pid()
}

// State returns the handshake state.
func (f *Foreground) State() ResetState {
	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	return f.state
}

// SetPasswordVerified opens or closes the password gate for the current
// launch.
func (f *Foreground) SetPasswordVerified(verified bool) {
	f.filter.SetPasswordVerified(verified)
}

// FilterStats returns the foreground filter counters.
func (f *Foreground) FilterStats() policy.Stats {
	return f.filter.Stats()
}

// Send queues events for the application. They are filtered on the pump
// goroutine when flushed; events queued while the slot is empty are
// discarded by the next launch.
func (f *Foreground) Send(events ...types.Event) {
	if len(events) == 0 {
		return
	}
	f.outMu.Lock()
	f.outbound = append(f.outbound, events...)
	f.outMu.Unlock()
}

// TakeInbound appends the filtered events received from the application to
// dst and clears the queue.
func (f *Foreground) TakeInbound(dst []types.Event) []types.Event {
	f.inMu.Lock()
	defer f.inMu.Unlock()
	dst = append(dst, f.inbound...)
	clear(f.inbound)
	f.inbound = f.inbound[:0]
	return dst
}

// accept runs the reset handshake and the inbound filter over a received
// batch.
func (f *Foreground) accept(events []types.Event) {
	f.stateMu.Lock()
	if f.state == RequireRequest {
		i := indexOfType(events, types.EventTypeResetRequest)
		if i < 0 {
			f.stateMu.Unlock()
			return
		}
		f.state = SendResponse
		events = events[i+1:]
	}
	f.stateMu.Unlock()

	passed, replies := f.filter.FilterInbound(events)
	if len(replies) > 0 {
		f.stateMu.Lock()
		f.replies = append(f.replies, replies...)
		f.stateMu.Unlock()
	}
	if len(passed) > 0 {
		f.inMu.Lock()
		f.inbound = append(f.inbound, passed...)
		f.inMu.Unlock()
	}
}

// flush returns the next batch to write to the application: the handshake
// acknowledgement on the first flush after the request, then pending
// replies, then the filtered outbound queue. Before the request nothing is
// sent and queued events are discarded.
func (f *Foreground) flush() []types.Event {
	f.outMu.Lock()
	pending := f.outbound
	f.outbound = nil
	f.outMu.Unlock()

	f.stateMu.Lock()
	defer f.stateMu.Unlock()
	var out []types.Event
	switch f.state {
	case RequireRequest:
		return nil
	case SendResponse:
		out = append(out, types.NewEvent(f.filter.Group(), types.EventTypeResetAcknowledged, nil))
		f.state = ResetComplete
	}
	out = append(out, f.replies...)
	f.replies = nil
	return append(out, f.filter.FilterOutbound(pending)...)
}

func indexOfType(events []types.Event, t types.EventType) int {
	for i, ev := range events {
		if ev.Type == t {
			return i
		}
	}
	return -1
}

// pump exchanges events with one launch of the application until stopped.
func (f *Foreground) pump(conn *service.Connection, name string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	channel := conn.Channel()
	source := ForegroundSource + "/" + name
	var (
		batch   []types.Event
		lastErr string
	)
	noteError := func(err error) {
		if msg := err.Error(); msg != lastErr {
			lastErr = msg
			f.logger.Debug("channel error", map[string]any{"package": name, "error": msg})
		}
	}

	for {
		select {
		case <-stop:
			return
		default:
		}

		idle := !conn.CanReceive()
		if conn.CanReceive() {
			n, err := channel.ReceiveEvents(f.cfg.EventLimit, f.cfg.ReceiveTimeout)
			if n > 0 {
				batch = channel.Drain(batch[:0])
				f.cfg.Metrics.AddEventsReceived(ForegroundSource, n)
				f.cfg.Sink.RecordEvents(source, batch)
				f.accept(batch)
				clear(batch)
			}
			if err != nil {
				noteError(err)
				idle = true
			}
		}

		if conn.CanSend() {
			channel.Queue(f.flush()...)
			if channel.Pending() > 0 {
				n, err := channel.SendEvents(f.cfg.EventLimit)
				f.cfg.Metrics.AddEventsSent(ForegroundSource, n)
				if err != nil {
					noteError(err)
				}
			}
		}

		if idle {
			timer := time.NewTimer(f.cfg.ReceiveTimeout)
			select {
			case <-stop:
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}
}

// Reap releases the slot if the application has exited.
func (f *Foreground) Reap() (ForegroundExit, bool) {
	if f.conn == nil {
		return ForegroundExit{}, false
	}
	st := f.conn.Poll()
	if st.Running {
		return ForegroundExit{}, false
	}
	exit := ForegroundExit{
		Record: types.ExitRecord{
			Source:   ForegroundSource,
			Name:     f.pkg.Name,
			Pid:      f.conn.Pid(),
			ExitCode: st.ExitCode,
			At:       time.Now(),
		},
		Package:   f.pkg,
		Requested: f.stopRequested,
	}
	f.stopping.Wait()
	f.release()

	f.cfg.Metrics.IncForegroundExit()
	f.cfg.Sink.RecordExit(exit.Record)
	f.logger.Info("application exited", map[string]any{
		"package":   exit.Record.Name,
		"pid":       exit.Record.Pid,
		"exit_code": exit.Record.ExitCode,
		"requested": exit.Requested,
	})
	return exit, true
}

// BeginStop starts a two-phase stop of the application in the background.
// The exit is observed by a later Reap.
func (f *Foreground) BeginStop() {
	if f.conn == nil || f.stopRequested {
		return
	}
	f.stopRequested = true
	proc, name := f.conn.Process(), f.pkg.Name
	f.logger.Info("stopping application", map[string]any{"package": name, "pid": proc.Pid()})

	f.stopping.Add(1)
	go func() {
		defer f.stopping.Done()
		outcome, err := process.Escalate(context.Background(), proc, f.cfg.StopGrace, f.cfg.StopPoll)
		if err != nil {
			f.logger.Warn("application stop failed", map[string]any{"package": name, "error": err.Error()})
			return
		}
		if outcome.Forced {
			f.logger.Warn("application killed after grace period", map[string]any{"package": name})
		}
	}()
}

// Stop escalates the application's stop and empties the slot. Cancelling
// ctx skips the rest of the grace period.
func (f *Foreground) Stop(ctx context.Context) error {
	if f.conn == nil {
		return nil
	}
	f.stopRequested = true
	_, err := process.Escalate(ctx, f.conn.Process(), f.cfg.StopGrace, f.cfg.StopPoll)
	if _, ok := f.Reap(); !ok {
		f.stopping.Wait()
		f.release()
	}
	if err != nil {
		return fmt.Errorf("stop foreground: %w", err)
	}
	return nil
}

// release stops the pump and closes the connection, killing the process if
// it is still alive.
func (f *Foreground) release() {
	if f.conn == nil {
		return
	}
	close(f.pumpStop)
	<-f.pumpDone

	_ = f.conn.Channel().Reset()
	if err := f.conn.Close(); err != nil {
		f.logger.Debug("close connection", map[string]any{"error": err.Error()})
	}
	if f.inputFile != "" {
		_ = os.Remove(f.inputFile)
	}
	f.conn = nil
	f.inputFile = ""
	f.resetQueues()
}
