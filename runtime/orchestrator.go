package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/policy"
	"github.com/pithecene-io/hearth/service"
	"github.com/pithecene-io/hearth/types"
)

// Pool names.
const (
	PlatformPool = "platform"
	UserPool     = "user"
)

// statsInterval is how often filter counters are absorbed into metrics.
const statsInterval = time.Second

// Orchestrator runs the supervisor tick loop. It owns the platform and user
// pools and the foreground slot. All methods except RequestReload must be
// called from one goroutine.
type Orchestrator struct {
	app    *Context
	logger *log.Logger
	interp InputInterpreter

	platform *service.Pool
	user     *service.Pool
	fg       *Foreground

	reload atomic.Bool

	inbound   []types.Event
	forward   []types.Event
	lastStats time.Time
}

// NewOrchestrator wires the pools and the foreground slot from app. A nil
// interpreter defaults to a ControlInterpreter.
func NewOrchestrator(app *Context, interp InputInterpreter) *Orchestrator {
	if interp == nil {
		interp = NewControlInterpreter()
	}
	return &Orchestrator{
		app:      app,
		logger:   app.Logger.Named("orchestrator"),
		interp:   interp,
		platform: service.NewPool(app.poolConfig(PlatformPool, service.PlatformStrategy{Routes: app.Routes})),
		user:     service.NewPool(app.poolConfig(UserPool, service.UserStrategy{})),
		fg:       NewForeground(app.foregroundConfig()),
	}
}

// Platform returns the platform pool.
func (o *Orchestrator) Platform() *service.Pool { return o.platform }

// User returns the user-service pool.
func (o *Orchestrator) User() *service.Pool { return o.user }

// Foreground returns the foreground slot.
func (o *Orchestrator) Foreground() *Foreground { return o.fg }

// RequestReload asks the next tick to re-read the user service list. Safe
// for concurrent use.
func (o *Orchestrator) RequestReload() {
	o.reload.Store(true)
}

// Start launches the platform services, waits (bounded) for them to
// announce readiness, launches the user services and brings the home
// package to the foreground. A platform service that fails to start is
// fatal only when it is essential.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.platform.Start()
	o.user.Start()

	for _, spec := range o.app.Platform {
		if err := o.platform.Launch(spec); err != nil && spec.Essential {
			return &service.EssentialExitError{Pool: PlatformPool, Service: spec.Name, ExitCode: -1}
		}
	}
	if o.platform.Len() > 0 {
		err := o.platform.WaitReady(ctx, o.app.Config.StartupWait.Duration)
		switch {
		case errors.Is(err, service.ErrNotReady):
			o.logger.Warn("platform services not ready, continuing", map[string]any{"error": err.Error()})
		case err != nil:
			return err
		}
	}
	if o.app.Token.Tripped() {
		return nil
	}

	if err := o.user.LaunchAll(o.app.UserServices()); err != nil {
		o.logger.Warn("some user services failed to start", map[string]any{"error": err.Error()})
	}
	o.logger.Info("supervisor started", map[string]any{
		"platform": o.platform.Len(),
		"user":     o.user.Len(),
		"home":     o.app.Home.Name,
	})
	o.launchHome()
	return nil
}

// Tick performs one orchestrator pass.
//
// Order:
//  1. apply a pending reload
//  2. take the platform inbound queue
//  3. feed it to the interpreter
//  4. forward user-service traffic to the platform
//  5. foreground alive: handle a stop request or exchange events; apply
//     password verification
//  6. foreground gone: reap it, then launch the next request or home
//  7. offer the platform traffic to the user services
func (o *Orchestrator) Tick(ctx context.Context) {
	if o.reload.Swap(false) {
		o.applyReload(ctx)
	}

	o.inbound = o.platform.TakeInbound(o.inbound[:0])
	o.interp.Observe(o.inbound)

	o.forward = o.user.TakeInbound(o.forward[:0])
	o.platform.Send(o.forward...)

	if o.fg.Running() {
		if o.interp.TakeStop() {
			o.handleStop()
		} else {
			o.forward = o.fg.TakeInbound(o.forward[:0])
			o.platform.Send(o.forward...)
			o.fg.Send(o.inbound...)
		}
		if o.interp.TakePasswordVerified() {
			o.fg.SetPasswordVerified(true)
			o.logger.Info("password verified", map[string]any{"package": o.fg.Package().Name})
		}
	} else {
		o.interp.TakeStop()
		o.interp.TakePasswordVerified()
		o.replaceForeground()
	}

	o.user.Send(o.inbound...)
	clear(o.inbound)
	clear(o.forward)
	o.absorbStats(false)
}

func (o *Orchestrator) handleStop() {
	pkg := o.fg.Package()
	if o.app.IsHome(pkg) || pkg.StopDisabled {
		o.logger.Debug("stop request ignored", map[string]any{"package": pkg.Name})
		return
	}
	o.fg.BeginStop()
}

// replaceForeground reaps the exited application and fills the slot.
func (o *Orchestrator) replaceForeground() {
	if exit, ok := o.fg.Reap(); ok {
		if o.app.IsHome(exit.Package) && exit.Record.ExitCode != 0 && !exit.Requested {
			o.logger.Error("home package crashed", map[string]any{
				"package":   exit.Record.Name,
				"exit_code": exit.Record.ExitCode,
			})
			o.app.Token.Terminate(&HomeCrashError{Package: exit.Record.Name, ExitCode: exit.Record.ExitCode})
			return
		}
	}
	if o.app.Token.Tripped() {
		return
	}

	if req, ok := o.interp.TakeLaunch(); ok {
		pkg, _ := o.app.Packages.Lookup(req.Path)
		if err := o.fg.Launch(pkg, req); err == nil {
			return
		}
	}
	o.launchHome()
}

func (o *Orchestrator) launchHome() {
	home := o.app.Home
	if err := o.fg.Launch(home, LaunchRequest{Path: home.Path}); err != nil {
		o.app.Token.Terminate(&HomeCrashError{Package: home.Name, Err: err})
	}
}

func (o *Orchestrator) applyReload(ctx context.Context) {
	specs := o.app.UserServices()
	o.logger.Info("reloading user services", map[string]any{"services": len(specs)})
	if err := o.user.Replace(ctx, specs); err != nil {
		o.logger.Warn("user service reload incomplete", map[string]any{"error": err.Error()})
	}
}

// absorbStats publishes the summed filter counters, at most once per
// statsInterval unless forced.
func (o *Orchestrator) absorbStats(force bool) {
	if o.app.Metrics == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(o.lastStats) < statsInterval {
		return
	}
	o.lastStats = now

	var total policy.Stats
	total.Add(o.fg.FilterStats())
	total.Add(o.user.FilterStats())

	byReason := make(map[string]int64, len(total.DroppedByReason))
	for reason, n := range total.DroppedByReason {
		byReason[reason.String()] = n
	}
	byType := make(map[string]int64, len(total.DroppedByType))
	for t, n := range total.DroppedByType {
		byType[t.String()] = n
	}
	o.app.Metrics.AbsorbFilterStats(total.EventsDropped, total.RepliesSynthesized, byReason, byType)
}

// Run starts the supervisor and ticks until ctx is done or the termination
// token trips, then shuts down and returns the process exit code.
func (o *Orchestrator) Run(ctx context.Context) int {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-o.app.Token.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	if err := o.Start(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		o.logger.Error("startup failed", map[string]any{"error": err.Error()})
		o.app.Token.Terminate(err)
	}

	ticker := time.NewTicker(o.app.tick())
	defer ticker.Stop()
	for !o.app.Token.Tripped() && runCtx.Err() == nil {
		select {
		case <-runCtx.Done():
		case <-ticker.C:
			o.Tick(runCtx)
		}
	}

	reason := o.app.Token.Reason()
	o.logger.Info("shutting down", map[string]any{"reason": errString(reason)})
	if err := o.Shutdown(context.WithoutCancel(ctx)); err != nil {
		o.logger.Warn("shutdown incomplete", map[string]any{"error": err.Error()})
	}
	code := ExitCode(reason)
	o.logger.Info("supervisor stopped", map[string]any{"exit_code": code})
	return code
}

// Shutdown stops the foreground application, then both pools concurrently.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	errs := []error{o.fg.Stop(ctx)}

	var g errgroup.Group
	g.Go(func() error { return o.platform.Stop(ctx) })
	g.Go(func() error { return o.user.Stop(ctx) })
	errs = append(errs, g.Wait())

	o.absorbStats(true)
	return errors.Join(errs...)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
