package runtime

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/metrics"
	"github.com/pithecene-io/hearth/service"
	"github.com/pithecene-io/hearth/types"
)

// ErrNoHomePackage is returned when the home package cannot be loaded.
var ErrNoHomePackage = errors.New("runtime: home package not found")

// Context carries everything the supervisor loads once at startup. It is
// built by NewContext and passed explicitly to the components that need it.
type Context struct {
	Config    *config.Config
	Packages  *config.Index
	Home      *config.Package
	Routes    config.RouteTable
	Protected map[types.EventType]bool
	// Platform holds the resolved platform services.
	Platform []service.ServiceSpec

	Logger  *log.Logger
	Metrics *metrics.Collector
	Sink    types.EventSink
	Spawner service.Spawner
	Token   *Token
}

// NewContext resolves cfg into a Context. Broken routes, protected events,
// packages and service entries are skipped with a warning; only a missing
// home package is an error. Nil logger, sink and spawner get defaults.
func NewContext(cfg *config.Config, logger *log.Logger, collector *metrics.Collector, sink types.EventSink) (*Context, error) {
	if logger == nil {
		logger = log.NewNop()
	}
	if sink == nil {
		sink = types.NopSink{}
	}
	warn := logger.Named("config").Warn

	packages := config.LoadIndex(cfg.PackageDirs, warn)
	home, ok := packages.Lookup(cfg.HomePackage)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoHomePackage, cfg.HomePackage)
	}
	protected := config.ProtectedEvents(cfg.ProtectedEvents, warn)

	return &Context{
		Config:    cfg,
		Packages:  packages,
		Home:      home,
		Routes:    config.NewRouteTable(cfg.Routes, warn),
		Protected: protected,
		Platform:  service.ResolveSpecs(cfg.PlatformServices, packages, protected, false, warn),
		Logger:    logger,
		Metrics:   collector,
		Sink:      sink,
		Spawner:   service.ProcessSpawner{},
		Token:     NewToken(),
	}, nil
}

// UserServices re-reads the user service list and resolves it.
func (c *Context) UserServices() []service.ServiceSpec {
	warn := c.Logger.Named("config").Warn
	entries, err := config.LoadUserServices(c.Config.UserServicesFile, warn)
	if err != nil {
		warn("cannot read user services", map[string]any{
			"file":  c.Config.UserServicesFile,
			"error": err.Error(),
		})
		return nil
	}
	return service.ResolveSpecs(entries, c.Packages, c.Protected, true, warn)
}

// IsHome reports whether pkg is the home package.
func (c *Context) IsHome(pkg *config.Package) bool {
	return pkg != nil && filepath.Clean(pkg.Path) == filepath.Clean(c.Home.Path)
}

func (c *Context) poolConfig(name string, strategy service.Strategy) service.Config {
	cfg := c.Config
	return service.Config{
		Name:              name,
		EventLimit:        cfg.EventLimit,
		ReceiveTimeout:    cfg.ReceiveTimeout.Duration,
		AggregatorTimeout: cfg.AggregatorTimeout.Duration,
		StopGrace:         cfg.StopGrace.Duration,
		StopPoll:          cfg.StopPoll.Duration,
		RunDir:            cfg.RunDir,
		Strategy:          strategy,
		Spawner:           c.Spawner,
		Terminator:        c.Token,
		Logger:            c.Logger,
		Metrics:           c.Metrics,
		Sink:              c.Sink,
	}
}

func (c *Context) foregroundConfig() ForegroundConfig {
	cfg := c.Config
	return ForegroundConfig{
		EventLimit:     cfg.EventLimit,
		ReceiveTimeout: cfg.ReceiveTimeout.Duration,
		StopGrace:      cfg.StopGrace.Duration,
		StopPoll:       cfg.StopPoll.Duration,
		InputDir:       filepath.Join(cfg.RunDir, "input"),
		Protected:      c.Protected,
		Spawner:        c.Spawner,
		Logger:         c.Logger,
		Metrics:        c.Metrics,
		Sink:           c.Sink,
	}
}

func (c *Context) tick() time.Duration {
	if d := c.Config.Tick.Duration; d > 0 {
		return d
	}
	return config.DefaultTick
}
