package cmd

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/hearth/archive"
	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/iox"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/metrics"
	"github.com/pithecene-io/hearth/runtime"
	"github.com/pithecene-io/hearth/trace"
	"github.com/pithecene-io/hearth/types"
)

// RunCommand returns the run command, the only command that supervises
// processes. Its exit code reports why supervision ended:
//
//	0  clean shutdown (SIGTERM, SIGINT)
//	1  configuration or startup error
//	2  the home package crashed or could not be launched
//	3  an essential platform service was lost
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Start the supervisor",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:  "trace",
				Usage: "Write an event trace to this file (overrides trace_file)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address (overrides metrics_addr)",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level: debug, info, warn, error (overrides log_level)",
			},
			&cli.StringFlag{
				Name:  "run-dir",
				Usage: "Directory for PID lists and launch input files (overrides run_dir)",
			},
		},
		Action: runAction,
	}
}

// runOptions are the resolved settings of one supervisor run.
type runOptions struct {
	cfg         *config.Config
	traceFile   string
	metricsAddr string
	logLevel    string
}

func runAction(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("config: %v", err), runtime.ExitCodeConfig)
	}
	cfg.RunDir = resolveString(c, "run-dir", cfg.RunDir)
	opts := runOptions{
		cfg:         cfg,
		traceFile:   resolveString(c, "trace", cfg.TraceFile),
		metricsAddr: resolveString(c, "metrics-addr", cfg.MetricsAddr),
		logLevel:    resolveString(c, "log-level", cfg.LogLevel),
	}
	code, err := supervise(c.Context, opts)
	if err != nil {
		return cli.Exit(err.Error(), code)
	}
	return cli.Exit("", code)
}

// supervise runs the orchestrator until it stops and returns the process
// exit code. A non-nil error carries the message for a startup failure.
func supervise(ctx context.Context, opts runOptions) (int, error) {
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return runtime.ExitCodeConfig, err
	}
	session := log.NewSession()
	logger := log.NewLogger(session, level)
	defer func() { _ = logger.Sync() }()

	collector := metrics.NewCollector(session.ID)
	sinks := types.MultiSink{log.NewEventSink(logger)}
	if opts.traceFile != "" {
		rec, err := trace.Create(opts.traceFile, logger)
		if err != nil {
			return runtime.ExitCodeConfig, err
		}
		defer func() {
			if err := rec.Close(); err != nil {
				logger.Warn("trace close failed", map[string]any{"error": err.Error()})
			}
		}()
		sinks = append(sinks, rec)
	}

	notifiers, err := openNotifiers(opts.cfg.Notify, session.ID, logger)
	if err != nil {
		return runtime.ExitCodeConfig, err
	}
	for _, n := range notifiers {
		defer iox.DiscardClose(n)
		sinks = append(sinks, n)
	}

	if opts.cfg.Archive.Enabled() {
		ds, err := openArchive(ctx, opts.cfg.Archive)
		if err != nil {
			return runtime.ExitCodeConfig, err
		}
		exitArchive := archive.New(ds, archive.Options{
			Session:       session.ID,
			FlushInterval: opts.cfg.Archive.FlushInterval.Duration,
			Logger:        logger,
		})
		defer func() {
			if err := exitArchive.Close(); err != nil {
				logger.Warn("exit archive close failed", map[string]any{"error": err.Error()})
			}
		}()
		sinks = append(sinks, exitArchive)
	}

	app, err := runtime.NewContext(opts.cfg, logger, collector, sinks)
	if err != nil {
		return runtime.ExitCodeConfig, err
	}
	orch := runtime.NewOrchestrator(app, nil)
	stopSignals := runtime.WatchSignals(app.Token, orch.RequestReload)
	defer stopSignals()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.metricsAddr != "" {
		exporter := metrics.NewExporter(collector)
		go func() {
			if err := exporter.Serve(ctx, opts.metricsAddr); err != nil {
				logger.Error("metrics exporter stopped", map[string]any{
					"addr":  opts.metricsAddr,
					"error": err.Error(),
				})
			}
		}()
	}

	logger.Info("supervisor starting", map[string]any{
		"version":  types.Version,
		"home":     app.Home.Name,
		"platform": len(app.Platform),
		"run_dir":  opts.cfg.RunDir,
	})
	code := orch.Run(ctx)
	reason := app.Token.Reason()
	logger.Info("supervisor stopped", map[string]any{
		"exit_code": code,
		"reason":    errString(reason),
	})
	if code != runtime.ExitCodeClean {
		return code, reason
	}
	return code, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
