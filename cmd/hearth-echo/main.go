// Command hearth-echo is a minimal child speaking the hearth protocol.
//
// As a service it announces readiness and echoes every event it receives.
// As the foreground application it completes the reset handshake, displays
// its launch input, then echoes. It exits cleanly when the supervisor closes
// its pipes.
//
// Usage (argv is built by the supervisor):
//
//	hearth-echo --hearth-read-fd=3 --hearth-write-fd=4 [--hearth-group=G ...]
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/hearth/client"
	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/log"
	"github.com/pithecene-io/hearth/types"
)

func main() {
	logger := log.NewLogger(log.NewSession(), zapcore.InfoLevel).Named("hearth-echo")

	session, err := client.FromArgs(os.Args[1:])
	if err != nil {
		logger.Error("bad launch arguments", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer session.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := serve(ctx, session, logger); err != nil {
		logger.Error("echo stopped", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

// serve runs the echo loop until ctx ends or the supervisor goes away.
func serve(ctx context.Context, s *client.Session, logger *log.Logger) error {
	if s.Foreground() {
		if err := s.Handshake(ctx); err != nil {
			return notClosed(err)
		}
		input, err := s.Input()
		if err != nil {
			return err
		}
		logger.Info("foreground started", map[string]any{
			"group":   s.Group(),
			"command": s.Args().Command,
		})
		if err := s.Send(ctx, types.NewStringEvent(s.Group(), types.EventTypeDisplayText, input)); err != nil {
			return notClosed(err)
		}
	} else {
		if err := s.Ready(ctx); err != nil {
			return notClosed(err)
		}
		logger.Info("service ready", nil)
	}

	for ctx.Err() == nil {
		events, err := s.Receive()
		if len(events) > 0 {
			if sendErr := s.Send(ctx, echo(s.Group(), events)...); sendErr != nil {
				return notClosed(sendErr)
			}
		}
		if err != nil {
			return notClosed(err)
		}
	}
	return nil
}

// echo mirrors events back. Control traffic is not echoed, and the
// foreground stamps its own group so replies pass correlation.
func echo(group uint32, events []types.Event) []types.Event {
	out := make([]types.Event, 0, len(events))
	for _, ev := range events {
		switch ev.Type {
		case types.EventTypeResetAcknowledged, types.EventTypeServiceReady,
			types.EventTypePermissionDenied, types.EventTypePasswordRequired:
			continue
		}
		if group != types.NoGroup {
			ev.GroupID = group
		}
		out = append(out, ev)
	}
	return out
}

// notClosed maps a supervisor hang-up to a clean exit.
func notClosed(err error) error {
	if ipc.IsClosed(err) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
