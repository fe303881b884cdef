// Package client is the child side of the hearth protocol. A service or
// application binary started by the supervisor calls FromArgs with its
// command line, then exchanges events through the returned Session.
package client

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/iox"
	"github.com/pithecene-io/hearth/types"
)

// ErrNotForeground is returned by foreground-only operations on a service
// session.
var ErrNotForeground = errors.New("client: session was not launched as the foreground application")

// Session is a child's connection to the supervisor. It is not safe for
// concurrent use; a child runs one event loop.
type Session struct {
	args    ipc.LaunchArgs
	rest    []string
	ch      *ipc.Channel
	out     ipc.Transport
	pending []types.Event
}

// FromArgs parses the launch flags in args (without the program name) and
// adopts the inherited pipe descriptors.
func FromArgs(args []string) (*Session, error) {
	launch, rest, err := ipc.ParseLaunchArgs(args)
	if err != nil {
		return nil, err
	}
	in, err := ipc.InheritPipeEnd(launch.ReadFD, false)
	if err != nil {
		return nil, fmt.Errorf("inherit read end: %w", err)
	}
	out, err := ipc.InheritPipeEnd(launch.WriteFD, true)
	if err != nil {
		iox.DiscardClose(in)
		return nil, fmt.Errorf("inherit write end: %w", err)
	}
	s := New(launch, in, out)
	s.rest = rest
	return s, nil
}

// New builds a session over explicit transports. in carries supervisor to
// child events and out the reverse.
func New(launch ipc.LaunchArgs, in, out ipc.Transport) *Session {
	return &Session{
		args: launch,
		ch:   ipc.NewChannel(in, out),
		out:  out,
	}
}

// Args returns the parsed launch arguments.
func (s *Session) Args() ipc.LaunchArgs { return s.args }

// Rest returns the positional arguments after the hearth flags.
func (s *Session) Rest() []string { return s.rest }

// Foreground reports whether the session was launched as the foreground
// application.
func (s *Session) Foreground() bool { return s.args.Foreground }

// Group returns the correlation group of a foreground session, or
// types.NoGroup for services.
func (s *Session) Group() uint32 {
	if !s.args.Foreground {
		return types.NoGroup
	}
	return s.args.Group
}

// Input reads the launch input text of a foreground session.
func (s *Session) Input() (string, error) {
	if !s.args.Foreground {
		return "", ErrNotForeground
	}
	if s.args.InputFile == "" {
		return "", nil
	}
	data, err := os.ReadFile(s.args.InputFile)
	if err != nil {
		return "", fmt.Errorf("read launch input: %w", err)
	}
	return string(data), nil
}

// Send writes events to the supervisor, waiting while the pipe is full.
func (s *Session) Send(ctx context.Context, events ...types.Event) error {
	s.ch.Queue(events...)
	for s.ch.Pending() > 0 {
		if _, err := s.ch.SendEvents(s.args.EventLimit); err != nil {
			return err
		}
		if s.ch.Pending() == 0 {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := s.out.Poll(s.timeout()); err != nil {
			return err
		}
	}
	return nil
}

// Ready announces that a service has finished starting.
func (s *Session) Ready(ctx context.Context) error {
	return s.Send(ctx, types.NewEvent(types.NoGroup, types.EventTypeServiceReady, nil))
}

// Receive waits up to the launch timeout for events. Events held back by
// Handshake are returned first.
func (s *Session) Receive() ([]types.Event, error) {
	if len(s.pending) > 0 {
		out := s.pending
		s.pending = nil
		return out, nil
	}
	_, err := s.ch.ReceiveEvents(s.args.EventLimit, s.timeout())
	return s.ch.Drain(nil), err
}

// Handshake performs the foreground reset handshake: it sends a reset
// request and waits for the acknowledgement carrying this session's group.
// Events that follow the acknowledgement in the same batch are kept for
// Receive.
func (s *Session) Handshake(ctx context.Context) error {
	if !s.args.Foreground {
		return ErrNotForeground
	}
	if err := s.Send(ctx, types.NewEvent(s.args.Group, types.EventTypeResetRequest, nil)); err != nil {
		return fmt.Errorf("send reset request: %w", err)
	}
	acked := false
	for !acked {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.ch.ReceiveEvents(s.args.EventLimit, s.timeout())
		for _, ev := range s.ch.Drain(nil) {
			switch {
			case acked:
				s.pending = append(s.pending, ev)
			case ev.Type == types.EventTypeResetAcknowledged && ev.GroupID == s.args.Group:
				acked = true
			}
		}
		if err != nil && !acked {
			return fmt.Errorf("await reset acknowledgement: %w", err)
		}
	}
	return nil
}

func (s *Session) timeout() time.Duration {
	if s.args.Timeout <= 0 {
		return 20 * time.Millisecond
	}
	return s.args.Timeout
}

// Close closes both pipe ends.
func (s *Session) Close() error {
	return s.ch.Close()
}
