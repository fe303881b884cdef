// Package service supervises pools of long-lived child processes. Each
// member runs its own worker goroutine pumping events over the child's
// channel; a per-pool aggregator goroutine reaps exited members, collects
// inbound events and distributes outbound events according to the pool's
// Strategy.
package service

import (
	"errors"
	"io"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/process"
)

// Connection is a supervised child process plus its event channel.
//
// The channel is owned by whichever goroutine pumps it (a pool worker or the
// foreground pump); the remaining fields are written before pumping starts.
type Connection struct {
	name    string
	proc    process.Process
	channel *ipc.Channel

	canSend     bool
	canReceive  bool
	lastRunPath string
}

// NewConnection composes a process and a channel. Both directions are
// enabled when the channel has the corresponding transport.
func NewConnection(name string, proc process.Process, channel *ipc.Channel) *Connection {
	return &Connection{
		name:       name,
		proc:       proc,
		channel:    channel,
		canSend:    channel.CanSend(),
		canReceive: channel.CanReceive(),
	}
}

// Name returns the connection's name.
func (c *Connection) Name() string { return c.name }

// Process returns the supervised process.
func (c *Connection) Process() process.Process { return c.proc }

// Channel returns the event channel.
func (c *Connection) Channel() *ipc.Channel { return c.channel }

// Pid returns the child's pid.
func (c *Connection) Pid() int { return c.proc.Pid() }

// Poll reports the child's state without blocking.
func (c *Connection) Poll() process.State { return c.proc.Poll() }

// CanSend reports whether events may be sent to the child.
func (c *Connection) CanSend() bool { return c.canSend }

// CanReceive reports whether events are read from the child.
func (c *Connection) CanReceive() bool { return c.canReceive }

// SetDirections restricts the directions pumped for this connection. A
// direction without a transport stays disabled.
func (c *Connection) SetDirections(send, receive bool) {
	c.canSend = send && c.channel.CanSend()
	c.canReceive = receive && c.channel.CanReceive()
}

// LastRunPath returns the binary the child was spawned from.
func (c *Connection) LastRunPath() string { return c.lastRunPath }

// Close closes the channel and releases the process, force-killing it if it
// is still running.
func (c *Connection) Close() error {
	errs := []error{c.channel.Close()}
	if closer, ok := c.proc.(io.Closer); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}
