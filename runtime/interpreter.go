package runtime

import (
	"bytes"
	"sync"

	"github.com/pithecene-io/hearth/types"
)

// LaunchRequest asks for a package to be brought to the foreground.
type LaunchRequest struct {
	// Path is the package directory.
	Path string
	// Command is the launch-command identifier handed to the application.
	Command string
	// Input is free text written to the application's input file.
	Input string
}

// InputInterpreter turns platform traffic into orchestrator decisions. The
// orchestrator feeds it every tick's platform inbound copy, then takes the
// decisions it needs.
type InputInterpreter interface {
	Observe(events []types.Event)
	// TakeStop reports and clears a pending foreground stop request.
	TakeStop() bool
	// TakePasswordVerified reports and clears a pending verification.
	TakePasswordVerified() bool
	// TakeLaunch returns and clears the pending launch request.
	TakeLaunch() (LaunchRequest, bool)
}

// ControlInterpreter reacts to the service-reserved control events:
// LaunchRequest (payload "path\x00command\x00input"), StopRequest and
// PasswordVerified. A newer launch request replaces an older pending one.
type ControlInterpreter struct {
	mu       sync.Mutex
	stop     bool
	verified bool
	launch   *LaunchRequest
}

// NewControlInterpreter returns an interpreter with nothing pending.
func NewControlInterpreter() *ControlInterpreter {
	return &ControlInterpreter{}
}

// Observe implements InputInterpreter.
func (c *ControlInterpreter) Observe(events []types.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ev := range events {
		switch ev.Type {
		case types.EventTypeLaunchRequest:
			req, ok := ParseLaunchRequest(ev.Payload)
			if ok {
				c.launch = &req
			}
		case types.EventTypeStopRequest:
			c.stop = true
		case types.EventTypePasswordVerified:
			c.verified = true
		}
	}
}

// TakeStop implements InputInterpreter.
func (c *ControlInterpreter) TakeStop() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	stop := c.stop
	c.stop = false
	return stop
}

// TakePasswordVerified implements InputInterpreter.
func (c *ControlInterpreter) TakePasswordVerified() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	verified := c.verified
	c.verified = false
	return verified
}

// TakeLaunch implements InputInterpreter.
func (c *ControlInterpreter) TakeLaunch() (LaunchRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.launch == nil {
		return LaunchRequest{}, false
	}
	req := *c.launch
	c.launch = nil
	return req, true
}

// ParseLaunchRequest decodes a LaunchRequest payload. Command and input may
// be omitted; the path may not be empty.
func ParseLaunchRequest(payload []byte) (LaunchRequest, bool) {
	parts := bytes.SplitN(payload, []byte{0}, 3)
	req := LaunchRequest{Path: string(parts[0])}
	if len(parts) > 1 {
		req.Command = string(parts[1])
	}
	if len(parts) > 2 {
		req.Input = string(parts[2])
	}
	return req, req.Path != ""
}

// Payload encodes r as a LaunchRequest payload.
func (r LaunchRequest) Payload() []byte {
	var b bytes.Buffer
	b.WriteString(r.Path)
	b.WriteByte(0)
	b.WriteString(r.Command)
	b.WriteByte(0)
	b.WriteString(r.Input)
	return b.Bytes()
}
