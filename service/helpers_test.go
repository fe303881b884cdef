package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/process/proctest"
	"github.com/pithecene-io/hearth/types"
)

// fakeChild is the child's side of an in-memory connection.
type fakeChild struct {
	proc *proctest.Fake
	peer *ipc.Channel
}

func newFakeConn(name string, pid int) (*Connection, *fakeChild) {
	toChild, fromChild := ipc.NewMemoryPipe(), ipc.NewMemoryPipe()
	proc := proctest.NewFake(pid)
	conn := NewConnection(name, proc, ipc.NewChannel(fromChild, toChild))
	conn.lastRunPath = "/bin/" + name
	return conn, &fakeChild{proc: proc, peer: ipc.NewChannel(toChild, fromChild)}
}

// emit writes events as the child would.
func (c *fakeChild) emit(t *testing.T, events ...types.Event) {
	t.Helper()
	c.peer.Queue(events...)
	_, err := c.peer.SendEvents(0)
	require.NoError(t, err)
}

// received reads whatever the supervisor has written to the child so far.
func (c *fakeChild) received(t *testing.T) []types.Event {
	t.Helper()
	_, err := c.peer.ReceiveEvents(0, time.Millisecond)
	require.NoError(t, err)
	return c.peer.Drain(nil)
}

// fakeSpawner hands out in-memory connections and remembers the children.
type fakeSpawner struct {
	mu       sync.Mutex
	nextPid  int
	children map[string]*fakeChild
	requests []SpawnRequest
	fail     map[string]bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPid: 100, children: make(map[string]*fakeChild), fail: make(map[string]bool)}
}

func (s *fakeSpawner) Spawn(req SpawnRequest) (*Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.fail[req.Name] {
		return nil, errors.New("exec format error")
	}
	s.nextPid++
	conn, child := newFakeConn(req.Name, s.nextPid)
	child.proc.ExitOnTerm = true
	s.children[req.Name] = child
	return conn, nil
}

func (s *fakeSpawner) child(name string) *fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[name]
}

// countingTerminator records termination requests.
type countingTerminator struct {
	mu      sync.Mutex
	reasons []error
}

func (c *countingTerminator) Terminate(reason error) {
	c.mu.Lock()
	c.reasons = append(c.reasons, reason)
	c.mu.Unlock()
}

func (c *countingTerminator) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.reasons)
}

// recordingSink collects exit records.
type recordingSink struct {
	mu     sync.Mutex
	exits  []types.ExitRecord
	events map[string]int
}

func (r *recordingSink) RecordEvents(source string, events []types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.events == nil {
		r.events = make(map[string]int)
	}
	r.events[source] += len(events)
}

func (r *recordingSink) RecordExit(rec types.ExitRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exits = append(r.exits, rec)
}

func (r *recordingSink) exitCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.exits)
}

func fastConfig(name string) Config {
	return Config{
		Name:              name,
		ReceiveTimeout:    time.Millisecond,
		AggregatorTimeout: 5 * time.Millisecond,
		StopGrace:         50 * time.Millisecond,
		StopPoll:          time.Millisecond,
	}
}
