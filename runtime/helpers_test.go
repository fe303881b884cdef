package runtime

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/config"
	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/process/proctest"
	"github.com/pithecene-io/hearth/service"
	"github.com/pithecene-io/hearth/types"
)

// fakeChild is the child's side of an in-memory connection.
type fakeChild struct {
	req  service.SpawnRequest
	proc *proctest.Fake
	peer *ipc.Channel
}

func (c *fakeChild) emit(t *testing.T, events ...types.Event) {
	t.Helper()
	c.peer.Queue(events...)
	_, err := c.peer.SendEvents(0)
	require.NoError(t, err)
}

func (c *fakeChild) received(t *testing.T) []types.Event {
	t.Helper()
	_, err := c.peer.ReceiveEvents(0, time.Millisecond)
	require.NoError(t, err)
	return c.peer.Drain(nil)
}

// eventually collects what the child receives until cond holds.
func (c *fakeChild) eventually(t *testing.T, cond func([]types.Event) bool) []types.Event {
	t.Helper()
	var got []types.Event
	require.Eventually(t, func() bool {
		got = append(got, c.received(t)...)
		return cond(got)
	}, time.Second, 2*time.Millisecond)
	return got
}

// fakeSpawner hands out in-memory connections.
type fakeSpawner struct {
	mu       sync.Mutex
	nextPid  int
	children map[string][]*fakeChild
	fail     map[string]bool
}

func newFakeSpawner() *fakeSpawner {
	return &fakeSpawner{nextPid: 1000, children: make(map[string][]*fakeChild), fail: make(map[string]bool)}
}

func (s *fakeSpawner) Spawn(req service.SpawnRequest) (*service.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[req.Name] {
		return nil, errors.New("exec format error")
	}
	s.nextPid++
	toChild, fromChild := ipc.NewMemoryPipe(), ipc.NewMemoryPipe()
	proc := proctest.NewFake(s.nextPid)
	proc.ExitOnTerm = true
	s.children[req.Name] = append(s.children[req.Name], &fakeChild{
		req:  req,
		proc: proc,
		peer: ipc.NewChannel(toChild, fromChild),
	})
	return service.NewConnection(req.Name, proc, ipc.NewChannel(fromChild, toChild)), nil
}

// latest returns the most recent child spawned under name.
func (s *fakeSpawner) latest(name string) *fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.children[name]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

func (s *fakeSpawner) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.children[name])
}

func testPackage(name string, typ config.PackageType, perms map[types.Category]types.Bitmask) *config.Package {
	return &config.Package{
		Path:            "/pkg/" + name,
		Name:            name,
		Type:            typ,
		Binary:          "/pkg/" + name + "/bin",
		ProtocolVersion: 1,
		Permissions:     perms,
	}
}

func fastForeground(t *testing.T, spawner service.Spawner) *Foreground {
	t.Helper()
	fg := NewForeground(ForegroundConfig{
		ReceiveTimeout: time.Millisecond,
		StopGrace:      50 * time.Millisecond,
		StopPoll:       time.Millisecond,
		InputDir:       t.TempDir(),
		Protected:      map[types.EventType]bool{types.EventTypeLaunchApp: true},
		Spawner:        spawner,
	})
	t.Cleanup(func() { fg.release() })
	return fg
}

// handshake completes the reset handshake for child and returns the
// acknowledgement batch.
func handshake(t *testing.T, child *fakeChild, group uint32) []types.Event {
	t.Helper()
	child.emit(t, types.NewEvent(group, types.EventTypeResetRequest, nil))
	return child.eventually(t, func(got []types.Event) bool { return len(got) > 0 })
}
