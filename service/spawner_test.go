package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/process"
	"github.com/pithecene-io/hearth/types"
)

// writeEchoService writes a script that copies its event input descriptor
// to its event output descriptor, so every frame comes straight back.
func writeEchoService(t *testing.T) string {
	t.Helper()
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
	path := filepath.Join(t.TempDir(), "echo.sh")
	script := "#!/bin/sh\nexec cat <&3 >&4\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func TestProcessSpawner_EchoRoundTrip(t *testing.T) {
	binary := writeEchoService(t)
	conn, err := ProcessSpawner{}.Spawn(SpawnRequest{
		Name:   "echo",
		Binary: binary,
		Launch: ipc.LaunchArgs{EventLimit: 16, Timeout: 10 * time.Millisecond},
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	assert.True(t, conn.CanSend())
	assert.True(t, conn.CanReceive())
	assert.Equal(t, binary, conn.LastRunPath())
	assert.True(t, conn.Poll().Running)

	want := []types.Event{
		types.NewStringEvent(9, types.EventTypeSpeakText, "round trip"),
		types.NewEvent(9, types.EventTypeListenStop, nil),
	}
	ch := conn.Channel()
	ch.Queue(want...)
	require.Eventually(t, func() bool {
		_, _ = ch.SendEvents(0)
		return ch.Pending() == 0
	}, 2*time.Second, time.Millisecond)

	var got []types.Event
	require.Eventually(t, func() bool {
		_, _ = ch.ReceiveEvents(0, 10*time.Millisecond)
		got = ch.Drain(got)
		return len(got) >= len(want)
	}, 5*time.Second, time.Millisecond)
	assert.Equal(t, want, got)

	out, err := process.Escalate(context.Background(), conn.Process(), time.Second, 10*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, out.State.Running)
}

func TestProcessSpawner_MissingBinary(t *testing.T) {
	_, err := ProcessSpawner{}.Spawn(SpawnRequest{
		Name:   "ghost",
		Binary: filepath.Join(t.TempDir(), "does-not-exist"),
	})
	require.Error(t, err)
}

func TestConnection_SetDirections(t *testing.T) {
	oneWay := NewConnection("sink", nil, ipc.NewChannel(nil, ipc.NewMemoryPipe()))
	assert.True(t, oneWay.CanSend())
	assert.False(t, oneWay.CanReceive())

	oneWay.SetDirections(true, true)
	assert.False(t, oneWay.CanReceive(), "no inbound transport")
	oneWay.SetDirections(false, true)
	assert.False(t, oneWay.CanSend())
}
