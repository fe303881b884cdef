package service

import (
	"fmt"
	"os"

	"github.com/pithecene-io/hearth/ipc"
	"github.com/pithecene-io/hearth/process"
)

// SpawnRequest describes a child to start.
type SpawnRequest struct {
	Name   string
	Binary string
	// Launch carries the limit and timeout (and, for the foreground, the
	// session) flags. The descriptor fields are filled in by the spawner.
	Launch ipc.LaunchArgs
	// Args are appended after the launch flags.
	Args    []string
	Options process.Options
}

// Spawner starts children and wires their event channels.
type Spawner interface {
	Spawn(req SpawnRequest) (*Connection, error)
}

// ProcessSpawner starts real processes connected by a pair of anonymous
// pipes. The child reads supervisor events on ipc.ChildReadFD and writes its
// own events to ipc.ChildWriteFD.
type ProcessSpawner struct{}

// Spawn implements Spawner.
func (ProcessSpawner) Spawn(req SpawnRequest) (*Connection, error) {
	toChild, err := ipc.OpenPipe()
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	fromChild, err := ipc.OpenPipe()
	if err != nil {
		_ = toChild.Close()
		return nil, fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	cleanup := func() {
		_ = toChild.Close()
		_ = fromChild.Close()
	}

	childRead, err := toChild.Read.Detach(req.Name + "-events-in")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	defer childRead.Close()
	childWrite, err := fromChild.Write.Detach(req.Name + "-events-out")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn %s: %w", req.Name, err)
	}
	defer childWrite.Close()

	launch := req.Launch
	launch.ReadFD = ipc.ChildReadFD
	launch.WriteFD = ipc.ChildWriteFD
	args := append(launch.Args(), req.Args...)

	opts := req.Options
	opts.ExtraFiles = append([]*os.File{childRead, childWrite}, opts.ExtraFiles...)

	handle := process.NewHandle(req.Name)
	if err := handle.Spawn(req.Binary, args, opts); err != nil {
		cleanup()
		return nil, err
	}

	conn := NewConnection(req.Name, handle, ipc.NewChannel(fromChild.Read, toChild.Write))
	conn.lastRunPath = req.Binary
	return conn, nil
}
