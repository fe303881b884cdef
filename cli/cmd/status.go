package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
	"golang.org/x/sys/unix"

	"github.com/pithecene-io/hearth/cli/render"
	"github.com/pithecene-io/hearth/runtime"
	"github.com/pithecene-io/hearth/service"
)

// PoolStatus is one row of the status command.
type PoolStatus struct {
	Pool  string `json:"pool" yaml:"pool"`
	PIDs  []int  `json:"pids" yaml:"pids"`
	Alive int    `json:"alive" yaml:"alive"`
	File  string `json:"file" yaml:"file"`
}

// StatusCommand returns the status command. It reads the PID lists the
// supervisor keeps in its run directory and never contacts the supervisor.
func StatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show supervised service PIDs",
		Flags: append(ReadOnlyFlags(),
			&cli.StringFlag{
				Name:    "run-dir",
				Usage:   "Supervisor run directory",
				Value:   "/run/hearth",
				EnvVars: []string{"HEARTH_RUN_DIR"},
			},
		),
		Action: statusAction,
	}
}

func statusAction(c *cli.Context) error {
	if err := rejectTUI(c, "status"); err != nil {
		return err
	}
	r, err := render.NewRenderer(c)
	if err != nil {
		return err
	}
	rows, err := readStatus(c.String("run-dir"), processAlive)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return r.Render(rows)
}

// readStatus collects the PID list of every pool under runDir. A missing
// list means the pool has never been started and yields an empty row.
func readStatus(runDir string, alive func(int) bool) ([]PoolStatus, error) {
	var rows []PoolStatus
	for _, pool := range []string{runtime.PlatformPool, runtime.UserPool} {
		path := service.PIDFilePath(runDir, pool)
		pids, err := service.ReadPIDFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("pool %s: %w", pool, err)
		}
		row := PoolStatus{Pool: pool, PIDs: pids, File: path}
		for _, pid := range pids {
			if alive(pid) {
				row.Alive++
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// processAlive probes pid with signal 0. EPERM means the process exists
// but belongs to someone else.
func processAlive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}
