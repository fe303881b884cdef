package service

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pithecene-io/hearth/iox"
)

// PIDFileSuffix is appended to the pool name to form its PID-list file.
const PIDFileSuffix = ".pids"

// PIDFilePath returns the PID-list file of pool inside runDir.
func PIDFilePath(runDir, pool string) string {
	return filepath.Join(runDir, pool+PIDFileSuffix)
}

// WritePIDFile replaces the PID-list file atomically: one pid per line.
func WritePIDFile(path string, pids []int) error {
	var b strings.Builder
	for _, pid := range pids {
		b.WriteString(strconv.Itoa(pid))
		b.WriteByte('\n')
	}
	if err := iox.WriteFileAtomic(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

// ReadPIDFile parses a PID-list file. Blank lines are ignored.
func ReadPIDFile(path string) ([]int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pids []int
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		pid, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid pid %q", path, i+1, line)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
