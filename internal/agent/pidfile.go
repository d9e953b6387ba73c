package agent

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// WritePIDFile writes the current process ID to path, for service managers
// that track the agent by PID. An empty path disables the PID file.
func WritePIDFile(path string) error {
	if path == "" {
		return nil
	}

	pid := os.Getpid()
	data := []byte(strconv.Itoa(pid) + "\n")

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write PID file %s: %w", path, err)
	}

	slog.Debug("PID file written", "path", path, "pid", pid)
	return nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove PID file %s: %w", path, err)
	}

	slog.Debug("PID file removed", "path", path)
	return nil
}
