package engine

import (
	"fmt"
	"mockhttp/pkg/utils/fs"
	"os"
	"path/filepath"
	"syscall"
)

// KillMockServer signals the server started with the same config path to shut down.
func KillMockServer(configPath string) error {
	config, err := LoadConfig(configPath)
	if err != nil {
		return err
	}

	pidPath := filepath.Join(config.Storage.Path, PID_FILE)
	pid, err := fs.ReadPidFile(pidPath)
	if err != nil {
		return err
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process with PID %d: %w", pid, err)
	}

	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM to process %d: %w", pid, err)
	}

	return nil
}
