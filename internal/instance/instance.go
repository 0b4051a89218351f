// Package instance makes sure only one kiosk daemon drives the camera.
package instance

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-ps"
)

// ErrAlreadyRunning is returned when another process with the same executable is alive.
var ErrAlreadyRunning = errors.New("another kiosk instance is already running")

// ProcessLister lists the processes of the machine.
type ProcessLister func() ([]ps.Process, error)

// EnsureSingle fails when a process other than the current one runs the same executable.
func EnsureSingle() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	return ensureSingle(ps.Processes, filepath.Base(executable), os.Getpid())
}

// ensureSingle scans the process list for executableName.
func ensureSingle(list ProcessLister, executableName string, selfPID int) error {
	processList, err := list()
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	for _, process := range processList {
		if process.Pid() == selfPID {
			continue
		}

		if process.Executable() != executableName {
			continue
		}

		return fmt.Errorf("%w (pid %d)", ErrAlreadyRunning, process.Pid())
	}

	return nil
}
