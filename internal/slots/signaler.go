package slots

import (
	"context"
	"os"
	"syscall"
)

// LocalSignaler terminates slot owners with SIGTERM. Used when the monitor
// runs on the same host as the server, e.g. as a sidecar next to the data
// directory.
type LocalSignaler struct{}

// Terminate sends SIGTERM to the given process.
func (LocalSignaler) Terminate(_ context.Context, pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return proc.Signal(syscall.SIGTERM)
}
