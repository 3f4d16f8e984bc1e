package raop

import (
	"fmt"
	"os"
	"strings"
	"syscall"
)

// fifoPath returns the well-known named-pipe path for a session's
// active_remote_id, matching the original's f"/tmp/fifo-{active_remote_id}".
func fifoPath(activeRemoteID string) string {
	return fmt.Sprintf("/tmp/fifo-%s", activeRemoteID)
}

// sendCommand writes a one-shot textual command to the named pipe. The
// pipe is created with syscall.Mkfifo if it doesn't already exist, matching
// the original's os.mkfifo; opening for write blocks until cliraop has the
// read end open, so this must never be called from a goroutine that also
// needs to make progress on stdin/stderr.
func sendCommand(activeRemoteID, command string) error {
	path := fifoPath(activeRemoteID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := syscall.Mkfifo(path, 0o600); err != nil {
			return fmt.Errorf("raop: creating control pipe: %w", err)
		}
	}

	if !strings.HasSuffix(command, "\n") {
		command += "\n"
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("raop: opening control pipe: %w", err)
	}
	defer f.Close()

	_, err = f.WriteString(command)
	return err
}

// RemoveFifo cleans up the named pipe once a session's driver has
// permanently exited.
func RemoveFifo(activeRemoteID string) {
	_ = os.Remove(fifoPath(activeRemoteID))
}
