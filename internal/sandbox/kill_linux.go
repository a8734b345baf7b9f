//go:build linux

package sandbox

import (
	"errors"

	"golang.org/x/sys/unix"
)

// killProcessGroup SIGKILLs every process in the group led by pid. The
// signal cannot be caught or ignored.
func killProcessGroup(pid int) error {
	if pid <= 0 {
		return nil
	}
	err := unix.Kill(-pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
