//go:build !linux

package sandbox

import (
	"errors"
	"syscall"
)

const confinementSupported = false

func sysProcAttr(p Policy) *syscall.SysProcAttr { return nil }

func unconfinedStart(err error) bool { return false }

func killProcessGroup(pid int) error {
	return errors.New("process groups are not supported on this platform")
}
