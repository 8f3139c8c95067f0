//go:build !windows

package subprocess

import (
	"os"
	"syscall"
)

// sysProcAttr puts the server in its own process group so that signals reach
// any helpers it spawns and a terminal Ctrl-C does not hit it first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// terminateProcess sends SIGTERM to the process group.
func terminateProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGTERM); err != nil {
		return p.Signal(syscall.SIGTERM)
	}

	return nil
}

// killProcess sends SIGKILL to the process group.
func killProcess(p *os.Process) error {
	if err := syscall.Kill(-p.Pid, syscall.SIGKILL); err != nil {
		return p.Kill()
	}

	return nil
}
