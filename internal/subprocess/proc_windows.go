//go:build windows

package subprocess

import (
	"os"
	"syscall"
)

// createNoWindow keeps the console of the server hidden.
const createNoWindow = 0x08000000

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: createNoWindow,
	}
}

// terminateProcess has no graceful variant on Windows.
func terminateProcess(p *os.Process) error {
	return p.Kill()
}

func killProcess(p *os.Process) error {
	return p.Kill()
}
