//go:build !windows

package supervisor

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireProcessGone asserts that no process with pid exists any more.
func requireProcessGone(t *testing.T, pid int) {
	t.Helper()

	require.ErrorIs(t, syscall.Kill(pid, 0), syscall.ESRCH, "process %d still exists", pid)
}
