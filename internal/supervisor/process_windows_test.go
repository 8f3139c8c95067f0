//go:build windows

package supervisor

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// requireProcessGone asserts that no process with pid exists any more.
func requireProcessGone(t *testing.T, pid int) {
	t.Helper()

	_, err := os.FindProcess(pid)
	require.Error(t, err, "process %d still exists", pid)
}
