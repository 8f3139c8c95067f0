//go:build integration

package integration

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	toolhost "github.com/wagiedev/toolhost-go"
)

// skipIfRuntimeNotInstalled skips the test if the error indicates node is not found.
func skipIfRuntimeNotInstalled(t *testing.T, err error) {
	t.Helper()

	if _, ok := errors.AsType[*toolhost.LaunchError](err); ok {
		t.Skip("node not installed")
	}
}

// startManager starts a manager on the bundled Node.js server rooted at a
// fresh temp directory.
func startManager(t *testing.T, opts ...toolhost.Option) (toolhost.Manager, string) {
	t.Helper()

	dir := t.TempDir()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	m, err := toolhost.NewManager(append([]toolhost.Option{
		toolhost.WithAllowedDirs(dir),
		toolhost.WithStateDir(t.TempDir()),
		toolhost.WithStartAttempts(1, -1),
	}, opts...)...)
	require.NoError(t, err)

	t.Cleanup(func() { _ = m.Close() })

	if err := m.Start(ctx); err != nil {
		skipIfRuntimeNotInstalled(t, err)
		t.Fatalf("Start failed: %v", err)
	}

	return m, dir
}
