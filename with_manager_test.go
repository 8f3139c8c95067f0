package toolhost_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	toolhost "github.com/wagiedev/toolhost-go"
	"github.com/wagiedev/toolhost-go/internal/testserver"
)

func TestMain(m *testing.M) {
	testserver.Main()
	os.Exit(m.Run())
}

// testOptions launches the test binary as a filesystem tool server.
func testOptions(t *testing.T, mode, dir string) []toolhost.Option {
	t.Helper()

	o := testserver.Options(t, mode, dir)

	return []toolhost.Option{
		toolhost.WithRuntimePath(o.RuntimePath),
		toolhost.WithNoScript(),
		toolhost.WithArgs(o.Args...),
		toolhost.WithAllowedDirs(o.AllowedDirs...),
		toolhost.WithEnv(o.Env),
		toolhost.WithStartupTimeout(o.StartupTimeout),
		toolhost.WithStopGrace(o.StopGrace),
		toolhost.WithStartAttempts(1, -1),
	}
}

func TestWithManager_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := toolhost.WithManager(ctx, func(_ toolhost.Manager) error {
		t.Error("callback should not be called with cancelled context")

		return nil
	})
	require.ErrorIs(t, err, context.Canceled)
}

func TestWithManager_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	var manager toolhost.Manager

	err := toolhost.WithManager(ctx, func(m toolhost.Manager) error {
		manager = m

		require.Equal(t, toolhost.StateRunning, m.State())

		if err := m.WriteFile(ctx, "report.md", "done"); err != nil {
			return err
		}

		content, err := m.ReadFile(ctx, "report.md")
		require.NoError(t, err)
		require.Equal(t, "done", content)

		return nil
	}, testOptions(t, testserver.ModeFS, dir)...)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "report.md"))
	require.NoError(t, err)
	require.Equal(t, "done", string(data))

	// The manager is closed once the callback returns.
	require.Equal(t, toolhost.StateStopped, manager.State())

	_, err = manager.ExecuteTool(ctx, toolhost.ToolPing, nil)
	require.ErrorIs(t, err, toolhost.ErrManagerClosed)
}

func TestWithManager_CallbackError(t *testing.T) {
	sentinel := errors.New("callback failed")

	err := toolhost.WithManager(context.Background(), func(_ toolhost.Manager) error {
		return sentinel
	}, testOptions(t, testserver.ModeFS, t.TempDir())...)
	require.ErrorIs(t, err, sentinel)
}

func TestWithManager_StartFailure(t *testing.T) {
	err := toolhost.WithManager(context.Background(), func(_ toolhost.Manager) error {
		t.Error("callback should not be called when start fails")

		return nil
	}, testOptions(t, testserver.ModeExit, t.TempDir())...)

	processErr, ok := errors.AsType[*toolhost.ProcessError](err)
	require.True(t, ok, "expected ProcessError, got %v", err)
	require.Equal(t, 3, processErr.ExitCode)
}

func TestExecute(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), nil, 0o644))

	result, err := toolhost.Execute(context.Background(), toolhost.ToolListDirectory, nil,
		testOptions(t, testserver.ModeFS, dir)...)
	require.NoError(t, err)
	require.Equal(t, `["a.txt"]`, gjson.GetBytes(result, "files").Raw)
}

func TestExecute_ToolError(t *testing.T) {
	_, err := toolhost.Execute(context.Background(), toolhost.ToolReadFile,
		map[string]any{"path": "missing.txt"},
		testOptions(t, testserver.ModeFS, t.TempDir())...)

	toolErr, ok := errors.AsType[*toolhost.ToolError](err)
	require.True(t, ok, "expected ToolError, got %v", err)
	require.Equal(t, toolhost.ToolReadFile, toolErr.Tool)
}
