package manager

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/supervisor"
	"github.com/wagiedev/toolhost-go/internal/testserver"
	"github.com/wagiedev/toolhost-go/internal/tools"
)

func TestMain(m *testing.M) {
	testserver.Main()
	os.Exit(m.Run())
}

func newManager(t *testing.T, mode string, dirs ...string) *Manager {
	t.Helper()

	m := New(testserver.Options(t, mode, dirs...))
	t.Cleanup(func() { _ = m.Close() })

	return m
}

// Scenario A: a write through the manager lands on disk.
func TestManager_WriteFile(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, testserver.ModeFS, dir)

	ctx := context.Background()

	require.Equal(t, supervisor.StateStopped, m.State())

	require.NoError(t, m.WriteFile(ctx, "notes/today.md", "# hello\n"))
	require.Equal(t, supervisor.StateRunning, m.State())

	data, err := os.ReadFile(filepath.Join(dir, "notes", "today.md"))
	require.NoError(t, err)
	require.Equal(t, "# hello\n", string(data))

	content, err := m.ReadFile(ctx, "notes/today.md")
	require.NoError(t, err)
	require.Equal(t, "# hello\n", content)

	entries, err := m.ListDirectory(ctx, "")
	require.NoError(t, err)
	require.Equal(t, []string{"notes/"}, entries)
}

// Scenario B: a child that always exits fails Start after bounded retries.
func TestManager_StartFailsAfterRetries(t *testing.T) {
	var launches atomic.Int32

	opts := testserver.Options(t, testserver.ModeExit)
	opts.StartAttempts = 3
	opts.StartBackoff = 10 * time.Millisecond
	opts.Stderr = func(line string) {
		if strings.Contains(line, testserver.ExitMessage) {
			launches.Add(1)
		}
	}

	m := New(opts)
	t.Cleanup(func() { _ = m.Close() })

	err := m.Start(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "after 3 attempts")

	processErr, ok := stderrors.AsType[*errors.ProcessError](err)
	require.True(t, ok, "expected ProcessError, got %v", err)
	require.Equal(t, 3, processErr.ExitCode)

	require.Equal(t, int32(3), launches.Load())
	require.Equal(t, supervisor.StateFailed, m.State())

	_, err = m.ExecuteTool(context.Background(), tools.Ping, nil)
	require.Error(t, err)
}

func TestManager_StartCancelledDuringBackoff(t *testing.T) {
	opts := testserver.Options(t, testserver.ModeExit)
	opts.StartAttempts = 5
	opts.StartBackoff = time.Hour

	m := New(opts)
	t.Cleanup(func() { _ = m.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := m.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Scenario C: a call the child never answers returns at its deadline and the
// server keeps running.
func TestManager_CallTimeout(t *testing.T) {
	opts := testserver.Options(t, testserver.ModeFS)
	opts.CallTimeout = 200 * time.Millisecond

	m := New(opts)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	start := time.Now()
	_, err := m.ExecuteTool(ctx, testserver.ToolHang, nil)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, errors.ErrRequestTimeout)
	require.GreaterOrEqual(t, elapsed, 200*time.Millisecond)
	require.Less(t, elapsed, 2*time.Second)

	require.Equal(t, supervisor.StateRunning, m.State())
	require.Zero(t, m.Restarts())

	_, err = m.ExecuteTool(ctx, tools.Ping, nil)
	require.NoError(t, err)
}

func TestManager_ConsecutiveTimeoutsRestart(t *testing.T) {
	opts := testserver.Options(t, testserver.ModeFS)
	opts.CallTimeout = 100 * time.Millisecond
	opts.MaxConsecutiveTimeouts = 2

	m := New(opts)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	firstPID := m.PID()

	for range 2 {
		_, err := m.ExecuteTool(ctx, testserver.ToolHang, nil)
		require.ErrorIs(t, err, errors.ErrRequestTimeout)
	}

	require.Equal(t, firstPID, m.PID())

	_, err := m.ExecuteTool(ctx, tools.Ping, nil)
	require.NoError(t, err)

	require.Equal(t, 1, m.Restarts())
	require.NotEqual(t, firstPID, m.PID())
}

func TestManager_SuccessResetsTimeouts(t *testing.T) {
	opts := testserver.Options(t, testserver.ModeFS)
	opts.CallTimeout = 100 * time.Millisecond
	opts.MaxConsecutiveTimeouts = 2

	m := New(opts)
	t.Cleanup(func() { _ = m.Close() })

	ctx := context.Background()

	for range 3 {
		_, err := m.ExecuteTool(ctx, testserver.ToolHang, nil)
		require.ErrorIs(t, err, errors.ErrRequestTimeout)

		_, err = m.ExecuteTool(ctx, tools.Ping, nil)
		require.NoError(t, err)
	}

	require.Zero(t, m.Restarts())
}

func TestManager_RestartOnFailureExactlyOnce(t *testing.T) {
	m := newManager(t, testserver.ModeFS)

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	// The child exits on this tool every time, so the single retry fails too.
	_, err := m.ExecuteTool(ctx, testserver.ToolDie, nil)
	require.ErrorIs(t, err, errors.ErrTransportClosed)
	require.Equal(t, 1, m.Restarts())

	_, err = m.ExecuteTool(ctx, tools.Ping, nil)
	require.NoError(t, err)
	require.Equal(t, 1, m.Restarts())
}

func TestManager_RestartAfterDeathBetweenCalls(t *testing.T) {
	m := newManager(t, testserver.ModeFS)

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	pid := m.PID()

	proc, err := os.FindProcess(pid)
	require.NoError(t, err)
	require.NoError(t, proc.Kill())

	require.Eventually(t, func() bool {
		return m.State() == supervisor.StateFailed
	}, 2*time.Second, 10*time.Millisecond)

	_, err = m.ExecuteTool(ctx, tools.Ping, nil)
	require.NoError(t, err)
	require.NotEqual(t, pid, m.PID())
}

func TestManager_ConcurrentCalls(t *testing.T) {
	dir := t.TempDir()
	m := newManager(t, testserver.ModeFS, dir)

	ctx := context.Background()

	const n = 20

	for i := range n {
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("f%d.txt", i)), fmt.Appendf(nil, "content-%d", i), 0o644))
	}

	var wg sync.WaitGroup

	for i := range n {
		wg.Go(func() {
			content, err := m.ReadFile(ctx, fmt.Sprintf("f%d.txt", i))
			assert.NoError(t, err)
			assert.Equal(t, fmt.Sprintf("content-%d", i), content)
		})
	}

	wg.Wait()

	require.Zero(t, m.Restarts())
}

func TestManager_ToolError(t *testing.T) {
	m := newManager(t, testserver.ModeFS)

	_, err := m.ReadFile(context.Background(), "missing.txt")

	toolErr, ok := stderrors.AsType[*errors.ToolError](err)
	require.True(t, ok, "expected ToolError, got %v", err)
	require.Equal(t, tools.ReadFile, toolErr.Tool)
	require.NotEmpty(t, toolErr.RequestID)
	require.Zero(t, m.Restarts())
}

func TestManager_ValidationErrorDoesNotStart(t *testing.T) {
	m := newManager(t, testserver.ModeFS)

	_, err := m.ExecuteTool(context.Background(), tools.WriteFile, map[string]any{"path": ""})

	_, ok := stderrors.AsType[*errors.ValidationError](err)
	require.True(t, ok, "expected ValidationError, got %v", err)
	require.Equal(t, supervisor.StateStopped, m.State())
}

func TestManager_Close(t *testing.T) {
	m := New(testserver.Options(t, testserver.ModeFS))

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	require.NotZero(t, m.PID())

	require.NoError(t, m.Close())
	require.Equal(t, supervisor.StateStopped, m.State())
	require.Zero(t, m.PID())

	_, err := m.ExecuteTool(ctx, tools.Ping, nil)
	require.ErrorIs(t, err, errors.ErrManagerClosed)
	require.ErrorIs(t, m.Start(ctx), errors.ErrManagerClosed)

	require.NoError(t, m.Close())
}

func TestManager_CloseWakesPendingCalls(t *testing.T) {
	m := New(testserver.Options(t, testserver.ModeFS))

	ctx := context.Background()

	require.NoError(t, m.Start(ctx))

	errCh := make(chan error, 1)

	go func() {
		_, err := m.ExecuteTool(ctx, testserver.ToolHang, nil)
		errCh <- err
	}()

	time.Sleep(100 * time.Millisecond)

	require.NoError(t, m.Close())

	select {
	case err := <-errCh:
		require.ErrorIs(t, err, errors.ErrManagerClosed)
	case <-time.After(5 * time.Second):
		t.Fatal("pending call was not woken by Close")
	}
}
