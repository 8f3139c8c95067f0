package manager

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/supervisor"
	"github.com/wagiedev/toolhost-go/internal/tools"
)

// Manager is the single entry point for tool calls. It owns one supervised
// tool server, starts it on demand and restarts it once when a call finds the
// process gone.
type Manager struct {
	log        *slog.Logger
	opts       *config.Options
	supervisor *supervisor.Supervisor
	registry   *tools.Registry

	// Lifecycle operations (start, restart, close) are serialised by mu.
	// It is never held while a call waits for its reply.
	mu sync.Mutex

	timeouts atomic.Int32
	restarts atomic.Int64

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New creates a manager. The tool server is not started until Start or the
// first call.
func New(options *config.Options) *Manager {
	opts := options.WithDefaults()
	log := opts.Logger.With("component", "manager")

	return &Manager{
		log:        log,
		opts:       opts,
		supervisor: supervisor.New(opts.Logger, opts),
		registry:   tools.Default(),
	}
}

// State returns the state of the supervised tool server.
func (m *Manager) State() supervisor.State {
	return m.supervisor.State()
}

// PID returns the process id of the running tool server, or 0.
func (m *Manager) PID() int {
	return m.supervisor.PID()
}

// Restarts returns how many failure-triggered restarts have happened.
func (m *Manager) Restarts() int {
	return int(m.restarts.Load())
}

// Start launches the tool server, retrying up to StartAttempts times with a
// doubling backoff. It is a no-op if the server is already running.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return errors.ErrManagerClosed
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	return m.startLocked(ctx)
}

func (m *Manager) startLocked(ctx context.Context) error {
	if m.supervisor.State() == supervisor.StateRunning {
		return nil
	}

	var lastErr error

	for attempt := 1; attempt <= m.opts.StartAttempts; attempt++ {
		if attempt > 1 {
			if err := m.backoff(ctx, attempt); err != nil {
				return err
			}
		}

		m.log.Debug("Starting tool server", "attempt", attempt, "max_attempts", m.opts.StartAttempts)

		lastErr = m.supervisor.Start(ctx)
		if lastErr == nil {
			m.timeouts.Store(0)

			return nil
		}

		if ctx.Err() != nil {
			return lastErr
		}

		m.log.Warn("Tool server start failed", "attempt", attempt, "error", lastErr)
	}

	return fmt.Errorf("start tool server after %d attempts: %w", m.opts.StartAttempts, lastErr)
}

func (m *Manager) backoff(ctx context.Context, attempt int) error {
	if m.opts.StartBackoff < 0 {
		return nil
	}

	delay := m.opts.StartBackoff << (attempt - 2)

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// restart stops and starts the tool server unless another caller already
// replaced the process identified by failedPID.
func (m *Manager) restart(ctx context.Context, failedPID int, reason error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return errors.ErrManagerClosed
	}

	if m.supervisor.State() == supervisor.StateRunning && m.supervisor.PID() != failedPID {
		return nil
	}

	m.log.Warn("Restarting tool server", "reason", reason)
	m.restarts.Add(1)

	if err := m.supervisor.Stop(ctx); err != nil {
		m.log.Warn("Stop before restart failed", "error", err)
	}

	return m.startLocked(ctx)
}

// ensureRunning starts the server if needed, and restarts it first once the
// consecutive timeout threshold has been reached.
func (m *Manager) ensureRunning(ctx context.Context) error {
	if int(m.timeouts.Load()) >= m.opts.MaxConsecutiveTimeouts {
		pid := m.supervisor.PID()
		m.timeouts.Store(0)

		return m.restart(ctx, pid, fmt.Errorf("%d consecutive timeouts", m.opts.MaxConsecutiveTimeouts))
	}

	if m.supervisor.State() == supervisor.StateRunning {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed.Load() {
		return errors.ErrManagerClosed
	}

	return m.startLocked(ctx)
}

// ExecuteTool validates params, makes sure the server is running and sends
// one tool call with CallTimeout.
//
// If the process turns out to be gone the server is restarted exactly once
// and the call is retried once. Tool errors and timeouts are returned as is;
// a timeout counts towards MaxConsecutiveTimeouts.
func (m *Manager) ExecuteTool(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error) {
	if m.closed.Load() {
		return nil, errors.ErrManagerClosed
	}

	if err := m.registry.Validate(tool, params); err != nil {
		return nil, err
	}

	if err := m.ensureRunning(ctx); err != nil {
		return nil, err
	}

	pid := m.supervisor.PID()

	result, err := m.call(ctx, tool, params)
	if err == nil || !restartable(err) || ctx.Err() != nil {
		return result, err
	}

	if m.closed.Load() {
		return nil, errors.ErrManagerClosed
	}

	m.log.Info("Tool server unavailable, retrying after restart", "tool", tool, "error", err)

	if restartErr := m.restart(ctx, pid, err); restartErr != nil {
		return nil, fmt.Errorf("restart after %v: %w", err, restartErr)
	}

	return m.call(ctx, tool, params)
}

func (m *Manager) call(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error) {
	result, err := m.supervisor.Call(ctx, tool, params, m.opts.CallTimeout)

	switch {
	case err == nil:
		m.timeouts.Store(0)
	case stderrors.Is(err, errors.ErrRequestTimeout):
		n := m.timeouts.Add(1)
		m.log.Warn("Tool call timed out", "tool", tool, "consecutive", n)
	}

	return result, err
}

func restartable(err error) bool {
	return stderrors.Is(err, errors.ErrTransportClosed) || stderrors.Is(err, errors.ErrNotRunning)
}

// WriteFile writes content to path.
func (m *Manager) WriteFile(ctx context.Context, path, content string) error {
	_, err := m.ExecuteTool(ctx, tools.WriteFile, map[string]any{"path": path, "content": content})

	return err
}

// ReadFile returns the content of path.
func (m *Manager) ReadFile(ctx context.Context, path string) (string, error) {
	result, err := m.ExecuteTool(ctx, tools.ReadFile, map[string]any{"path": path})
	if err != nil {
		return "", err
	}

	content := gjson.GetBytes(result, "content")
	if content.Type != gjson.String {
		return "", fmt.Errorf("read_file: result has no content: %s", result)
	}

	return content.String(), nil
}

// ListDirectory returns the entries of path. Directory names carry a
// trailing slash. An empty path lists the first allowed directory.
func (m *Manager) ListDirectory(ctx context.Context, path string) ([]string, error) {
	var params map[string]any
	if path != "" {
		params = map[string]any{"path": path}
	}

	result, err := m.ExecuteTool(ctx, tools.ListDirectory, params)
	if err != nil {
		return nil, err
	}

	files := gjson.GetBytes(result, "files")
	if !files.IsArray() {
		return nil, fmt.Errorf("list_directory: result has no files: %s", result)
	}

	entries := make([]string, 0, len(files.Array()))
	for _, f := range files.Array() {
		entries = append(entries, f.String())
	}

	return entries, nil
}

// Close stops the tool server. After Close every call returns
// errors.ErrManagerClosed. It is safe to call more than once.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.closed.Store(true)

		m.mu.Lock()
		defer m.mu.Unlock()

		m.log.Info("Closing manager")

		m.closeErr = m.supervisor.Stop(context.Background())

		m.log.Info("Manager closed")
	})

	return m.closeErr
}
