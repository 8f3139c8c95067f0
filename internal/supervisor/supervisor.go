package supervisor

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/errors"
	"github.com/wagiedev/toolhost-go/internal/launch"
	"github.com/wagiedev/toolhost-go/internal/protocol"
	"github.com/wagiedev/toolhost-go/internal/subprocess"
)

// State is the lifecycle state of the supervised tool server.
type State int32

const (
	// StateStopped means no process exists.
	StateStopped State = iota
	// StateStarting means the process is being launched and is not ready yet.
	StateStarting
	// StateReady means the readiness signal was observed.
	StateReady
	// StateRunning means a probe round trip succeeded; calls are accepted.
	StateRunning
	// StateStopping means shutdown is in progress.
	StateStopping
	// StateFailed means startup failed or the process died unexpectedly.
	StateFailed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Supervisor launches the tool server, detects readiness, watches for
// unexpected exit and shuts it down. It exclusively owns the process: nothing
// else signals or kills it.
//
// Thread Safety: Supervisor is safe for concurrent use. The state field uses
// atomic operations for lock-free reads. Lifecycle transitions are serialised
// by mu, which is never held while a tool call waits for its reply.
type Supervisor struct {
	log  *slog.Logger
	opts *config.Options

	// newTransport builds the transport for a launch. Tests replace it.
	newTransport func(log *slog.Logger, command subprocess.Command) config.Transport

	mu      sync.Mutex
	state   atomic.Int32
	run     *run // Current process, protected by mu
	lock    *flock.Flock
	lastErr error

	// current mirrors run once it is running, for lock-free reads by Call.
	current atomic.Pointer[run]
}

// run holds everything tied to one process instance.
type run struct {
	transport  config.Transport
	dispatcher *protocol.Dispatcher
	pump       *protocol.Pump
	client     *protocol.Client
	cancel     context.CancelFunc
	watchDone  chan struct{}
}

// New creates a stopped supervisor.
func New(log *slog.Logger, opts *config.Options) *Supervisor {
	opts = opts.WithDefaults()

	if log == nil {
		log = opts.Logger
	}

	return &Supervisor{
		log:  log.With("component", "supervisor"),
		opts: opts,
		newTransport: func(log *slog.Logger, command subprocess.Command) config.Transport {
			return subprocess.New(log, command)
		},
	}
}

// State returns the current state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Err returns the error that moved the supervisor to StateFailed, or nil.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastErr
}

// PID returns the process id of the running server, or 0.
func (s *Supervisor) PID() int {
	r := s.current.Load()
	if r == nil {
		return 0
	}

	return r.transport.PID()
}

func (s *Supervisor) setState(next State) {
	prev := State(s.state.Swap(int32(next)))
	if prev != next {
		s.log.Debug("State transition", "from", prev, "to", next)
	}
}

// Start launches the tool server and blocks until it is running, the startup
// deadline passes, the process exits or ctx is cancelled.
//
// On failure the process is torn down, the state becomes StateFailed and the
// error is one of *errors.LaunchError, *errors.ReadinessTimeoutError,
// *errors.ProcessError, errors.ErrLocked or the context error.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateStarting, StateReady, StateRunning:
		return errors.ErrAlreadyStarted
	}

	if s.run != nil {
		// The previous process died while running; reap it first.
		s.current.Store(nil)

		if err := s.shutdown(ctx, s.run); err != nil {
			s.log.Warn("Failed to reap previous tool server", "error", err)
		}

		s.run = nil
	}

	s.setState(StateStarting)
	s.lastErr = nil

	if err := s.start(ctx); err != nil {
		s.lastErr = err
		s.setState(StateFailed)
		s.releaseLock()

		s.log.Error("Tool server failed to start", "error", err)

		return err
	}

	s.current.Store(s.run)
	s.setState(StateRunning)
	s.log.Info("Tool server running", "pid", s.run.transport.PID())

	return nil
}

func (s *Supervisor) start(ctx context.Context) error {
	if err := s.acquireLock(); err != nil {
		return err
	}

	if err := launch.EnsureDirs(s.opts.AllowedDirs); err != nil {
		return err
	}

	command, err := s.buildCommand(ctx)
	if err != nil {
		return err
	}

	transport := s.newTransport(s.log, command)
	if err := transport.Start(ctx); err != nil {
		return err
	}

	dispatcher := protocol.NewDispatcher(s.log)

	marker := s.opts.ReadinessMarker
	if s.opts.DisableReadinessMarker {
		marker = ""
	}

	r := &run{
		transport:  transport,
		dispatcher: dispatcher,
		pump:       protocol.NewPump(s.log, dispatcher, marker, s.opts.Stderr),
		client:     protocol.NewClient(s.log, transport, dispatcher, s.opts.InlineParams, s.opts.ProbeTool),
		watchDone:  make(chan struct{}),
	}

	readCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel

	transport.ReadLines(readCtx, r.pump.HandleLine)

	go s.watch(r)

	s.run = r

	if err := s.awaitRunning(ctx, r, marker == ""); err != nil {
		s.teardown(r)
		s.run = nil

		select {
		case <-r.watchDone:
		case <-time.After(s.opts.StopGrace):
		}

		return err
	}

	return nil
}

// buildCommand discovers the runtime and assembles argv, env and directory.
func (s *Supervisor) buildCommand(ctx context.Context) (subprocess.Command, error) {
	discoverer := launch.NewDiscoverer(&launch.Config{
		Runtime:     s.opts.Runtime,
		RuntimePath: s.opts.RuntimePath,
		Logger:      s.log,
	})

	runtimePath, err := discoverer.Discover(ctx)
	if err != nil {
		return subprocess.Command{}, err
	}

	script := ""

	switch {
	case s.opts.NoScript:
	case s.opts.ScriptPath != "":
		script = s.opts.ScriptPath
	default:
		script, err = launch.MaterializeScript(s.stateDir())
		if err != nil {
			return subprocess.Command{}, &errors.LaunchError{Err: err}
		}
	}

	command := subprocess.Command{
		Path:        runtimePath,
		Args:        launch.BuildArgs(script, s.opts),
		Env:         launch.BuildEnvironment(s.opts),
		Dir:         s.opts.WorkDir,
		MaxLineSize: s.opts.MaxLineSize,
	}

	s.log.Debug("Built command", "path", command.Path, "args", command.Args, "dir", command.Dir)

	return command, nil
}

func (s *Supervisor) stateDir() string {
	if s.opts.StateDir != "" {
		return s.opts.StateDir
	}

	base := s.opts.WorkDir
	if base == "" {
		base, _ = os.Getwd()
	}

	return filepath.Join(base, ".toolhost")
}

// awaitRunning drives Starting -> Ready -> Running.
func (s *Supervisor) awaitRunning(ctx context.Context, r *run, poll bool) error {
	deadline := time.NewTimer(s.opts.StartupTimeout)
	defer deadline.Stop()

	if poll {
		return s.pollProbe(ctx, r, deadline.C)
	}

	select {
	case <-r.pump.Ready():
	case <-r.transport.Done():
		return exitError(r.transport, "before becoming ready")
	case <-deadline.C:
		return &errors.ReadinessTimeoutError{Timeout: s.opts.StartupTimeout}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.setState(StateReady)

	if err := r.client.Probe(ctx, s.opts.ProbeTimeout); err != nil {
		if stderrors.Is(err, errors.ErrTransportClosed) {
			return exitError(r.transport, "during probe")
		}

		return err
	}

	return nil
}

// pollProbe repeats the probe until it succeeds, for servers that print no
// readiness line.
func (s *Supervisor) pollProbe(ctx context.Context, r *run, deadline <-chan time.Time) error {
	for attempt := 1; ; attempt++ {
		err := r.client.Probe(ctx, s.opts.ProbeTimeout)
		if err == nil {
			s.setState(StateReady)

			return nil
		}

		s.log.Debug("Readiness probe failed", "attempt", attempt, "error", err)

		if stderrors.Is(err, errors.ErrTransportClosed) {
			return exitError(r.transport, "before becoming ready")
		}

		select {
		case <-time.After(s.opts.ProbeInterval):
		case <-r.transport.Done():
			return exitError(r.transport, "before becoming ready")
		case <-deadline:
			return &errors.ReadinessTimeoutError{Timeout: s.opts.StartupTimeout}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// exitError returns the process error once the transport has finished,
// synthesising one for a zero exit status.
func exitError(transport config.Transport, when string) error {
	select {
	case <-transport.Done():
	case <-time.After(2 * time.Second):
		return fmt.Errorf("tool server stopped responding %s: %w", when, errors.ErrTransportClosed)
	}

	if err := transport.ExitError(); err != nil {
		return err
	}

	return &errors.ProcessError{Err: fmt.Errorf("exited %s", when)}
}

// watch fails the dispatcher when the process exits and marks an unexpected
// exit of a running server as StateFailed.
func (s *Supervisor) watch(r *run) {
	defer close(r.watchDone)

	<-r.transport.Done()

	err := r.transport.ExitError()
	if err == nil {
		err = &errors.ProcessError{Err: fmt.Errorf("exited unexpectedly")}
	}

	r.dispatcher.Fail(err)

	if s.state.CompareAndSwap(int32(StateRunning), int32(StateFailed)) {
		s.log.Warn("Tool server exited unexpectedly", "error", err)
	}
}

// Call forwards a tool call to the running server. A transport failure moves
// the supervisor to StateFailed.
func (s *Supervisor) Call(
	ctx context.Context,
	tool string,
	params map[string]any,
	timeout time.Duration,
) (json.RawMessage, error) {
	r := s.current.Load()
	state := s.State()

	if r == nil || state != StateRunning {
		return nil, fmt.Errorf("%w (state %s)", errors.ErrNotRunning, state)
	}

	result, err := r.client.Call(ctx, tool, params, timeout)
	if err != nil && stderrors.Is(err, errors.ErrTransportClosed) {
		if s.state.CompareAndSwap(int32(StateRunning), int32(StateFailed)) {
			s.log.Warn("Transport failed during call", "tool", tool, "error", err)
		}
	}

	return result, err
}

// Stop shuts the server down: pending calls are failed, stdin is closed, the
// process gets a graceful signal and StopGrace to exit before it is killed,
// and both readers are joined. Stop is idempotent.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run == nil {
		if s.State() == StateFailed {
			s.setState(StateStopped)
		}

		s.releaseLock()

		return nil
	}

	s.setState(StateStopping)
	s.current.Store(nil)
	s.log.Info("Stopping tool server", "pid", s.run.transport.PID())

	err := s.shutdown(ctx, s.run)
	s.run = nil

	s.releaseLock()
	s.setState(StateStopped)

	if err != nil {
		return err
	}

	s.log.Info("Tool server stopped")

	return nil
}

// shutdown performs the graceful-then-forced stop sequence.
func (s *Supervisor) shutdown(ctx context.Context, r *run) error {
	r.dispatcher.Fail(fmt.Errorf("%w: supervisor stopping", errors.ErrTransportClosed))

	// Does not wait for a writer stuck on a full pipe; that write fails.
	if err := r.transport.CloseStdin(); err != nil {
		s.log.Debug("Close stdin failed", "error", err)
	}

	if err := r.transport.Terminate(); err != nil {
		s.log.Debug("Terminate failed", "error", err)
	}

	grace := time.NewTimer(s.opts.StopGrace)
	defer grace.Stop()

	select {
	case <-r.transport.Done():
	case <-grace.C:
		s.log.Warn("Tool server did not exit within grace period, killing", "grace", s.opts.StopGrace)
	case <-ctx.Done():
		s.log.Warn("Stop cancelled, killing tool server", "error", ctx.Err())
	}

	var err error

	select {
	case <-r.transport.Done():
	default:
		s.teardown(r)

		select {
		case <-r.transport.Done():
		default:
			err = fmt.Errorf("tool server (pid %d) did not exit after kill", r.transport.PID())
		}
	}

	r.cancel()
	<-r.watchDone

	return err
}

// teardown force-kills the process and waits for the readers to drain.
func (s *Supervisor) teardown(r *run) {
	if err := r.transport.Kill(); err != nil {
		s.log.Debug("Kill failed", "error", err)
	}

	select {
	case <-r.transport.Done():
	case <-time.After(s.opts.StopGrace):
		s.log.Error("Tool server readers did not finish after kill")
	}

	r.dispatcher.Fail(errors.ErrTransportClosed)
	r.cancel()
}

func (s *Supervisor) acquireLock() error {
	if s.opts.LockFile == "" || s.lock != nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(s.opts.LockFile), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	lock := flock.New(s.opts.LockFile)

	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock %s: %w", s.opts.LockFile, err)
	}

	if !locked {
		return fmt.Errorf("%w: %s", errors.ErrLocked, s.opts.LockFile)
	}

	s.lock = lock
	s.log.Debug("Acquired workspace lock", "path", s.opts.LockFile)

	return nil
}

func (s *Supervisor) releaseLock() {
	if s.lock == nil {
		return
	}

	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("Failed to release workspace lock", "error", err)
	}

	s.lock = nil
}
