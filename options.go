package toolhost

import (
	"log/slog"
	"os"
	"time"

	"github.com/wagiedev/toolhost-go/internal/config"
)

// Options is the full configuration of a Manager. Most callers use the
// functional options below instead of filling it directly.
type Options = config.Options

// Option configures a Manager using the functional options pattern.
type Option func(*settings)

// settings collects options before the configuration file is merged in.
type settings struct {
	Options

	configFile string
	workspace  string
}

// applyOptions resolves opts into Options. When a configuration file is set
// it is loaded first and the explicit options are applied on top of it.
func applyOptions(opts []Option) (*Options, error) {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	if s.configFile == "" {
		return &s.Options, nil
	}

	file, err := config.LoadFile(s.configFile)
	if err != nil {
		return nil, err
	}

	workspace := s.workspace
	if workspace == "" {
		workspace, err = os.Getwd()
		if err != nil {
			return nil, err
		}
	}

	merged := &settings{}
	if err := file.Apply(&merged.Options, workspace); err != nil {
		return nil, err
	}

	for _, opt := range opts {
		opt(merged)
	}

	return &merged.Options, nil
}

// ===== Basic Configuration =====

// WithLogger sets the logger for debug output.
// If not set, logging is disabled (silent operation).
func WithLogger(logger *slog.Logger) Option {
	return func(s *settings) {
		s.Logger = logger
	}
}

// WithAllowedDirs sets the directories the tool server may touch. The first
// one is the base for relative paths. Missing directories are created.
func WithAllowedDirs(dirs ...string) Option {
	return func(s *settings) {
		s.AllowedDirs = dirs
	}
}

// WithConfigFile loads a YAML configuration file. Options passed alongside it
// take precedence over the file.
func WithConfigFile(path string) Option {
	return func(s *settings) {
		s.configFile = path
	}
}

// WithWorkspace sets the directory substituted for ${workspaceFolder} in the
// configuration file. Defaults to the current working directory.
func WithWorkspace(dir string) Option {
	return func(s *settings) {
		s.workspace = dir
	}
}

// WithWorkDir sets the working directory for the tool server process.
func WithWorkDir(dir string) Option {
	return func(s *settings) {
		s.WorkDir = dir
	}
}

// WithStateDir sets where the bundled server script is written.
func WithStateDir(dir string) Option {
	return func(s *settings) {
		s.StateDir = dir
	}
}

// WithEnv provides additional environment variables for the tool server.
func WithEnv(env map[string]string) Option {
	return func(s *settings) {
		s.Env = env
	}
}

// ===== Launch =====

// WithRuntime sets the name of the runtime searched for in PATH and the
// well-known install locations (default "node").
func WithRuntime(name string) Option {
	return func(s *settings) {
		s.Runtime = name
	}
}

// WithRuntimePath sets an explicit runtime executable, skipping discovery.
func WithRuntimePath(path string) Option {
	return func(s *settings) {
		s.RuntimePath = path
	}
}

// WithScriptPath runs a server script from disk instead of the bundled one.
func WithScriptPath(path string) Option {
	return func(s *settings) {
		s.ScriptPath = path
	}
}

// WithNoScript launches the runtime without a script argument, for tool
// servers that are standalone executables such as toolhost-fs.
func WithNoScript() Option {
	return func(s *settings) {
		s.NoScript = true
	}
}

// WithArgs sets fixed arguments placed before the allowed directories.
func WithArgs(args ...string) Option {
	return func(s *settings) {
		s.Args = args
	}
}

// WithInlineParams sends tool params as top-level request fields instead of
// nesting them under "params".
func WithInlineParams() Option {
	return func(s *settings) {
		s.InlineParams = true
	}
}

// ===== Readiness =====

// WithReadinessMarker sets the phrase that signals the server is ready.
func WithReadinessMarker(marker string) Option {
	return func(s *settings) {
		s.ReadinessMarker = marker
	}
}

// WithProbePolling makes startup poll the probe tool instead of waiting for
// the readiness line.
func WithProbePolling(interval time.Duration) Option {
	return func(s *settings) {
		s.DisableReadinessMarker = true
		s.ProbeInterval = interval
	}
}

// WithProbeTool sets the reserved tool name used for the connectivity probe.
func WithProbeTool(name string) Option {
	return func(s *settings) {
		s.ProbeTool = name
	}
}

// ===== Timeouts and Restarts =====

// WithStartupTimeout bounds the wait for readiness.
func WithStartupTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.StartupTimeout = d
	}
}

// WithProbeTimeout bounds a single probe round trip.
func WithProbeTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.ProbeTimeout = d
	}
}

// WithCallTimeout bounds a single tool call.
func WithCallTimeout(d time.Duration) Option {
	return func(s *settings) {
		s.CallTimeout = d
	}
}

// WithStopGrace sets how long Close waits for a graceful exit before killing.
func WithStopGrace(d time.Duration) Option {
	return func(s *settings) {
		s.StopGrace = d
	}
}

// WithStartAttempts sets how many times Start launches the server and the
// delay before the second attempt, which doubles afterwards. A negative
// backoff retries immediately.
func WithStartAttempts(attempts int, backoff time.Duration) Option {
	return func(s *settings) {
		s.StartAttempts = attempts
		s.StartBackoff = backoff
	}
}

// WithMaxConsecutiveTimeouts sets how many back-to-back timeouts make the
// next call restart the server.
func WithMaxConsecutiveTimeouts(n int) Option {
	return func(s *settings) {
		s.MaxConsecutiveTimeouts = n
	}
}

// ===== Miscellaneous =====

// WithLockFile holds an exclusive lock on path while the server runs, so two
// managers never drive the same workspace.
func WithLockFile(path string) Option {
	return func(s *settings) {
		s.LockFile = path
	}
}

// WithStderr sets a callback invoked with every diagnostic line the server
// prints.
func WithStderr(handler func(string)) Option {
	return func(s *settings) {
		s.Stderr = handler
	}
}
