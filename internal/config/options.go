package config

import (
	"io"
	"log/slog"
	"time"
)

// Defaults applied by WithDefaults.
const (
	DefaultRuntime                = "node"
	DefaultReadinessMarker        = "running on stdio"
	DefaultProbeTool              = "ping"
	DefaultStartupTimeout         = 30 * time.Second
	DefaultProbeTimeout           = 10 * time.Second
	DefaultProbeInterval          = 1 * time.Second
	DefaultCallTimeout            = 30 * time.Second
	DefaultStopGrace              = 5 * time.Second
	DefaultStartAttempts          = 3
	DefaultStartBackoff           = 1 * time.Second
	DefaultMaxConsecutiveTimeouts = 3
	DefaultMaxLineSize            = 1024 * 1024 // 1MB
)

// Options configures the tool server process and the manager around it.
type Options struct {
	// Logger is the slog logger for debug output.
	// If nil, logging is disabled (silent operation).
	Logger *slog.Logger

	// Runtime is the name of the interpreter that executes the server script,
	// searched in PATH and well-known install locations. Defaults to "node".
	Runtime string

	// RuntimePath is an explicit path to the runtime executable.
	// If set, discovery is skipped.
	RuntimePath string

	// ScriptPath is the server script passed as the first argument.
	// If empty, the bundled filesystem server script is written to StateDir.
	// Set NoScript to launch RuntimePath without a script argument.
	ScriptPath string

	// NoScript launches the runtime without a script argument, for servers
	// that are standalone executables.
	NoScript bool

	// Args are fixed arguments placed after the script and before the
	// allowed directories.
	Args []string

	// AllowedDirs are the root directories the server may touch. They are
	// created if absent and appended to the command line.
	AllowedDirs []string

	// WorkDir sets the working directory for the server process.
	// If empty, the current working directory is used.
	WorkDir string

	// StateDir holds the materialised server script.
	// If empty, ".toolhost" under WorkDir is used.
	StateDir string

	// Env provides additional environment variables for the server process.
	Env map[string]string

	// ReadinessMarker is the phrase that signals the server accepts requests.
	ReadinessMarker string

	// DisableReadinessMarker makes startup poll the probe tool instead of
	// waiting for the readiness line.
	DisableReadinessMarker bool

	// ProbeTool is the reserved tool name used for the connectivity probe.
	ProbeTool string

	// StartupTimeout bounds the wait for readiness.
	StartupTimeout time.Duration

	// ProbeTimeout bounds a single probe round trip.
	ProbeTimeout time.Duration

	// ProbeInterval is the delay between probes when polling for readiness.
	ProbeInterval time.Duration

	// CallTimeout bounds a single tool call.
	CallTimeout time.Duration

	// StopGrace is how long Stop waits after the graceful signal before
	// force-killing.
	StopGrace time.Duration

	// StartAttempts is the number of launch attempts Start makes.
	StartAttempts int

	// StartBackoff is the delay before the second launch attempt; it doubles
	// for each further attempt. A negative value disables the delay.
	StartBackoff time.Duration

	// MaxConsecutiveTimeouts is the number of back-to-back request timeouts
	// after which the next call restarts the server first.
	MaxConsecutiveTimeouts int

	// InlineParams merges tool params into the top-level request object
	// instead of nesting them under "params".
	InlineParams bool

	// LockFile, if set, is locked for the lifetime of a running server so that
	// two supervisors never drive the same workspace.
	LockFile string

	// MaxLineSize bounds a single line read from the server.
	MaxLineSize int

	// Stderr is a callback invoked with every diagnostic line.
	Stderr func(string)
}

// WithDefaults returns a copy of the options with zero values replaced by
// their defaults.
func (o *Options) WithDefaults() *Options {
	out := &Options{}
	if o != nil {
		*out = *o
	}

	if out.Logger == nil {
		out.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if out.Runtime == "" {
		out.Runtime = DefaultRuntime
	}

	if out.ReadinessMarker == "" {
		out.ReadinessMarker = DefaultReadinessMarker
	}

	if out.ProbeTool == "" {
		out.ProbeTool = DefaultProbeTool
	}

	if out.StartupTimeout <= 0 {
		out.StartupTimeout = DefaultStartupTimeout
	}

	if out.ProbeTimeout <= 0 {
		out.ProbeTimeout = DefaultProbeTimeout
	}

	if out.ProbeInterval <= 0 {
		out.ProbeInterval = DefaultProbeInterval
	}

	if out.CallTimeout <= 0 {
		out.CallTimeout = DefaultCallTimeout
	}

	if out.StopGrace <= 0 {
		out.StopGrace = DefaultStopGrace
	}

	if out.StartAttempts <= 0 {
		out.StartAttempts = DefaultStartAttempts
	}

	if out.StartBackoff == 0 {
		out.StartBackoff = DefaultStartBackoff
	}

	if out.MaxConsecutiveTimeouts <= 0 {
		out.MaxConsecutiveTimeouts = DefaultMaxConsecutiveTimeouts
	}

	if out.MaxLineSize <= 0 {
		out.MaxLineSize = DefaultMaxLineSize
	}

	return out
}
