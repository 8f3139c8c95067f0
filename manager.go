package toolhost

import (
	"context"
	"encoding/json"

	"github.com/wagiedev/toolhost-go/internal/supervisor"
	"github.com/wagiedev/toolhost-go/internal/tools"
)

// Tool names understood by the bundled filesystem server.
const (
	ToolReadFile      = tools.ReadFile
	ToolWriteFile     = tools.WriteFile
	ToolListDirectory = tools.ListDirectory
	ToolPing          = tools.Ping
)

// State is the lifecycle state of the supervised tool server.
type State = supervisor.State

// Lifecycle states.
const (
	StateStopped  = supervisor.StateStopped
	StateStarting = supervisor.StateStarting
	StateReady    = supervisor.StateReady
	StateRunning  = supervisor.StateRunning
	StateStopping = supervisor.StateStopping
	StateFailed   = supervisor.StateFailed
)

// Manager executes named tools in a supervised child process.
//
// The child is started on the first call (or by Start), restarted once when a
// call finds it gone, and stopped by Close. Calls may be made concurrently;
// replies are routed back to their callers by request id.
//
// Lifecycle: Managers are single-use. After Close(), create a new one with
// NewManager().
//
// Example usage:
//
//	m, err := toolhost.NewManager(
//	    toolhost.WithAllowedDirs("/srv/notes"),
//	    toolhost.WithLogger(slog.Default()),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer m.Close()
//
//	if err := m.WriteFile(ctx, "today.md", "# Notes\n"); err != nil {
//	    log.Fatal(err)
//	}
type Manager interface {
	// Start launches the tool server, retrying with backoff. Calling Start is
	// optional; the first call starts the server on demand.
	Start(ctx context.Context) error

	// ExecuteTool runs a tool and returns its raw JSON result.
	// Returns *ValidationError for bad params, *ToolError when the server
	// reports a failure and an error wrapping ErrRequestTimeout when no
	// reply arrives within the call timeout.
	ExecuteTool(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error)

	// WriteFile writes content to path, creating parent directories.
	WriteFile(ctx context.Context, path, content string) error

	// ReadFile returns the content of path.
	ReadFile(ctx context.Context, path string) (string, error)

	// ListDirectory returns the entries of path, directories with a trailing
	// slash. An empty path lists the first allowed directory.
	ListDirectory(ctx context.Context, path string) ([]string, error)

	// State returns the lifecycle state of the tool server.
	State() State

	// PID returns the process id of the running tool server, or 0.
	PID() int

	// Close stops the tool server and waits for it to exit.
	// After Close(), every call returns ErrManagerClosed. Safe to call
	// multiple times.
	Close() error
}

// NewManager creates a manager from options. The tool server is not started
// until Start or the first call. It fails only if a configuration file given
// with WithConfigFile cannot be loaded.
func NewManager(opts ...Option) (Manager, error) {
	options, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}

	return newManagerImpl(options), nil
}
