package toolhost

import "github.com/wagiedev/toolhost-go/internal/errors"

// Re-export error types from internal package

// LaunchError indicates the runtime was not found or the tool server could
// not be spawned.
type LaunchError = errors.LaunchError

// ReadinessTimeoutError indicates the tool server never became ready.
type ReadinessTimeoutError = errors.ReadinessTimeoutError

// ProcessError indicates the tool server process exited.
type ProcessError = errors.ProcessError

// ProtocolError indicates a line from the tool server could not be understood.
type ProtocolError = errors.ProtocolError

// ToolError indicates the tool server reported a failure for a request.
type ToolError = errors.ToolError

// ValidationError indicates tool params were rejected before sending.
type ValidationError = errors.ValidationError

// ToolhostError is the base interface for all toolhost errors.
type ToolhostError = errors.ToolhostError

// Re-export sentinel errors from internal package.
var (
	// ErrTransportClosed indicates the tool server's pipes are closed.
	ErrTransportClosed = errors.ErrTransportClosed

	// ErrRequestTimeout indicates a tool call timed out.
	ErrRequestTimeout = errors.ErrRequestTimeout

	// ErrReadinessTimeout indicates the tool server never became ready.
	ErrReadinessTimeout = errors.ErrReadinessTimeout

	// ErrManagerClosed indicates the manager has been closed and cannot be reused.
	ErrManagerClosed = errors.ErrManagerClosed

	// ErrNotRunning indicates the tool server is not running.
	ErrNotRunning = errors.ErrNotRunning

	// ErrAlreadyStarted indicates Start was called while the tool server runs.
	ErrAlreadyStarted = errors.ErrAlreadyStarted

	// ErrLocked indicates another manager holds the workspace lock.
	ErrLocked = errors.ErrLocked
)
