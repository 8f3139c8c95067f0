package errors

import (
	"errors"
	"fmt"
	"time"
)

// ToolhostError is the base interface for all toolhost errors.
type ToolhostError interface {
	error
	IsToolhostError() bool
}

// Compile-time verification that all error types implement ToolhostError.
var (
	_ ToolhostError = (*LaunchError)(nil)
	_ ToolhostError = (*ReadinessTimeoutError)(nil)
	_ ToolhostError = (*ProcessError)(nil)
	_ ToolhostError = (*ProtocolError)(nil)
	_ ToolhostError = (*ToolError)(nil)
	_ ToolhostError = (*ValidationError)(nil)
)

// Sentinel errors for commonly checked conditions.
var (
	// ErrTransportClosed indicates the child's pipes are closed or broken.
	ErrTransportClosed = errors.New("transport closed")

	// ErrRequestTimeout indicates no response arrived before the call deadline.
	ErrRequestTimeout = errors.New("request timeout")

	// ErrReadinessTimeout indicates the child never signalled readiness.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrManagerClosed indicates the manager has been closed and cannot be reused.
	ErrManagerClosed = errors.New("manager closed: managers are single-use, create a new one with New()")

	// ErrNotRunning indicates the child process is not in the running state.
	ErrNotRunning = errors.New("tool server not running")

	// ErrAlreadyStarted indicates Start was called on a running supervisor.
	ErrAlreadyStarted = errors.New("tool server already started")

	// ErrLocked indicates another supervisor holds the workspace lock.
	ErrLocked = errors.New("workspace lock held by another process")
)

// LaunchError indicates the runtime could not be located or the child
// process could not be spawned.
type LaunchError struct {
	SearchedPaths []string
	Err           error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch tool server: %v", e.Err)
	}

	return fmt.Sprintf("runtime not found in: %v", e.SearchedPaths)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// IsToolhostError implements ToolhostError.
func (e *LaunchError) IsToolhostError() bool { return true }

// ReadinessTimeoutError indicates the child spawned but never became ready.
type ReadinessTimeoutError struct {
	Timeout time.Duration
}

func (e *ReadinessTimeoutError) Error() string {
	return fmt.Sprintf("tool server not ready after %s", e.Timeout)
}

func (e *ReadinessTimeoutError) Unwrap() error {
	return ErrReadinessTimeout
}

// IsToolhostError implements ToolhostError.
func (e *ReadinessTimeoutError) IsToolhostError() bool { return true }

// ProcessError indicates the child process exited.
//
// A ProcessError always matches ErrTransportClosed: once the process is gone
// its pipes are unusable.
type ProcessError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tool server exited (exit %d): %v", e.ExitCode, e.Err)
	}

	return fmt.Sprintf("tool server exited (exit %d): %s", e.ExitCode, e.Stderr)
}

func (e *ProcessError) Unwrap() error {
	return e.Err
}

// Is reports ErrTransportClosed as a match.
func (e *ProcessError) Is(target error) bool {
	return target == ErrTransportClosed
}

// IsToolhostError implements ToolhostError.
func (e *ProcessError) IsToolhostError() bool { return true }

// ProtocolError indicates a line from the child could not be understood.
// It is logged and discarded, never returned to callers.
type ProtocolError struct {
	RawData string
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error: %v", e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsToolhostError implements ToolhostError.
func (e *ProtocolError) IsToolhostError() bool { return true }

// ToolError indicates the child reported a failure for a request.
type ToolError struct {
	Tool      string
	RequestID string
	Message   string
}

func (e *ToolError) Error() string {
	if e.Tool == "" {
		return "tool error: " + e.Message
	}

	return fmt.Sprintf("tool %s failed: %s", e.Tool, e.Message)
}

// IsToolhostError implements ToolhostError.
func (e *ToolError) IsToolhostError() bool { return true }

// ValidationError indicates tool parameters were rejected before sending.
type ValidationError struct {
	Tool string
	Err  error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Tool, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// IsToolhostError implements ToolhostError.
func (e *ValidationError) IsToolhostError() bool { return true }
