// Package config provides configuration types for the tool host.
package config

import "context"

// Stream identifies one of the child's output streams.
type Stream string

const (
	// StreamStdout is the child's primary output.
	StreamStdout Stream = "stdout"
	// StreamStderr is the child's diagnostic output.
	StreamStderr Stream = "stderr"
)

// LineHandler receives one complete line from an output stream.
// The slice is only valid for the duration of the call.
type LineHandler func(stream Stream, line []byte)

// Transport defines the interface for communicating with the tool server
// process over its standard streams.
//
// The default implementation is subprocess.Transport which spawns a child
// process. Tests substitute in-memory transports.
type Transport interface {
	// Start spawns the process and prepares the pipes.
	Start(ctx context.Context) error

	// ReadLines starts one reader per output stream and hands every
	// non-empty line to handler, in order within each stream.
	ReadLines(ctx context.Context, handler LineHandler)

	// WriteLine writes one newline-terminated line to stdin.
	// This method must be safe for concurrent use.
	WriteLine(ctx context.Context, data []byte) error

	// Done is closed once the process has exited and both readers drained.
	Done() <-chan struct{}

	// ExitError reports why the process exited. It is nil while running,
	// after a clean exit, and after an intentional shutdown.
	ExitError() error

	// Terminate asks the process to exit gracefully.
	Terminate() error

	// Kill forcefully terminates the process. Safe to call multiple times.
	Kill() error

	// CloseStdin closes the input pipe. It must not wait for an in-flight
	// WriteLine; the blocked write fails instead.
	CloseStdin() error

	// PID returns the process id, or 0 before Start.
	PID() int
}
