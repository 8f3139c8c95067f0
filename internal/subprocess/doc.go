// Package subprocess spawns the tool server and carries lines over its
// standard streams.
//
// Transport writes newline-framed requests to stdin under a single lock and
// reads stdout and stderr concurrently, one goroutine per stream. It owns
// the process handle: termination goes through Terminate and Kill, which
// signal the whole process group on Unix.
package subprocess
