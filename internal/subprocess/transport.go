package subprocess

import (
	"bufio"
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/errors"
)

const (
	// defaultMaxLineSize is the maximum size of a single output line.
	defaultMaxLineSize = 1024 * 1024 // 1MB
	// maxStderrBufferSize caps the stderr kept for ProcessError. Reading
	// continues past the cap; only the buffer stops growing.
	maxStderrBufferSize = 1024 * 1024 // 1MB
)

// Command describes the process to spawn.
type Command struct {
	// Path is the executable.
	Path string

	// Args are the arguments, excluding Path.
	Args []string

	// Env is the full environment. Nil inherits the parent's.
	Env []string

	// Dir is the working directory. Empty uses the current directory.
	Dir string

	// MaxLineSize bounds a single output line. Zero uses 1MB.
	MaxLineSize int
}

// Transport implements config.Transport by spawning a child process and
// talking to it over its standard streams.
type Transport struct {
	log     *slog.Logger
	command Command

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	mu          sync.Mutex // Serialises stdin writes; never taken by CloseStdin
	stdinOnce   sync.Once
	stdinClosed atomic.Bool
	closing     atomic.Bool // Set by Terminate/Kill (intentional shutdown)

	readOnce sync.Once
	done     chan struct{}
	exitErr  error // Written before done is closed

	stderrMu  sync.Mutex
	stderrBuf strings.Builder
}

// Compile-time verification that Transport implements the Transport interface.
var _ config.Transport = (*Transport)(nil)

// New creates a transport for command. Nothing is spawned until Start.
func New(log *slog.Logger, command Command) *Transport {
	if command.MaxLineSize <= 0 {
		command.MaxLineSize = defaultMaxLineSize
	}

	return &Transport{
		log:     log.With("component", "transport"),
		command: command,
		done:    make(chan struct{}),
	}
}

// Start spawns the process with stdin, stdout and stderr pipes.
//
// The process lifetime is not tied to ctx; it ends through Terminate, Kill,
// CloseStdin or on its own. Returns *errors.LaunchError if the process
// cannot be spawned.
func (t *Transport) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if t.cmd != nil {
		return errors.ErrAlreadyStarted
	}

	t.log.Info("Starting tool server", "path", t.command.Path, "args", t.command.Args)

	//nolint:gosec // G204: the executable comes from discovery or explicit configuration
	cmd := exec.Command(t.command.Path, t.command.Args...)
	cmd.Dir = t.command.Dir
	cmd.Env = t.command.Env
	cmd.SysProcAttr = sysProcAttr()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &errors.LaunchError{Err: fmt.Errorf("stdin pipe: %w", err)}
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &errors.LaunchError{Err: fmt.Errorf("stdout pipe: %w", err)}
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &errors.LaunchError{Err: fmt.Errorf("stderr pipe: %w", err)}
	}

	if err := cmd.Start(); err != nil {
		t.log.Error("Failed to start tool server", "error", err)

		return &errors.LaunchError{Err: fmt.Errorf("start process: %w", err)}
	}

	t.cmd = cmd
	t.stdin = stdin
	t.stdout = stdout
	t.stderr = stderr

	t.log.Info("Tool server started", "pid", cmd.Process.Pid)

	return nil
}

// ReadLines starts one reader per output stream. Each non-blank line is
// passed to handler in the order the process wrote it; the two streams are
// not ordered relative to each other.
//
// When both streams reach end of file the process is reaped, ExitError is
// recorded and Done is closed. Calling ReadLines more than once has no effect.
func (t *Transport) ReadLines(ctx context.Context, handler config.LineHandler) {
	t.readOnce.Do(func() {
		if t.cmd == nil {
			close(t.done)

			return
		}

		go t.readLoop(ctx, handler)
	})
}

func (t *Transport) readLoop(ctx context.Context, handler config.LineHandler) {
	defer close(t.done)
	defer t.log.Debug("Readers stopped")

	var g errgroup.Group

	g.Go(func() error {
		return t.scan(ctx, config.StreamStdout, t.stdout, handler)
	})

	g.Go(func() error {
		return t.scan(ctx, config.StreamStderr, t.stderr, func(stream config.Stream, line []byte) {
			t.bufferStderr(line)
			handler(stream, line)
		})
	})

	if err := g.Wait(); err != nil {
		t.log.Debug("Reader stopped early", "error", err)
	}

	t.log.Debug("Waiting for tool server to exit")

	err := t.cmd.Wait()

	switch {
	case t.closing.Load():
		t.log.Debug("Tool server terminated during shutdown")
	case err != nil:
		exitCode := -1

		if exitErr, ok := stderrors.AsType[*exec.ExitError](err); ok {
			exitCode = exitErr.ExitCode()
		}

		t.stderrMu.Lock()
		stderrOutput := strings.TrimSpace(t.stderrBuf.String())
		t.stderrMu.Unlock()

		t.log.Error("Tool server exited with error", "exit_code", exitCode, "stderr", stderrOutput)

		t.exitErr = &errors.ProcessError{
			ExitCode: exitCode,
			Stderr:   stderrOutput,
			Err:      err,
		}
	default:
		t.log.Info("Tool server exited")
	}
}

// scan reads lines from r until end of file. If ctx is cancelled or a line
// exceeds the size limit, the rest of the stream is discarded so the process
// never blocks on a full pipe.
func (t *Transport) scan(
	ctx context.Context,
	stream config.Stream,
	r io.Reader,
	handler config.LineHandler,
) error {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, min(64*1024, t.command.MaxLineSize))
	scanner.Buffer(buf, t.command.MaxLineSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			_, _ = io.Copy(io.Discard, r)

			return ctx.Err()
		default:
		}

		line := bytes.TrimRight(scanner.Bytes(), "\r")
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		handler(stream, line)
	}

	if err := scanner.Err(); err != nil {
		t.log.Warn("Scanner error, discarding rest of stream", "stream", stream, "error", err)

		_, _ = io.Copy(io.Discard, r)

		return fmt.Errorf("scan %s: %w", stream, err)
	}

	return nil
}

func (t *Transport) bufferStderr(line []byte) {
	t.stderrMu.Lock()
	defer t.stderrMu.Unlock()

	if t.stderrBuf.Len() >= maxStderrBufferSize {
		return
	}

	if t.stderrBuf.Len() > 0 {
		t.stderrBuf.WriteByte('\n')
	}

	t.stderrBuf.Write(line)
}

// WriteLine writes data followed by a newline to stdin.
//
// This method is safe for concurrent use; each line is written whole. Writes
// after the process exited or stdin was closed return an error matching
// errors.ErrTransportClosed. If ctx is cancelled while the write is blocked,
// stdin is closed to unblock it; a partial line leaves the stream unusable.
func (t *Transport) WriteLine(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stdin == nil || t.stdinClosed.Load() {
		return errors.ErrTransportClosed
	}

	select {
	case <-t.done:
		return errors.ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	// Copy so the caller's backing array is never mutated.
	if len(data) == 0 || data[len(data)-1] != '\n' {
		line := make([]byte, len(data)+1)
		copy(line, data)
		line[len(data)] = '\n'
		data = line
	}

	written := make(chan error, 1)

	go func() {
		_, err := t.stdin.Write(data)
		written <- err
	}()

	select {
	case err := <-written:
		if err != nil {
			t.log.Debug("Write to tool server failed", "error", err)

			return fmt.Errorf("write to stdin: %w: %w", errors.ErrTransportClosed, err)
		}

		return nil

	case <-ctx.Done():
		t.log.Debug("Context cancelled during write, closing stdin")

		_ = t.closeStdin()

		select {
		case <-written:
		case <-time.After(1 * time.Second):
			t.log.Warn("Write goroutine did not exit after stdin close, potential leak")
		}

		return ctx.Err()
	}
}

// Done is closed once the process has exited and both readers drained.
func (t *Transport) Done() <-chan struct{} {
	return t.done
}

// ExitError returns the *errors.ProcessError for an unexpected non-zero
// exit. It is nil while the process runs.
func (t *Transport) ExitError() error {
	select {
	case <-t.done:
		return t.exitErr
	default:
		return nil
	}
}

// Terminate asks the process to exit: SIGTERM to its process group on Unix,
// a hard kill on Windows.
func (t *Transport) Terminate() error {
	t.closing.Store(true)

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	t.log.Debug("Terminating tool server", "pid", t.cmd.Process.Pid)

	if err := terminateProcess(t.cmd.Process); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("terminate tool server (pid %d): %w", t.cmd.Process.Pid, err)
	}

	return nil
}

// Kill forcefully terminates the process. Safe to call multiple times or on
// an exited process.
func (t *Transport) Kill() error {
	t.closing.Store(true)

	if t.cmd == nil || t.cmd.Process == nil {
		return nil
	}

	select {
	case <-t.done:
		return nil
	default:
	}

	t.log.Debug("Killing tool server", "pid", t.cmd.Process.Pid)

	if err := killProcess(t.cmd.Process); err != nil && !stderrors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill tool server (pid %d): %w", t.cmd.Process.Pid, err)
	}

	return nil
}

// CloseStdin closes the input pipe, signalling end of input. It does not
// wait for an in-flight write; closing the pipe makes that write fail.
func (t *Transport) CloseStdin() error {
	if t.stdin == nil {
		return nil
	}

	return t.closeStdin()
}

func (t *Transport) closeStdin() error {
	var err error

	t.stdinOnce.Do(func() {
		t.log.Debug("Closing stdin pipe")

		t.stdinClosed.Store(true)
		err = t.stdin.Close()
	})

	return err
}

// PID returns the process id, or 0 before Start.
func (t *Transport) PID() int {
	if t.cmd == nil || t.cmd.Process == nil {
		return 0
	}

	return t.cmd.Process.Pid
}
