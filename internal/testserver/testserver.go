// Package testserver turns a test binary into a scriptable tool server child.
//
// A test package calls Main from TestMain; when the mode environment variable
// is set the binary acts as the server and exits instead of running tests.
// Options builds config.Options that launch the current test binary that way.
package testserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/fsserver"
	"github.com/wagiedev/toolhost-go/internal/wire"
)

// ModeEnv selects the behaviour of the child.
const ModeEnv = "TOOLHOST_TESTSERVER_MODE"

// Modes understood by Main.
const (
	// ModeFS serves the filesystem tools. The tool "hang" never replies and
	// the tool "die" makes the process exit with status 1.
	ModeFS = "fs"
	// ModeNoMarker is ModeFS without the readiness line.
	ModeNoMarker = "nomarker"
	// ModeExit writes to stderr and exits with status 3.
	ModeExit = "exit"
	// ModeSilent prints nothing and never replies.
	ModeSilent = "silent"
	// ModeNoReply prints the readiness line but never replies.
	ModeNoReply = "noreply"
	// ModeStubborn is ModeFS but ignores SIGTERM and stdin EOF.
	ModeStubborn = "stubborn"
	// ModeDeaf answers the first request, then stops reading stdin.
	ModeDeaf = "deaf"
)

// Tools understood only by the test server.
const (
	ToolHang = "hang"
	ToolDie  = "die"
)

// ExitMessage is written to stderr by ModeExit.
const ExitMessage = "fatal: cannot open allowed directory"

// Main runs the test server if ModeEnv is set, then exits. Otherwise it
// returns immediately.
func Main() {
	mode := os.Getenv(ModeEnv)
	if mode == "" {
		return
	}

	os.Exit(serve(mode, dirArgs(os.Args)))
}

// Options returns options launching the current test binary in mode, with
// short timeouts suitable for tests.
func Options(t testing.TB, mode string, dirs ...string) *config.Options {
	t.Helper()

	if len(dirs) == 0 {
		dirs = []string{t.TempDir()}
	}

	return &config.Options{
		RuntimePath:    os.Args[0],
		NoScript:       true,
		Args:           []string{"-test.run=^$", "--"},
		AllowedDirs:    dirs,
		Env:            map[string]string{ModeEnv: mode},
		StartupTimeout: 5 * time.Second,
		ProbeTimeout:   2 * time.Second,
		ProbeInterval:  50 * time.Millisecond,
		CallTimeout:    5 * time.Second,
		StopGrace:      2 * time.Second,
		StartAttempts:  1,
		StartBackoff:   -1,
	}
}

func dirArgs(args []string) []string {
	if i := slices.Index(args, "--"); i >= 0 {
		return args[i+1:]
	}

	return nil
}

func serve(mode string, dirs []string) int {
	switch mode {
	case ModeExit:
		fmt.Fprintln(os.Stderr, ExitMessage)

		return 3
	case ModeSilent:
		time.Sleep(time.Hour)

		return 0
	case ModeNoReply:
		fmt.Println(fsserver.DefaultReadinessLine)
		time.Sleep(time.Hour)

		return 0
	case ModeDeaf:
		return serveDeaf(dirs)
	}

	opts := []fsserver.Option{}
	if mode == ModeNoMarker {
		opts = append(opts, fsserver.WithReadinessLine(""))
	}

	if mode == ModeStubborn {
		signal.Ignore(syscall.SIGTERM)
	}

	srv, err := fsserver.New(dirs, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 2
	}

	fmt.Fprintln(os.Stderr, "[debug] starting test server")

	if mode != ModeNoMarker {
		fmt.Println(fsserver.DefaultReadinessLine)
	}

	var (
		wg      sync.WaitGroup
		writeMu sync.Mutex
	)

	reply := func(msg any) {
		data, _ := json.Marshal(msg)

		writeMu.Lock()
		defer writeMu.Unlock()

		os.Stdout.Write(append(data, '\n'))
	}

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := slices.Clone(scanner.Bytes())

		req, _ := wire.DecodeRequest(line)
		if req != nil {
			switch req.Tool {
			case ToolHang:
				continue
			case ToolDie:
				fmt.Fprintln(os.Stderr, "error: told to die")
				os.Exit(1)
			}
		}

		wg.Go(func() {
			reply(srv.Handle(context.Background(), line))
		})
	}

	wg.Wait()

	if mode == ModeStubborn {
		time.Sleep(time.Hour)
	}

	return 0
}

// serveDeaf replies to the first request and then never reads again, so the
// stdin pipe fills up once the parent writes enough.
func serveDeaf(dirs []string) int {
	srv, err := fsserver.New(dirs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)

		return 2
	}

	fmt.Println(fsserver.DefaultReadinessLine)

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadBytes('\n')
	if err != nil {
		return 0
	}

	data, _ := json.Marshal(srv.Handle(context.Background(), line))
	os.Stdout.Write(append(data, '\n'))

	time.Sleep(time.Hour)

	return 0
}
