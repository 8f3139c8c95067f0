package fsserver

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/wagiedev/toolhost-go/internal/tools"
	"github.com/wagiedev/toolhost-go/internal/wire"
)

// DefaultReadinessLine is printed once the server accepts requests.
const DefaultReadinessLine = "Secure filesystem server running on stdio"

const maxRequestSize = 1024 * 1024 // 1MB

// Server answers filesystem tool requests on a line-delimited JSON stream,
// confined to a set of root directories.
//
// Requests are handled concurrently; replies are written whole, one per line,
// in completion order.
type Server struct {
	log       *slog.Logger
	roots     []string
	realRoots []string
	registry  *tools.Registry
	readyLine string

	writeMu sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithReadinessLine overrides the readiness line. Empty disables it.
func WithReadinessLine(line string) Option {
	return func(s *Server) {
		s.readyLine = line
	}
}

// New creates a server confined to roots. The first root is the base for
// relative paths.
func New(roots []string, opts ...Option) (*Server, error) {
	if len(roots) == 0 {
		return nil, fmt.Errorf("at least one allowed directory is required")
	}

	s := &Server{
		log:       slog.New(slog.DiscardHandler),
		registry:  tools.Default(),
		readyLine: DefaultReadinessLine,
	}

	for _, opt := range opts {
		opt(s)
	}

	s.log = s.log.With("component", "fsserver")

	for _, root := range roots {
		abs, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", root, err)
		}

		real := abs
		if resolved, err := filepath.EvalSymlinks(abs); err == nil {
			real = resolved
		}

		s.roots = append(s.roots, abs)
		s.realRoots = append(s.realRoots, real)
	}

	return s, nil
}

// Roots returns the absolute allowed directories.
func (s *Server) Roots() []string {
	return slices.Clone(s.roots)
}

// Serve prints the readiness line to out, then answers requests read from in
// until in reaches end of file or ctx is cancelled. It waits for in-flight
// requests before returning.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	if s.readyLine != "" {
		s.writeLine(out, []byte(s.readyLine))
	}

	s.log.Info("Serving", "roots", s.roots)

	var wg sync.WaitGroup
	defer wg.Wait()

	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)

		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)

		for scanner.Scan() {
			line := slices.Clone(scanner.Bytes())

			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}

		scanErr <- scanner.Err()
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return ctx.Err()
				}
			}

			if strings.TrimSpace(string(line)) == "" {
				continue
			}

			wg.Go(func() {
				s.reply(out, s.Handle(ctx, line))
			})

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Handle answers a single request line and returns the reply envelope.
func (s *Server) Handle(ctx context.Context, line []byte) any {
	req, err := wire.DecodeRequest(line)
	if err != nil {
		if req == nil {
			s.log.Warn("Unparsable request", "error", err)

			return wire.NewError("", err.Error())
		}

		return wire.NewError(req.ID, err.Error())
	}

	if err := ctx.Err(); err != nil {
		return wire.NewError(req.ID, err.Error())
	}

	if err := s.registry.Validate(req.Tool, req.Params); err != nil {
		return wire.NewError(req.ID, err.Error())
	}

	s.log.Debug("Handling request", "id", req.ID, "tool", req.Tool)

	result, err := s.dispatch(req)
	if err != nil {
		s.log.Debug("Request failed", "id", req.ID, "tool", req.Tool, "error", err)

		return wire.NewError(req.ID, err.Error())
	}

	return wire.NewResponse(req.ID, result)
}

func (s *Server) dispatch(req *wire.Request) (any, error) {
	switch req.Tool {
	case tools.Ping:
		return map[string]any{"success": true}, nil
	case tools.ReadFile:
		return s.readFile(stringParam(req.Params, "path"))
	case tools.WriteFile:
		return s.writeFile(stringParam(req.Params, "path"), stringParam(req.Params, "content"))
	case tools.ListDirectory:
		return s.listDirectory(stringParam(req.Params, "path"))
	default:
		return nil, fmt.Errorf("unknown tool: %s", req.Tool)
	}
}

func stringParam(params map[string]any, key string) string {
	v, _ := params[key].(string)
	return v
}

func (s *Server) readFile(path string) (any, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, unwrapPathError(err))
	}

	return map[string]any{"content": string(data)}, nil
}

func (s *Server) writeFile(path, content string) (any, error) {
	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return nil, fmt.Errorf("create parent of %s: %w", path, unwrapPathError(err))
	}

	if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", path, unwrapPathError(err))
	}

	return map[string]any{"success": true}, nil
}

func (s *Server) listDirectory(path string) (any, error) {
	if path == "" {
		path = "."
	}

	target, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(target)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", path, unwrapPathError(err))
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}

		files = append(files, name)
	}

	slices.Sort(files)

	return map[string]any{"files": files}, nil
}

// resolve maps a request path onto the filesystem and refuses anything that
// escapes every root, lexically or through a symlink.
func (s *Server) resolve(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("path is required")
	}

	target := path
	if !filepath.IsAbs(target) {
		target = filepath.Join(s.roots[0], target)
	}

	target = filepath.Clean(target)

	if !within(s.roots, target) && !within(s.realRoots, target) {
		return "", fmt.Errorf("access denied: %s is outside the allowed directories", path)
	}

	// Check the nearest existing ancestor after following symlinks.
	probe := target
	for {
		real, err := filepath.EvalSymlinks(probe)
		if err == nil {
			if !within(s.realRoots, real) {
				return "", fmt.Errorf("access denied: %s resolves outside the allowed directories", path)
			}

			break
		}

		parent := filepath.Dir(probe)
		if parent == probe {
			break
		}

		probe = parent
	}

	return target, nil
}

func within(roots []string, target string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, target)
		if err != nil {
			continue
		}

		if rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))) {
			return true
		}
	}

	return false
}

// unwrapPathError drops the *fs.PathError wrapper, whose message repeats the
// absolute path.
func unwrapPathError(err error) error {
	if pathErr, ok := stderrors.AsType[*fs.PathError](err); ok {
		return pathErr.Err
	}

	return err
}

func (s *Server) reply(out io.Writer, msg any) {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log.Error("Failed to encode reply", "error", err)

		return
	}

	s.writeLine(out, data)
}

func (s *Server) writeLine(out io.Writer, data []byte) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	line := make([]byte, len(data)+1)
	copy(line, data)
	line[len(data)] = '\n'

	if _, err := out.Write(line); err != nil {
		s.log.Warn("Failed to write reply", "error", err)
	}
}
