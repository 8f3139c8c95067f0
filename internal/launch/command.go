package launch

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/wagiedev/toolhost-go/internal/config"
)

// BuildArgs constructs the child's arguments: the script (if any), the fixed
// arguments, then every allowed directory in cleaned form.
func BuildArgs(script string, options *config.Options) []string {
	args := make([]string, 0, 1+len(options.Args)+len(options.AllowedDirs))

	if script != "" {
		args = append(args, script)
	}

	args = append(args, options.Args...)

	for _, dir := range options.AllowedDirs {
		args = append(args, filepath.Clean(dir))
	}

	return args
}

// BuildEnvironment constructs the environment for the child process.
//
// The child is forced into UTF-8 text mode; user-provided variables are
// appended last so they win.
func BuildEnvironment(options *config.Options) []string {
	return buildEnvironment(options, runtime.GOOS)
}

func buildEnvironment(options *config.Options, goos string) []string {
	env := os.Environ()

	env = append(env,
		"PYTHONIOENCODING=utf-8",
		"NODE_NO_WARNINGS=1",
	)

	if goos == "windows" {
		env = append(env, "PYTHONLEGACYWINDOWSSTDIO=0")
	}

	for key, value := range options.Env {
		env = append(env, fmt.Sprintf("%s=%s", key, value))
	}

	return env
}

// EnsureDirs creates every allowed directory that does not exist yet.
func EnsureDirs(dirs []string) error {
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create allowed directory %s: %w", dir, err)
		}
	}

	return nil
}
