// Package cmd provides CLI commands for the toolhost tool.
package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	toolhost "github.com/wagiedev/toolhost-go"
)

// Version is the CLI version reported by --version.
var Version = "0.1.0"

// globalFlags are the persistent flags shared by every subcommand.
type globalFlags struct {
	configFile  string
	dirs        []string
	runtime     string
	runtimePath string
	script      string
	noScript    bool
	args        []string
	logLevel    string
	callTimeout time.Duration
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	flags := &globalFlags{}

	rootCmd := &cobra.Command{
		Use:     "toolhost",
		Short:   "Run filesystem tools in a supervised tool server",
		Version: Version,
		Long: `toolhost starts a filesystem tool server as a child process, waits until
it is ready and sends it tool calls over line-delimited JSON.

By default the bundled Node.js server is used. Point --runtime-path at
toolhost-fs together with --no-script to use the Go server instead.`,
		SilenceUsage: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.configFile, "config", "", "YAML configuration file")
	pf.StringArrayVar(&flags.dirs, "dir", nil, "Allowed directory (can be repeated; default: current directory)")
	pf.StringVar(&flags.runtime, "runtime", "", "Runtime searched for in PATH (default \"node\")")
	pf.StringVar(&flags.runtimePath, "runtime-path", "", "Explicit path to the runtime executable")
	pf.StringVar(&flags.script, "script", "", "Server script to run instead of the bundled one")
	pf.BoolVar(&flags.noScript, "no-script", false, "Launch the runtime without a script argument")
	pf.StringArrayVar(&flags.args, "arg", nil, "Extra argument placed before the allowed directories (can be repeated)")
	pf.StringVar(&flags.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.DurationVar(&flags.callTimeout, "timeout", 0, "Timeout for a single tool call (default 30s)")

	rootCmd.AddCommand(
		newExecCmd(flags),
		newReadCmd(flags),
		newWriteCmd(flags),
		newLsCmd(flags),
		newServeMCPCmd(flags),
	)

	return rootCmd
}

// Execute runs the root command and returns an exit code.
// The caller (main) should call os.Exit with this code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := NewRootCmd().ExecuteContext(ctx); err != nil {
		// Already printed by cobra
		return 1
	}

	return 0
}

// parseLevel maps a --log-level value onto a slog level.
func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q (expected debug, info, warn or error)", s)
	}
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	lvl, err := parseLevel(level)
	if err != nil {
		return nil, err
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

// options turns the global flags into manager options. Flags override the
// configuration file.
func (f *globalFlags) options(cmd *cobra.Command) ([]toolhost.Option, error) {
	log, err := newLogger(cmd.ErrOrStderr(), f.logLevel)
	if err != nil {
		return nil, err
	}

	opts := []toolhost.Option{
		toolhost.WithLogger(log),
		toolhost.WithStderr(func(line string) {
			log.Debug("tool server", "line", line)
		}),
	}

	if f.configFile != "" {
		opts = append(opts, toolhost.WithConfigFile(f.configFile))
	}

	dirs := f.dirs
	if len(dirs) == 0 && f.configFile == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}

		dirs = []string{cwd}
	}

	if len(dirs) > 0 {
		opts = append(opts, toolhost.WithAllowedDirs(dirs...))
	}

	if f.runtime != "" {
		opts = append(opts, toolhost.WithRuntime(f.runtime))
	}

	if f.runtimePath != "" {
		opts = append(opts, toolhost.WithRuntimePath(f.runtimePath))
	}

	if f.script != "" {
		opts = append(opts, toolhost.WithScriptPath(f.script))
	}

	if f.noScript {
		opts = append(opts, toolhost.WithNoScript())
	}

	if len(f.args) > 0 {
		opts = append(opts, toolhost.WithArgs(f.args...))
	}

	if f.callTimeout > 0 {
		opts = append(opts, toolhost.WithCallTimeout(f.callTimeout))
	}

	return opts, nil
}

// withManager runs fn with a started manager built from the global flags.
func (f *globalFlags) withManager(cmd *cobra.Command, fn func(ctx context.Context, m toolhost.Manager) error) error {
	opts, err := f.options(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	return toolhost.WithManager(ctx, func(m toolhost.Manager) error {
		return fn(ctx, m)
	}, opts...)
}
