// toolhost-fs is a standalone filesystem tool server speaking the toolhost
// line protocol on stdin and stdout. It can stand in for the bundled Node.js
// script by launching it with NoScript.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wagiedev/toolhost-go/internal/fsserver"
)

var (
	verbose   bool
	readyLine string
)

var rootCmd = &cobra.Command{
	Use:   "toolhost-fs <allowed-dir>...",
	Short: "Filesystem tool server for toolhost",
	Long: `toolhost-fs answers read_file, write_file, list_directory and ping
requests on stdin, one JSON object per line, and writes replies to stdout.

Every path is confined to the allowed directories. Relative paths are
resolved against the first one. Diagnostics go to stderr.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every request to stderr")
	rootCmd.Flags().StringVar(&readyLine, "ready-line", fsserver.DefaultReadinessLine,
		"Line printed once the server accepts requests (empty disables it)")
}

func run(cmd *cobra.Command, args []string) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	for _, dir := range args {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create allowed directory: %w", err)
		}
	}

	srv, err := fsserver.New(args,
		fsserver.WithLogger(log),
		fsserver.WithReadinessLine(readyLine),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = srv.Serve(ctx, os.Stdin, os.Stdout)
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "toolhost-fs:", err)
		os.Exit(1)
	}
}
