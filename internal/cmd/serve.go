package cmd

import (
	"context"

	"github.com/spf13/cobra"

	toolhost "github.com/wagiedev/toolhost-go"
)

func newServeMCPCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve-mcp",
		Short: "Serve the filesystem tools over MCP on stdio",
		Long: `Run a Model Context Protocol server on stdin and stdout that exposes
read_file, write_file and list_directory. Every call goes through the same
supervised tool server. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := newLogger(cmd.ErrOrStderr(), flags.logLevel)
			if err != nil {
				return err
			}

			return flags.withManager(cmd, func(ctx context.Context, m toolhost.Manager) error {
				log.Info("Serving MCP on stdio", "pid", m.PID())

				return toolhost.ServeMCP(ctx, m, log)
			})
		},
	}
}
