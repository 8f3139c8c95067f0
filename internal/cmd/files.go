package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	toolhost "github.com/wagiedev/toolhost-go"
)

func newReadCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "read <path>",
		Short: "Print the content of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return flags.withManager(cmd, func(ctx context.Context, m toolhost.Manager) error {
				content, err := m.ReadFile(ctx, args[0])
				if err != nil {
					return err
				}

				_, err = io.WriteString(cmd.OutOrStdout(), content)

				return err
			})
		},
	}
}

func newWriteCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "write <path> <content|->",
		Short: "Write content to a file",
		Long: `Write content to a file, creating parent directories.

Pass - as the content to read it from stdin:
  echo hello | toolhost write greeting.txt -`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := args[1]

			if content == "-" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read stdin: %w", err)
				}

				content = string(data)
			}

			return flags.withManager(cmd, func(ctx context.Context, m toolhost.Manager) error {
				return m.WriteFile(ctx, args[0], content)
			})
		},
	}
}

func newLsCmd(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls [path]",
		Short: "List a directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			return flags.withManager(cmd, func(ctx context.Context, m toolhost.Manager) error {
				entries, err := m.ListDirectory(ctx, path)
				if err != nil {
					return err
				}

				if len(entries) == 0 {
					return nil
				}

				_, err = fmt.Fprintln(cmd.OutOrStdout(), strings.Join(entries, "\n"))

				return err
			})
		},
	}
}
