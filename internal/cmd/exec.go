package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	toolhost "github.com/wagiedev/toolhost-go"
)

func newExecCmd(flags *globalFlags) *cobra.Command {
	var (
		params  []string
		rawJSON string
		compact bool
	)

	cmd := &cobra.Command{
		Use:   "exec <tool>",
		Short: "Execute a tool and print its JSON result",
		Long: `Execute a named tool with parameters and print the JSON result.

Parameters are given as key=value pairs or as one JSON object. Values that
parse as JSON (numbers, booleans, objects) keep their type; anything else is
sent as a string.

Examples:
  toolhost exec list_directory
  toolhost exec read_file --param path=notes/today.md
  toolhost exec write_file --json '{"path":"a.txt","content":"hi"}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolParams, err := parseParams(params, rawJSON)
			if err != nil {
				return err
			}

			return flags.withManager(cmd, func(ctx context.Context, m toolhost.Manager) error {
				result, err := m.ExecuteTool(ctx, args[0], toolParams)
				if err != nil {
					return err
				}

				return printJSON(cmd, result, compact)
			})
		},
	}

	cmd.Flags().StringArrayVarP(&params, "param", "p", nil, "Tool parameter as key=value (can be repeated)")
	cmd.Flags().StringVar(&rawJSON, "json", "", "Tool parameters as a JSON object")
	cmd.Flags().BoolVar(&compact, "compact", false, "Print the result on one line")

	return cmd
}

// parseParams merges --json and --param values; --param wins on conflicts.
func parseParams(pairs []string, rawJSON string) (map[string]any, error) {
	params := map[string]any{}

	if rawJSON != "" {
		if err := json.Unmarshal([]byte(rawJSON), &params); err != nil {
			return nil, fmt.Errorf("--json must be a JSON object: %w", err)
		}
	}

	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q (expected key=value)", pair)
		}

		var decoded any
		if err := json.Unmarshal([]byte(value), &decoded); err == nil {
			if _, isString := decoded.(string); !isString {
				params[key] = decoded

				continue
			}
		}

		params[key] = value
	}

	return params, nil
}

func printJSON(cmd *cobra.Command, raw json.RawMessage, compact bool) error {
	var buf bytes.Buffer

	var err error
	if compact {
		err = json.Compact(&buf, raw)
	} else {
		err = json.Indent(&buf, raw, "", "  ")
	}

	if err != nil {
		return fmt.Errorf("format result: %w", err)
	}

	buf.WriteByte('\n')

	_, err = cmd.OutOrStdout().Write(buf.Bytes())

	return err
}
