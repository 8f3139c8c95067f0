package mcpbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/tidwall/gjson"

	"github.com/wagiedev/toolhost-go/internal/tools"
)

// Implementation details reported to MCP clients.
const (
	ServerName    = "toolhost"
	ServerVersion = "0.1.0"
)

// Executor runs a named tool. *manager.Manager satisfies it.
type Executor interface {
	ExecuteTool(ctx context.Context, tool string, params map[string]any) (json.RawMessage, error)
}

// Exposed lists the tools published over MCP. The probe tool is internal.
var Exposed = []string{tools.ReadFile, tools.WriteFile, tools.ListDirectory}

// Config configures the MCP server.
type Config struct {
	Logger   *slog.Logger
	Registry *tools.Registry
	Name     string
	Version  string
}

// NewServer builds an MCP server whose tools forward to exec. Input schemas
// come from the tool registry; tool failures are reported as error results,
// not protocol errors.
func NewServer(exec Executor, cfg *Config) *mcp.Server {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	registry := cfg.Registry
	if registry == nil {
		registry = tools.Default()
	}

	name, version := cfg.Name, cfg.Version
	if name == "" {
		name = ServerName
	}

	if version == "" {
		version = ServerVersion
	}

	server := mcp.NewServer(&mcp.Implementation{Name: name, Version: version}, &mcp.ServerOptions{
		Logger: log,
	})

	log = log.With("component", "mcpbridge")

	for _, toolName := range Exposed {
		tool, ok := registry.Get(toolName)
		if !ok {
			continue
		}

		server.AddTool(&mcp.Tool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		}, Handler(log, exec, tool.Name))
	}

	return server
}

// Handler returns an MCP tool handler that forwards calls for tool to exec.
func Handler(log *slog.Logger, exec Executor, tool string) mcp.ToolHandler {
	return func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		params, err := parseArguments(req)
		if err != nil {
			return errorResult(err.Error()), nil
		}

		log.Debug("Forwarding MCP tool call", "tool", tool)

		result, err := exec.ExecuteTool(ctx, tool, params)
		if err != nil {
			log.Debug("MCP tool call failed", "tool", tool, "error", err)

			//nolint:nilerr // The failure is reported to the model in the result.
			return errorResult(err.Error()), nil
		}

		return render(tool, params, result), nil
	}
}

func parseArguments(req *mcp.CallToolRequest) (map[string]any, error) {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return map[string]any{}, nil
	}

	var args map[string]any
	if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments: %w", err)
	}

	if args == nil {
		args = map[string]any{}
	}

	return args, nil
}

// render turns a tool result into text a model can read, keeping the raw
// object as structured content.
func render(tool string, params map[string]any, result json.RawMessage) *mcp.CallToolResult {
	var text string

	switch tool {
	case tools.ReadFile:
		text = gjson.GetBytes(result, "content").String()
	case tools.WriteFile:
		text = fmt.Sprintf("Successfully wrote to %v", params["path"])
	case tools.ListDirectory:
		var entries []string
		for _, f := range gjson.GetBytes(result, "files").Array() {
			entries = append(entries, f.String())
		}

		text = strings.Join(entries, "\n")
	default:
		text = string(result)
	}

	out := &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}

	if gjson.ParseBytes(result).IsObject() {
		out.StructuredContent = result
	}

	return out
}

func errorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: message}},
		IsError: true,
	}
}
