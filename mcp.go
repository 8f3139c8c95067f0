package toolhost

import (
	"context"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagiedev/toolhost-go/internal/mcpbridge"
)

// NewMCPServer returns a Model Context Protocol server that exposes
// read_file, write_file and list_directory, forwarding every call to m.
//
// Example:
//
//	server := toolhost.NewMCPServer(m, logger)
//	err := server.Run(ctx, &mcp.StdioTransport{})
func NewMCPServer(m Manager, logger *slog.Logger) *mcp.Server {
	return mcpbridge.NewServer(m, &mcpbridge.Config{Logger: logger})
}

// ServeMCP runs an MCP server for m on stdin and stdout until the client
// disconnects or ctx is cancelled.
func ServeMCP(ctx context.Context, m Manager, logger *slog.Logger) error {
	return NewMCPServer(m, logger).Run(ctx, &mcp.StdioTransport{})
}
