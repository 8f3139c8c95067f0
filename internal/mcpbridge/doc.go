// Package mcpbridge publishes the filesystem tools as a Model Context
// Protocol server built on github.com/modelcontextprotocol/go-sdk.
//
// Each MCP tool call is forwarded to an Executor, normally the Manager, so
// MCP clients share the same supervised tool server, validation and restart
// policy as direct callers.
package mcpbridge
