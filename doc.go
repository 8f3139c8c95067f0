// Package toolhost runs filesystem tools in a supervised child process and
// exposes them through one narrow call: execute a named tool with parameters
// and get back a result or an error.
//
// The child speaks line-delimited JSON on stdin and stdout. By default it is
// the bundled Node.js filesystem server, launched with the allowed
// directories as arguments; any executable speaking the same protocol works,
// including cmd/toolhost-fs.
//
// # Basic Usage
//
// For a single call, use Execute:
//
//	result, err := toolhost.Execute(ctx, toolhost.ToolListDirectory, nil,
//	    toolhost.WithAllowedDirs("/srv/notes"),
//	)
//
// # Managed Sessions
//
// For repeated calls, keep a Manager or use the WithManager helper:
//
//	err := toolhost.WithManager(ctx, func(m toolhost.Manager) error {
//	    if err := m.WriteFile(ctx, "today.md", "# Notes\n"); err != nil {
//	        return err
//	    }
//	    content, err := m.ReadFile(ctx, "today.md")
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(content)
//	    return nil
//	},
//	    toolhost.WithAllowedDirs("/srv/notes"),
//	    toolhost.WithLogger(slog.Default()),
//	)
//
// The manager starts the child on first use, waits for its readiness line,
// confirms it with a probe call and restarts it exactly once when a call
// finds it gone. Concurrent calls are routed by request id.
//
// # Configuration
//
// Options can also come from a YAML file:
//
//	mcp_servers:
//	  filesystem:
//	    allowed_directories:
//	      - ${workspaceFolder}/data
//	toolhost:
//	  call_timeout: 30s
//
//	m, err := toolhost.NewManager(toolhost.WithConfigFile("toolhost.yaml"))
//
// # Error Handling
//
// The package provides typed errors for different failure scenarios:
//
//	_, err := m.ExecuteTool(ctx, toolhost.ToolReadFile, map[string]any{"path": "a.txt"})
//	if toolErr, ok := errors.AsType[*toolhost.ToolError](err); ok {
//	    log.Printf("tool failed: %s", toolErr.Message)
//	}
//	if errors.Is(err, toolhost.ErrRequestTimeout) {
//	    log.Print("tool server did not answer in time")
//	}
//	if launchErr, ok := errors.AsType[*toolhost.LaunchError](err); ok {
//	    log.Fatalf("node not found, searched: %v", launchErr.SearchedPaths)
//	}
//
// # Requirements
//
// The bundled server needs Node.js 18 or newer in PATH or a well-known
// install location. Use WithRuntimePath to point at a specific executable.
package toolhost
