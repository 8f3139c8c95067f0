//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	toolhost "github.com/wagiedev/toolhost-go"
)

// TestConfigFile_WorkspaceFolder tests that a YAML configuration with
// ${workspaceFolder} drives a real server.
func TestConfigFile_WorkspaceFolder(t *testing.T) {
	workspace := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "toolhost.yaml")

	cfg := `mcp_servers:
  filesystem:
    allowed_directories:
      - ${workspaceFolder}/notes
toolhost:
  call_timeout: 10s
  start_attempts: 1
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o600))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := toolhost.WithManager(ctx, func(m toolhost.Manager) error {
		return m.WriteFile(ctx, "from-config.md", "configured")
	},
		toolhost.WithConfigFile(cfgPath),
		toolhost.WithWorkspace(workspace),
		toolhost.WithStateDir(t.TempDir()),
	)
	if err != nil {
		skipIfRuntimeNotInstalled(t, err)
		t.Fatalf("WithManager failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(workspace, "notes", "from-config.md"))
	require.NoError(t, err)
	require.Equal(t, "configured", string(data))
}
