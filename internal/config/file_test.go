package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mcp_servers:
  filesystem:
    allowed_directories:
      - ${workspaceFolder}/data
      - /srv/shared
    runtime: nodejs
    env:
      DEBUG: "1"
toolhost:
  call_timeout: 12s
  stop_grace: 2s
  start_attempts: 5
  inline_params: true
  lock_file: ${workspaceFolder}/.toolhost/lock
`

func TestParseFile_AppliesToOptions(t *testing.T) {
	f, err := ParseFile([]byte(sampleConfig))
	require.NoError(t, err)

	workspace := t.TempDir()

	var opts Options
	require.NoError(t, f.Apply(&opts, workspace))

	require.Equal(t, []string{filepath.Join(workspace, "data"), "/srv/shared"}, opts.AllowedDirs)
	require.Equal(t, "nodejs", opts.Runtime)
	require.Equal(t, "1", opts.Env["DEBUG"])
	require.Equal(t, 12*time.Second, opts.CallTimeout)
	require.Equal(t, 2*time.Second, opts.StopGrace)
	require.Equal(t, 5, opts.StartAttempts)
	require.True(t, opts.InlineParams)
	require.Equal(t, filepath.Join(workspace, ".toolhost", "lock"), opts.LockFile)
}

func TestParseFile_EmptyLeavesOptionsUntouched(t *testing.T) {
	f, err := ParseFile([]byte("{}"))
	require.NoError(t, err)

	opts := Options{CallTimeout: time.Second, Runtime: "bun"}
	require.NoError(t, f.Apply(&opts, "/ws"))

	require.Equal(t, time.Second, opts.CallTimeout)
	require.Equal(t, "bun", opts.Runtime)
	require.Empty(t, opts.AllowedDirs)
}

func TestParseFile_InvalidYAML(t *testing.T) {
	_, err := ParseFile([]byte("mcp_servers: [unterminated"))
	require.Error(t, err)
}

func TestLoadFile_Missing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestWithDefaults(t *testing.T) {
	opts := (&Options{CallTimeout: 2 * time.Second, StartBackoff: -1}).WithDefaults()

	require.NotNil(t, opts.Logger)
	require.Equal(t, DefaultRuntime, opts.Runtime)
	require.Equal(t, DefaultReadinessMarker, opts.ReadinessMarker)
	require.Equal(t, DefaultProbeTool, opts.ProbeTool)
	require.Equal(t, 2*time.Second, opts.CallTimeout)
	require.Equal(t, DefaultStartupTimeout, opts.StartupTimeout)
	require.Equal(t, DefaultStartAttempts, opts.StartAttempts)
	require.Equal(t, time.Duration(-1), opts.StartBackoff)
	require.Equal(t, DefaultMaxLineSize, opts.MaxLineSize)
}

func TestWithDefaults_NilReceiver(t *testing.T) {
	var o *Options

	opts := o.WithDefaults()
	require.Equal(t, DefaultStartBackoff, opts.StartBackoff)
}
