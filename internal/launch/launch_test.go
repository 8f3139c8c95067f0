package launch

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/wagiedev/toolhost-go/internal/config"
	"github.com/wagiedev/toolhost-go/internal/errors"
)

// TestDiscoverer_NotFound tests that a missing explicit path returns LaunchError.
func TestDiscoverer_NotFound(t *testing.T) {
	discoverer := NewDiscoverer(&Config{
		RuntimePath:      "/nonexistent/path/to/node",
		SkipVersionCheck: true,
		Logger:           slog.Default(),
	})

	_, err := discoverer.Discover(context.Background())

	require.Error(t, err)
	require.IsType(t, &errors.LaunchError{}, err)
	require.Contains(t, err.Error(), "/nonexistent/path/to/node")
}

// TestDiscoverer_ExplicitPath tests discovery with an explicit path.
func TestDiscoverer_ExplicitPath(t *testing.T) {
	fake := filepath.Join(t.TempDir(), "node")

	err := os.WriteFile(fake, []byte("#!/bin/sh\necho v20.1.0"), 0o755)
	require.NoError(t, err)

	discoverer := NewDiscoverer(&Config{
		RuntimePath:      fake,
		SkipVersionCheck: true,
		Logger:           slog.Default(),
	})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fake, path)
}

// TestDiscoverer_WellKnownDir tests the fallback to install directories
// when PATH has no match.
func TestDiscoverer_WellKnownDir(t *testing.T) {
	home := t.TempDir()
	bin := filepath.Join(home, ".volta", "bin")
	require.NoError(t, os.MkdirAll(bin, 0o755))

	const name = "toolhost-test-runtime-xyz"

	fake := filepath.Join(bin, name)
	require.NoError(t, os.WriteFile(fake, []byte("#!/bin/sh\n"), 0o755))

	discoverer := NewDiscoverer(&Config{
		Runtime:          name,
		SkipVersionCheck: true,
		goos:             "linux",
		home:             home,
	})

	path, err := discoverer.Discover(context.Background())

	require.NoError(t, err)
	require.Equal(t, fake, path)
}

// TestDiscoverer_SearchedPaths tests that a failed search lists every location.
func TestDiscoverer_SearchedPaths(t *testing.T) {
	home := t.TempDir()

	discoverer := NewDiscoverer(&Config{
		Runtime:          "toolhost-definitely-missing",
		SkipVersionCheck: true,
		goos:             "linux",
		home:             home,
	})

	_, err := discoverer.Discover(context.Background())

	launchErr, ok := stderrors.AsType[*errors.LaunchError](err)
	require.True(t, ok)
	require.Contains(t, launchErr.SearchedPaths, "$PATH")
	require.Contains(t, launchErr.SearchedPaths, filepath.Join(home, ".local", "bin", "toolhost-definitely-missing"))
}

func TestExecutableNames(t *testing.T) {
	tests := []struct {
		name string
		goos string
		in   string
		want []string
	}{
		{name: "unix", goos: "linux", in: "node", want: []string{"node"}},
		{name: "windows bare", goos: "windows", in: "node", want: []string{"node.exe", "node.cmd", "node"}},
		{name: "windows with ext", goos: "windows", in: "npx.cmd", want: []string{"npx.cmd"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ExecutableNames(tt.in, tt.goos))
		})
	}
}

func TestWellKnownDirs(t *testing.T) {
	darwin := WellKnownDirs("darwin", "/Users/me")
	require.Equal(t, "/opt/homebrew/bin", darwin[0])
	require.Contains(t, darwin, filepath.Join("/Users/me", ".volta", "bin"))

	windows := WellKnownDirs("windows", `C:\Users\me`)
	require.Contains(t, windows, `C:\Program Files\nodejs`)
	require.Contains(t, windows, filepath.Join(`C:\Users\me`, "AppData", "Roaming", "npm"))

	require.NotContains(t, WellKnownDirs("linux", ""), "")
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"18.0.0", "18.0.0", 0},
		{"16.20.2", "18.0.0", -1},
		{"20.1.0", "18.0.0", 1},
		{"18.10", "18.9.9", 1},
	}

	for _, tt := range tests {
		t.Run(tt.a+"_vs_"+tt.b, func(t *testing.T) {
			require.Equal(t, tt.want, compareVersions(tt.a, tt.b))
		})
	}
}

// TestBuildArgs tests that allowed directories are cleaned and placed last.
func TestBuildArgs(t *testing.T) {
	options := &config.Options{
		Args:        []string{"--verbose"},
		AllowedDirs: []string{"/srv/data/", "/srv/./shared"},
	}

	args := BuildArgs("/state/fs_server.js", options)

	require.Equal(t, []string{"/state/fs_server.js", "--verbose", "/srv/data", "/srv/shared"}, args)
}

func TestBuildArgs_NoScript(t *testing.T) {
	args := BuildArgs("", &config.Options{AllowedDirs: []string{"/a"}})

	require.Equal(t, []string{"/a"}, args)
}

// TestBuildEnvironment tests the UTF-8 variables and user overrides.
func TestBuildEnvironment(t *testing.T) {
	options := &config.Options{
		Env: map[string]string{"NODE_NO_WARNINGS": "0"},
	}

	env := buildEnvironment(options, "linux")

	require.Contains(t, env, "PYTHONIOENCODING=utf-8")
	require.NotContains(t, env, "PYTHONLEGACYWINDOWSSTDIO=0")

	// User-supplied values come after the defaults so they take effect.
	defaultIdx := slices.Index(env, "NODE_NO_WARNINGS=1")
	userIdx := slices.Index(env, "NODE_NO_WARNINGS=0")
	require.GreaterOrEqual(t, defaultIdx, 0)
	require.Greater(t, userIdx, defaultIdx)

	windows := buildEnvironment(&config.Options{}, "windows")
	require.Contains(t, windows, "PYTHONLEGACYWINDOWSSTDIO=0")
}

func TestEnsureDirs(t *testing.T) {
	root := t.TempDir()
	dirs := []string{filepath.Join(root, "a", "b"), filepath.Join(root, "c")}

	require.NoError(t, EnsureDirs(dirs))

	for _, dir := range dirs {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		require.True(t, info.IsDir())
	}
}

func TestMaterializeScript(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".toolhost")

	path, err := MaterializeScript(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, ScriptName), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, ServerScript(), data)
	require.True(t, strings.Contains(string(data), "running on stdio"))

	// A second call reuses the file.
	again, err := MaterializeScript(dir)
	require.NoError(t, err)
	require.Equal(t, path, again)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
