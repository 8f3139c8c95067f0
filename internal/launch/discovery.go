package launch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

const (
	// MinimumNodeVersion is the oldest Node.js release the bundled server supports.
	MinimumNodeVersion = "18.0.0"

	// VersionCheckTimeout is the timeout for the runtime version check command.
	VersionCheckTimeout = 2 * time.Second

	// skipVersionCheckEnv disables the runtime version check when set.
	skipVersionCheckEnv = "TOOLHOST_SKIP_VERSION_CHECK"
)

var versionPattern = regexp.MustCompile(`^v?([0-9]+\.[0-9]+\.[0-9]+)`)

// Config holds configuration for runtime discovery.
type Config struct {
	// Runtime is the executable name to search for (e.g. "node").
	Runtime string

	// RuntimePath is an explicit path that skips the search.
	RuntimePath string

	// SkipVersionCheck skips version validation during discovery.
	// Can also be controlled via the TOOLHOST_SKIP_VERSION_CHECK env var.
	SkipVersionCheck bool

	// Logger is an optional logger for discovery operations.
	// If nil, a default no-op logger is used.
	Logger *slog.Logger

	// goos and home override runtime.GOOS and the user home directory.
	goos string
	home string
}

// Discoverer locates the runtime that executes the server script.
type Discoverer interface {
	// Discover returns the absolute path of the runtime executable.
	Discover(ctx context.Context) (string, error)
}

type discoverer struct {
	cfg  *Config
	log  *slog.Logger
	goos string
	home string
}

// Compile-time verification that discoverer implements Discoverer.
var _ Discoverer = (*discoverer)(nil)

// NewDiscoverer creates a new runtime discoverer with the given configuration.
func NewDiscoverer(cfg *Config) Discoverer {
	if cfg == nil {
		cfg = &Config{}
	}

	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	goos := cfg.goos
	if goos == "" {
		goos = runtime.GOOS
	}

	home := cfg.home
	if home == "" {
		home, _ = os.UserHomeDir()
	}

	return &discoverer{
		cfg:  cfg,
		log:  log,
		goos: goos,
		home: home,
	}
}

// Discover locates the runtime and validates its version.
func (d *discoverer) Discover(ctx context.Context) (string, error) {
	d.log.Debug("Discovering runtime", "runtime", d.cfg.Runtime)

	path, err := d.find()
	if err != nil {
		d.log.Error("Failed to find runtime", "error", err)

		return "", err
	}

	d.log.Debug("Found runtime", "path", path)

	d.checkVersion(ctx, path)

	return path, nil
}

// find searches the explicit path, then PATH, then well-known locations.
func (d *discoverer) find() (string, error) {
	if d.cfg.RuntimePath != "" {
		d.log.Debug("Using explicit runtime path", "path", d.cfg.RuntimePath)

		if _, err := os.Stat(d.cfg.RuntimePath); err == nil {
			return d.cfg.RuntimePath, nil
		}

		return "", &errors.LaunchError{SearchedPaths: []string{d.cfg.RuntimePath}}
	}

	names := ExecutableNames(d.cfg.Runtime, d.goos)
	searched := make([]string, 0, 16)

	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			d.log.Debug("Found runtime in PATH", "name", name, "path", path)

			return path, nil
		}
	}

	searched = append(searched, "$PATH")

	for _, dir := range WellKnownDirs(d.goos, d.home) {
		for _, name := range names {
			path := filepath.Join(dir, name)
			searched = append(searched, path)

			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				d.log.Debug("Found runtime at well-known path", "path", path)

				return path, nil
			}
		}
	}

	d.log.Warn("Runtime not found in any searched paths", "searched_paths", searched)

	return "", &errors.LaunchError{SearchedPaths: searched}
}

// ExecutableNames returns the file names to try for a runtime on goos.
// Windows installs ship .exe binaries and npm installs .cmd shims.
func ExecutableNames(name, goos string) []string {
	if goos != "windows" || filepath.Ext(name) != "" {
		return []string{name}
	}

	return []string{name + ".exe", name + ".cmd", name}
}

// WellKnownDirs returns platform-specific install directories to search
// after PATH.
func WellKnownDirs(goos, home string) []string {
	var dirs []string

	switch goos {
	case "windows":
		if home != "" {
			dirs = append(dirs,
				filepath.Join(home, "scoop", "shims"),
				filepath.Join(home, "scoop", "apps", "nodejs", "current"),
				filepath.Join(home, "scoop", "persist", "nodejs", "bin"),
				filepath.Join(home, "AppData", "Roaming", "npm"),
			)
		}

		dirs = append(dirs,
			`C:\Program Files\nodejs`,
			`C:\Program Files (x86)\nodejs`,
		)

		if home != "" {
			dirs = append(dirs, filepath.Join(home, "AppData", "Local", "npm"))
		}
	case "darwin":
		dirs = append(dirs, "/opt/homebrew/bin", "/usr/local/bin", "/usr/bin")
	default:
		dirs = append(dirs, "/usr/local/bin", "/usr/bin")
	}

	if goos != "windows" && home != "" {
		dirs = append(dirs,
			filepath.Join(home, ".local", "bin"),
			filepath.Join(home, ".volta", "bin"),
		)
	}

	return dirs
}

// checkVersion warns if a Node.js runtime is older than MinimumNodeVersion.
// Errors are silently ignored.
func (d *discoverer) checkVersion(ctx context.Context, path string) {
	if d.cfg.SkipVersionCheck || os.Getenv(skipVersionCheckEnv) != "" {
		d.log.Debug("Skipping runtime version check")

		return
	}

	base := strings.TrimSuffix(strings.ToLower(filepath.Base(path)), filepath.Ext(path))
	if base != "node" && base != "nodejs" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	//nolint:gosec // G204: the runtime path comes from discovery
	output, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		d.log.Debug("Runtime version check failed", "error", err)

		return
	}

	versionStr := strings.TrimSpace(string(output))

	match := versionPattern.FindStringSubmatch(versionStr)
	if match == nil {
		d.log.Debug("Could not parse runtime version", "output", versionStr)

		return
	}

	version := match[1]
	if compareVersions(version, MinimumNodeVersion) < 0 {
		d.log.Warn("Runtime version is unsupported",
			"version", version,
			"minimum_required", MinimumNodeVersion,
		)

		fmt.Fprintf(os.Stderr,
			"Warning: Node.js %s is unsupported. Minimum required version is %s.\n",
			version, MinimumNodeVersion,
		)
	} else {
		d.log.Debug("Runtime version check passed", "version", version)
	}
}

// compareVersions compares two semantic versions.
// Returns -1 if a < b, 0 if a == b, 1 if a > b.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		aNum := 0
		bNum := 0

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		if aNum < bNum {
			return -1
		}

		if aNum > bNum {
			return 1
		}
	}

	return 0
}
