// Package launch locates the runtime for the tool server and builds its
// command line and environment.
//
// # Runtime Discovery
//
//	discoverer := launch.NewDiscoverer(&launch.Config{
//	    Runtime: "node",
//	    Logger:  slog.Default(),
//	})
//	runtimePath, err := discoverer.Discover(ctx)
//
// Discovery searches in the following order:
//  1. Explicit path in Config.RuntimePath (if provided)
//  2. System PATH (on Windows also the .exe and .cmd variants)
//  3. Platform install directories (Homebrew, Volta, scoop, npm, Program Files)
//
// A Node.js runtime older than MinimumNodeVersion produces a warning. The
// check can be skipped via Config.SkipVersionCheck or the
// TOOLHOST_SKIP_VERSION_CHECK environment variable.
//
// # Command Building
//
//	script, err := launch.MaterializeScript(stateDir)
//	args := launch.BuildArgs(script, options)
//	env := launch.BuildEnvironment(options)
package launch
