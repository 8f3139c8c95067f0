package launch

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
)

// ScriptName is the file name the bundled server script is written under.
const ScriptName = "fs_server.js"

//go:embed fs_server.js
var serverScript []byte

// ServerScript returns the bundled filesystem server script.
func ServerScript() []byte {
	return bytes.Clone(serverScript)
}

// MaterializeScript writes the bundled server script into dir and returns its
// path. An existing file with identical content is left untouched.
func MaterializeScript(dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create state directory: %w", err)
	}

	path := filepath.Join(dir, ScriptName)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, serverScript) {
		return path, nil
	}

	tmp, err := os.CreateTemp(dir, ScriptName+".*")
	if err != nil {
		return "", fmt.Errorf("write server script: %w", err)
	}

	if _, err := tmp.Write(serverScript); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())

		return "", fmt.Errorf("write server script: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("write server script: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())

		return "", fmt.Errorf("install server script: %w", err)
	}

	return path, nil
}
