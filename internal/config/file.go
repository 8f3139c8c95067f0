package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// WorkspaceVariable is expanded to the workspace root in directory entries.
const WorkspaceVariable = "${workspaceFolder}"

// File is the on-disk YAML configuration.
//
//	mcp_servers:
//	  filesystem:
//	    allowed_directories:
//	      - ${workspaceFolder}/data
//	toolhost:
//	  call_timeout: 30s
type File struct {
	MCPServers struct {
		Filesystem ServerSection `yaml:"filesystem"`
	} `yaml:"mcp_servers"`
	Toolhost TuningSection `yaml:"toolhost"`
}

// ServerSection describes how to launch the filesystem server.
type ServerSection struct {
	AllowedDirectories []string          `yaml:"allowed_directories"`
	Runtime            string            `yaml:"runtime,omitempty"`
	RuntimePath        string            `yaml:"runtime_path,omitempty"`
	Script             string            `yaml:"script,omitempty"`
	Args               []string          `yaml:"args,omitempty"`
	Env                map[string]string `yaml:"env,omitempty"`
	WorkDir            string            `yaml:"work_dir,omitempty"`
}

// TuningSection holds timeouts and lifecycle knobs.
type TuningSection struct {
	ReadinessMarker        string        `yaml:"readiness_marker,omitempty"`
	DisableReadinessMarker bool          `yaml:"disable_readiness_marker,omitempty"`
	StartupTimeout         time.Duration `yaml:"startup_timeout,omitempty"`
	ProbeTimeout           time.Duration `yaml:"probe_timeout,omitempty"`
	CallTimeout            time.Duration `yaml:"call_timeout,omitempty"`
	StopGrace              time.Duration `yaml:"stop_grace,omitempty"`
	StartAttempts          int           `yaml:"start_attempts,omitempty"`
	StartBackoff           time.Duration `yaml:"start_backoff,omitempty"`
	MaxConsecutiveTimeouts int           `yaml:"max_consecutive_timeouts,omitempty"`
	InlineParams           bool          `yaml:"inline_params,omitempty"`
	LockFile               string        `yaml:"lock_file,omitempty"`
}

// LoadFile reads and parses a YAML configuration file.
func LoadFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	return ParseFile(data)
}

// ParseFile parses YAML configuration bytes.
func ParseFile(data []byte) (*File, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &f, nil
}

// Apply copies every set field onto o. Directory entries have
// ${workspaceFolder} replaced with workspace and are made absolute.
func (f *File) Apply(o *Options, workspace string) error {
	srv := f.MCPServers.Filesystem

	for _, dir := range srv.AllowedDirectories {
		abs, err := ExpandDir(dir, workspace)
		if err != nil {
			return err
		}

		o.AllowedDirs = append(o.AllowedDirs, abs)
	}

	if srv.Runtime != "" {
		o.Runtime = srv.Runtime
	}

	if srv.RuntimePath != "" {
		o.RuntimePath = srv.RuntimePath
	}

	if srv.Script != "" {
		script, err := ExpandDir(srv.Script, workspace)
		if err != nil {
			return err
		}

		o.ScriptPath = script
	}

	if len(srv.Args) > 0 {
		o.Args = append(o.Args, srv.Args...)
	}

	if len(srv.Env) > 0 {
		if o.Env == nil {
			o.Env = make(map[string]string, len(srv.Env))
		}

		for k, v := range srv.Env {
			o.Env[k] = v
		}
	}

	if srv.WorkDir != "" {
		wd, err := ExpandDir(srv.WorkDir, workspace)
		if err != nil {
			return err
		}

		o.WorkDir = wd
	}

	t := f.Toolhost

	if t.ReadinessMarker != "" {
		o.ReadinessMarker = t.ReadinessMarker
	}

	o.DisableReadinessMarker = o.DisableReadinessMarker || t.DisableReadinessMarker
	o.InlineParams = o.InlineParams || t.InlineParams

	setDuration(&o.StartupTimeout, t.StartupTimeout)
	setDuration(&o.ProbeTimeout, t.ProbeTimeout)
	setDuration(&o.CallTimeout, t.CallTimeout)
	setDuration(&o.StopGrace, t.StopGrace)
	setDuration(&o.StartBackoff, t.StartBackoff)

	if t.StartAttempts > 0 {
		o.StartAttempts = t.StartAttempts
	}

	if t.MaxConsecutiveTimeouts > 0 {
		o.MaxConsecutiveTimeouts = t.MaxConsecutiveTimeouts
	}

	if t.LockFile != "" {
		lock, err := ExpandDir(t.LockFile, workspace)
		if err != nil {
			return err
		}

		o.LockFile = lock
	}

	return nil
}

// ExpandDir substitutes ${workspaceFolder} and returns an absolute, cleaned path.
func ExpandDir(dir, workspace string) (string, error) {
	expanded := strings.ReplaceAll(dir, WorkspaceVariable, workspace)

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", dir, err)
	}

	return abs, nil
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v > 0 {
		*dst = v
	}
}
