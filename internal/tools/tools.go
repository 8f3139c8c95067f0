package tools

import (
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/wagiedev/toolhost-go/internal/errors"
)

// Tool names understood by the filesystem server.
const (
	Ping          = "ping"
	ReadFile      = "read_file"
	WriteFile     = "write_file"
	ListDirectory = "list_directory"
)

// Tool describes one tool and the shape of its params.
type Tool struct {
	Name        string
	Description string
	InputSchema *jsonschema.Schema

	resolveOnce sync.Once
	resolved    *jsonschema.Resolved
	resolveErr  error
}

// Validate checks params against the tool's input schema.
func (t *Tool) Validate(params map[string]any) error {
	t.resolveOnce.Do(func() {
		t.resolved, t.resolveErr = t.InputSchema.Resolve(nil)
	})

	if t.resolveErr != nil {
		return &errors.ValidationError{Tool: t.Name, Err: fmt.Errorf("resolve schema: %w", t.resolveErr)}
	}

	if params == nil {
		params = map[string]any{}
	}

	// Round-trip through JSON so typed values (e.g. []string) validate the
	// same way they will look on the wire.
	instance, err := normalize(params)
	if err != nil {
		return &errors.ValidationError{Tool: t.Name, Err: err}
	}

	if err := t.resolved.Validate(instance); err != nil {
		return &errors.ValidationError{Tool: t.Name, Err: err}
	}

	return nil
}

func normalize(params map[string]any) (map[string]any, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode params: %w", err)
	}

	return out, nil
}

// Registry is a set of tools keyed by name.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates a registry holding tools.
func NewRegistry(tools ...*Tool) *Registry {
	r := &Registry{tools: make(map[string]*Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name] = t
	}

	return r
}

// Default returns the filesystem tool vocabulary.
func Default() *Registry {
	return NewRegistry(
		&Tool{
			Name:        Ping,
			Description: "Connectivity probe. Returns {\"success\": true}.",
			InputSchema: objectSchema(nil),
		},
		&Tool{
			Name:        ReadFile,
			Description: "Read a UTF-8 text file inside an allowed directory. Returns {\"content\": string}.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"path": {Type: "string", MinLength: ptr(1), Description: "File path, relative to the first allowed directory or absolute"},
			}, "path"),
		},
		&Tool{
			Name:        WriteFile,
			Description: "Create or overwrite a text file inside an allowed directory. Returns {\"success\": true}.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"path":    {Type: "string", MinLength: ptr(1), Description: "File path, relative to the first allowed directory or absolute"},
				"content": {Type: "string", Description: "Text to write"},
			}, "path", "content"),
		},
		&Tool{
			Name:        ListDirectory,
			Description: "List a directory inside an allowed directory. Directories carry a trailing slash. Returns {\"files\": [string]}.",
			InputSchema: objectSchema(map[string]*jsonschema.Schema{
				"path": {Type: "string", Description: "Directory path; defaults to the first allowed directory"},
			}),
		},
	)
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the sorted tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Validate checks params for a known tool. Unknown tools pass through
// unchecked; the server decides what to do with them.
func (r *Registry) Validate(name string, params map[string]any) error {
	t, ok := r.tools[name]
	if !ok {
		return nil
	}

	return t.Validate(params)
}

func objectSchema(props map[string]*jsonschema.Schema, required ...string) *jsonschema.Schema {
	if props == nil {
		props = map[string]*jsonschema.Schema{}
	}

	return &jsonschema.Schema{
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: &jsonschema.Schema{Not: &jsonschema.Schema{}},
	}
}

func ptr[T any](v T) *T {
	return &v
}
