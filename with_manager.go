package toolhost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// WithManager manages the manager lifecycle with automatic cleanup.
//
// It creates a manager, starts the tool server, runs fn and closes the
// manager when fn returns. If Close fails a warning is logged; it never
// overrides the error from fn.
//
// Example usage:
//
//	err := toolhost.WithManager(ctx, func(m toolhost.Manager) error {
//	    return m.WriteFile(ctx, "report.md", report)
//	},
//	    toolhost.WithAllowedDirs(dir),
//	)
func WithManager(ctx context.Context, fn func(Manager) error, opts ...Option) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	m, err := NewManager(opts...)
	if err != nil {
		return err
	}

	log := logger(opts)

	defer func() {
		if closeErr := m.Close(); closeErr != nil {
			log.Warn("failed to close manager", "error", closeErr)
		}
	}()

	if err := m.Start(ctx); err != nil {
		return fmt.Errorf("failed to start tool server: %w", err)
	}

	return fn(m)
}

// Execute runs a single tool call in a fresh tool server and stops it
// afterwards. Use a Manager for more than one call.
func Execute(ctx context.Context, tool string, params map[string]any, opts ...Option) (json.RawMessage, error) {
	var result json.RawMessage

	err := WithManager(ctx, func(m Manager) error {
		raw, err := m.ExecuteTool(ctx, tool, params)
		result = raw

		return err
	}, opts...)

	return result, err
}

func logger(opts []Option) *slog.Logger {
	s := &settings{}
	for _, opt := range opts {
		opt(s)
	}

	if s.Logger == nil {
		return NopLogger()
	}

	return s.Logger
}
