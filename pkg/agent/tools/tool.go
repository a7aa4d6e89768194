package tools

import (
	"context"

	"github.com/entrhq/loom/pkg/types"
)

// Tool represents a capability the model can invoke during a session.
//
// Tools are requested either as provider-native structured calls or as tagged
// blocks embedded in text, e.g.:
//
//	<lookup>
//	<query>overdraft fees</query>
//	<page>3</page>
//	</lookup>
//
// Either way the dispatcher validates the arguments against Schema before
// Execute runs.
type Tool interface {
	// Name returns the unique identifier for this tool (e.g., "task_completion").
	Name() string

	// Description returns a human-readable description of what this tool does.
	Description() string

	// Schema declares the typed parameters the tool accepts.
	Schema() Schema

	// Execute runs the tool with validated arguments.
	// A returned error is reported to the model as a recoverable tool failure.
	Execute(ctx context.Context, args Arguments) (*types.ToolResult, error)

	// IsLoopBreaking reports whether a successful call ends the working phase
	// of the session (the completion signal).
	IsLoopBreaking() bool
}

// Cacheable is implemented by tools whose text-only results may also be cached.
// Results carrying attachments are cached regardless.
type Cacheable interface {
	Cacheable() bool
}
