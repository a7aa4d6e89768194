package tools

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/loom/pkg/types"
)

// stubTool is a configurable tool used across the package tests.
type stubTool struct {
	name      string
	params    []Param
	execute   func(ctx context.Context, args Arguments) (*types.ToolResult, error)
	calls     atomic.Int32
	breaking  bool
	cacheable bool
}

func (s *stubTool) Name() string         { return s.name }
func (s *stubTool) Description() string  { return "stub " + s.name }
func (s *stubTool) Schema() Schema       { return NewSchema(s.params...) }
func (s *stubTool) IsLoopBreaking() bool { return s.breaking }
func (s *stubTool) Cacheable() bool      { return s.cacheable }

func (s *stubTool) Execute(ctx context.Context, args Arguments) (*types.ToolResult, error) {
	s.calls.Add(1)
	if s.execute != nil {
		return s.execute(ctx, args)
	}
	return &types.ToolResult{Payload: "ok"}, nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r, err := NewRegistry()
	require.NoError(t, err)

	lookup := &stubTool{name: "lookup", params: []Param{{Name: "query", Type: TypeString, Required: true}}}
	require.NoError(t, r.Register(lookup))
	require.NoError(t, r.Register(NewTaskCompletionTool()))

	got, err := r.Resolve("lookup")
	require.NoError(t, err)
	assert.Same(t, lookup, got)

	_, err = r.Resolve("missing")
	assert.True(t, errors.Is(err, ErrToolNotFound))

	assert.Error(t, r.Register(&stubTool{name: "lookup"}), "duplicate names are rejected")
	assert.Error(t, r.Register(&stubTool{}), "empty names are rejected")

	assert.Equal(t, []string{"lookup", "task_completion"}, r.Names())
	assert.Equal(t, []string{"query", "result"}, r.ParamNames())
	assert.True(t, r.LoopBreaking("task_completion"))
	assert.False(t, r.LoopBreaking("lookup"))
}

func TestRegistryDisabledPatterns(t *testing.T) {
	r, err := NewRegistry("debug_*")
	require.NoError(t, err)
	r.MustRegister(&stubTool{name: "debug_dump"}, &stubTool{name: "lookup"})

	assert.False(t, r.Has("debug_dump"))
	assert.True(t, r.Has("lookup"))

	defs := r.Definitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "lookup", defs[0].Name)
	assert.Equal(t, "object", defs[0].Parameters["type"])
}

func TestRegistryInvalidPattern(t *testing.T) {
	_, err := NewRegistry("[unclosed")
	assert.Error(t, err)
}
