package tools

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/gobwas/glob"

	"github.com/entrhq/loom/pkg/llm"
)

// ErrToolNotFound is returned when a tool name is not registered or is disabled.
var ErrToolNotFound = errors.New("tool not found")

// Registry holds the tools available to sessions. It is populated once at
// startup and read concurrently afterwards.
type Registry struct {
	tools    map[string]Tool
	disabled []glob.Glob
	order    []string
	mu       sync.RWMutex
}

// NewRegistry creates a registry. Tool names matching any of the disabled
// glob patterns are hidden from definitions and cannot be resolved.
func NewRegistry(disabled ...string) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool)}
	for _, pattern := range disabled {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid disabled tool pattern %q: %w", pattern, err)
		}
		r.disabled = append(r.disabled, g)
	}
	return r, nil
}

// Register adds a tool. Registering the same name twice is an error.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}
	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// MustRegister registers tools and panics on error. Intended for program setup.
func (r *Registry) MustRegister(tools ...Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Resolve returns the enabled tool with the given name.
func (r *Registry) Resolve(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, ok := r.tools[name]
	if !ok || r.isDisabled(name) {
		return nil, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return tool, nil
}

// Has reports whether name resolves to an enabled tool.
func (r *Registry) Has(name string) bool {
	_, err := r.Resolve(name)
	return err == nil
}

// Names returns enabled tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.order))
	for _, name := range r.order {
		if !r.isDisabled(name) {
			names = append(names, name)
		}
	}
	return names
}

// Tools returns enabled tools in registration order.
func (r *Registry) Tools() []Tool {
	names := r.Names()

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(names))
	for _, name := range names {
		out = append(out, r.tools[name])
	}
	return out
}

// Definitions returns provider tool definitions for every enabled tool.
func (r *Registry) Definitions() []llm.ToolDefinition {
	tools := r.Tools()
	defs := make([]llm.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		defs = append(defs, llm.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema().JSONSchema(),
		})
	}
	return defs
}

// ParamNames returns the sorted set of parameter names declared by enabled tools.
// The embedded-block parser uses it to avoid mistaking a parameter tag for a tool.
func (r *Registry) ParamNames() []string {
	seen := make(map[string]struct{})
	for _, t := range r.Tools() {
		for _, p := range t.Schema().Params {
			seen[p.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LoopBreaking reports whether the named tool ends the working phase.
func (r *Registry) LoopBreaking(name string) bool {
	t, err := r.Resolve(name)
	return err == nil && t.IsLoopBreaking()
}

func (r *Registry) isDisabled(name string) bool {
	for _, g := range r.disabled {
		if g.Match(name) {
			return true
		}
	}
	return false
}
