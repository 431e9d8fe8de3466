package tooling

import (
	"fmt"
	"sort"
)

// Registry is the immutable set of tools available to the agent. Build it
// once at startup; lookups are safe for concurrent use with no locking
// because nothing mutates after construction.
type Registry struct {
	tools map[string]Tool
	names []string
}

// NewRegistry builds a Registry from the given tools. Names must be unique
// and every tool needs a handler and an input schema; a registry that could
// dispatch into a nil handler is a programming error worth failing startup
// over.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if t.Name == "" {
			return nil, fmt.Errorf("tool with empty name")
		}
		if t.Handler == nil {
			return nil, fmt.Errorf("tool %q has nil handler", t.Name)
		}
		if t.InputSchema == nil {
			return nil, fmt.Errorf("tool %q has nil input schema", t.Name)
		}
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("duplicate tool name %q", t.Name)
		}
		r.tools[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all tool names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// Tools returns all tools in name order.
func (r *Registry) Tools() []Tool {
	out := make([]Tool, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tools[name])
	}
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.tools) }
