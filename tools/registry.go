package tools

import (
	"slices"

	"github.com/c360studio/reportgen/llm"
)

// Registry maps tool names to tools. When two tools share a name the one
// registered last wins, and the name is recorded as shadowed.
type Registry struct {
	tools    map[string]Tool
	order    []string
	shadowed []string
}

// NewRegistry unions the groups in order.
func NewRegistry(groups ...[]Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, group := range groups {
		for _, t := range group {
			r.register(t)
		}
	}
	return r
}

func (r *Registry) register(t Tool) {
	name := t.Name()
	if _, exists := r.tools[name]; exists {
		if !slices.Contains(r.shadowed, name) {
			r.shadowed = append(r.shadowed, name)
		}
	} else {
		r.order = append(r.order, name)
	}
	r.tools[name] = t
}

// Lookup returns the tool registered under name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists tool names in first-registration order.
func (r *Registry) Names() []string {
	return slices.Clone(r.order)
}

// Len returns the number of distinct tool names.
func (r *Registry) Len() int {
	return len(r.order)
}

// Shadowed lists names that were registered more than once.
func (r *Registry) Shadowed() []string {
	return slices.Clone(r.shadowed)
}

// Definitions returns the model-facing definitions of every tool.
func (r *Registry) Definitions() []llm.ToolDefinition {
	defs := make([]llm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, Definition(r.tools[name]))
	}
	return defs
}

// Subset returns a registry holding only the named tools that exist here.
func (r *Registry) Subset(names ...string) *Registry {
	out := &Registry{tools: make(map[string]Tool)}
	for _, name := range r.order {
		if slices.Contains(names, name) {
			out.register(r.tools[name])
		}
	}
	return out
}
