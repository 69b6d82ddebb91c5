// Package tools defines the tool contract, the capability groups tools are
// registered into, and the name-keyed registry the tool executor dispatches on.
package tools

import (
	"context"

	"github.com/c360studio/reportgen/llm"
)

// Tool is a named, schema-described callable a model can request.
type Tool interface {
	Name() string
	Description() string
	// Parameters is the JSON schema of the arguments object.
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Func adapts a function to Tool.
type Func struct {
	ToolName string
	Desc     string
	Params   map[string]any
	Fn       func(ctx context.Context, args map[string]any) (any, error)
}

// New builds a Func tool.
func New(name, description string, params map[string]any, fn func(ctx context.Context, args map[string]any) (any, error)) *Func {
	return &Func{ToolName: name, Desc: description, Params: params, Fn: fn}
}

// Name returns the tool name.
func (f *Func) Name() string { return f.ToolName }

// Description returns the tool description.
func (f *Func) Description() string { return f.Desc }

// Parameters returns the argument schema.
func (f *Func) Parameters() map[string]any {
	if f.Params == nil {
		return ObjectSchema(nil)
	}
	return f.Params
}

// Execute calls the wrapped function.
func (f *Func) Execute(ctx context.Context, args map[string]any) (any, error) {
	return f.Fn(ctx, args)
}

// Definition converts a tool to the form bound to a model request.
func Definition(t Tool) llm.ToolDefinition {
	return llm.ToolDefinition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// ObjectSchema builds an object schema from property schemas.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProp is a string property schema.
func StringProp(description string) map[string]any {
	return map[string]any{"type": "string", "description": description}
}
