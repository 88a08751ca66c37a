package agent

import (
	"context"
	"fmt"
)

// ToolHandler executes a tool call with JSON arguments and returns the result.
type ToolHandler func(ctx context.Context, args string) (string, error)

// Tool describes a callable capability.
type Tool struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ToolRegistry is a capability-indexed dispatch table: tool name to typed
// handler, built at agent-spawn time rather than resolved at call time.
type ToolRegistry struct {
	defs     []Tool
	handlers map[string]ToolHandler
}

// NewToolRegistry creates an empty registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		handlers: make(map[string]ToolHandler),
	}
}

// Register adds a tool definition and its handler.
func (r *ToolRegistry) Register(def Tool, handler ToolHandler) {
	r.defs = append(r.defs, def)
	r.handlers[def.Name] = handler
}

// Lookup returns the definition and handler for a tool name.
func (r *ToolRegistry) Lookup(name string) (Tool, ToolHandler, bool) {
	h, ok := r.handlers[name]
	if !ok {
		return Tool{}, nil, false
	}
	for _, def := range r.defs {
		if def.Name == name {
			return def, h, true
		}
	}
	return Tool{Name: name}, h, true
}

// Definitions returns all tool definitions.
func (r *ToolRegistry) Definitions() []Tool {
	return r.defs
}

// Execute runs a tool by name with the given JSON arguments.
func (r *ToolRegistry) Execute(ctx context.Context, name, args string) (string, error) {
	h, ok := r.handlers[name]
	if !ok {
		return "", fmt.Errorf("unknown tool: %s", name)
	}
	return h(ctx, args)
}
