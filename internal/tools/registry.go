// Package tools defines the tool registry and the dispatcher that
// executes tool calls with timeouts against an execution Environment.
package tools

import (
	"context"
	"sync"
)

// Executor runs one tool call. Parameters arrive already parsed; all
// side effects go through the Environment.
type Executor func(ctx context.Context, params map[string]any, env Environment) (string, error)

// Definition describes a tool to the oracle.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`

	// ReadOnly marks tools with no side effects. Exploration restricts
	// itself to read-only tools.
	ReadOnly bool `json:"read_only"`
}

// Tool pairs a definition with its executor.
type Tool struct {
	Definition Definition
	Executor   Executor
}

// Registry holds the available tools. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Definition.Name] = &tool
}

// Lookup returns the tool by name, or nil.
func (r *Registry) Lookup(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Definitions returns all tool definitions for prompt assembly.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		defs = append(defs, tool.Definition)
	}
	return defs
}

// ReadOnlyNames returns the names of tools safe for exploration.
func (r *Registry) ReadOnlyNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var names []string
	for name, tool := range r.tools {
		if tool.Definition.ReadOnly {
			names = append(names, name)
		}
	}
	return names
}

// Names returns all registered tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Count returns the number of registered tools.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

// StringParam extracts a string parameter.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// IntParam extracts an integer parameter, accepting the float64 form
// JSON decoding produces.
func IntParam(params map[string]any, key string) (int, bool) {
	switch n := params[key].(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	default:
		return 0, false
	}
}

// BoolParam extracts a boolean parameter.
func BoolParam(params map[string]any, key string) (bool, bool) {
	v, ok := params[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}
