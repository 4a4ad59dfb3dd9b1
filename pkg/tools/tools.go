// Package tools implements the tool registry and guarded executor. Safe
// tools run in-process against a declared parameter schema; unsafe tools are
// dispatched to an isolated sandbox. All outputs are capped and scrubbed
// before they leave the executor.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Handler is an in-process tool implementation.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// ParamSpec declares one parameter of a tool's schema.
type ParamSpec struct {
	Name     string
	Required bool
}

// ToolSpec describes a registered tool.
type ToolSpec struct {
	// Name is the unique tool identifier.
	Name string

	// Description feeds the semantic router's embedding corpus.
	Description string

	// Handler runs the tool in-process. Unsafe sandboxed tools may leave
	// it nil.
	Handler Handler

	// Safe marks tools that may run in-process without approval.
	Safe bool

	// RequiresSandbox forces dispatch through the sandbox driver.
	RequiresSandbox bool

	// SandboxCommand is the argv executed inside the sandbox.
	SandboxCommand []string

	// Params is the declared parameter schema.
	Params []ParamSpec

	// OpenSchema permits argument keys beyond the declared parameters.
	OpenSchema bool
}

// Registry holds the registered tools. Registration happens at startup;
// lookups are concurrent.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]ToolSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]ToolSpec)}
}

// Register adds a tool. Re-registering a name fails.
func (r *Registry) Register(spec ToolSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("tool already registered: %s", spec.Name)
	}
	r.tools[spec.Name] = spec
	return nil
}

// Lookup returns a tool by name.
func (r *Registry) Lookup(name string) (ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.tools[name]
	return spec, ok
}

// List returns all tools sorted by name.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSpec, 0, len(r.tools))
	for _, spec := range r.tools {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// validateArgs enforces a tool's declared schema: required parameters must
// be present and, unless the schema is open, no undeclared keys are allowed.
func validateArgs(spec ToolSpec, args map[string]any) error {
	declared := make(map[string]bool, len(spec.Params))
	for _, p := range spec.Params {
		declared[p.Name] = true
		if p.Required {
			if _, ok := args[p.Name]; !ok {
				return fmt.Errorf("missing required parameter %q", p.Name)
			}
		}
	}
	if !spec.OpenSchema {
		for key := range args {
			if !declared[key] {
				return fmt.Errorf("unexpected parameter %q", key)
			}
		}
	}
	return nil
}
