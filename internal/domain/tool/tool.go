// Package tool defines the contract between the conversation worker and
// the tools the model may invoke: the Tool interface, its JSON-schema
// definition handed to the provider, and the registry the execution
// engine resolves names against.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Kind classifies what a tool does to the world, so callers can reason
// about a tool without knowing its implementation.
type Kind string

const (
	KindRead    Kind = "read"    // read-only file access (read, list)
	KindEdit    Kind = "edit"    // mutates files (write, edit, patch)
	KindExecute Kind = "execute" // runs subprocesses (shell)
	KindSearch  Kind = "search"  // read-only tree search (grep, glob)
	KindThink   Kind = "think"   // no side effects outside the session (todo_write)
)

// Tool is one model-invocable capability.
type Tool interface {
	// Name is the identifier the model calls the tool by.
	Name() string
	// Description is the natural-language summary sent to the provider.
	Description() string
	// Kind reports the tool's effect class.
	Kind() Kind
	// Schema returns the JSON Schema of the tool's parameters.
	Schema() map[string]interface{}
	// Execute runs the tool. A tool failure is reported in the Result,
	// not as a non-nil error; errors are reserved for infrastructure
	// faults the engine should surface as-is.
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is a tool's answer to one invocation.
type Result struct {
	Output   string                 // compact result fed back to the model
	Display  string                 // richer rendering for the UI (falls back to Output)
	Success  bool                   // whether the invocation succeeded
	Metadata map[string]interface{} // structured fields (exit_code, replacements, ...)
	Error    string                 // failure detail when Success is false
}

// DisplayOrOutput returns Display when set, otherwise Output.
func (r *Result) DisplayOrOutput() string {
	if r.Display != "" {
		return r.Display
	}
	return r.Output
}

// MarshalJSON keeps the wire shape stable for audit logging.
func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"output":   r.Output,
		"display":  r.Display,
		"success":  r.Success,
		"metadata": r.Metadata,
		"error":    r.Error,
	})
}

// Definition is the provider-facing description of a tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry resolves tool names to tools and enumerates the definitions
// sent with each provider request.
type Registry interface {
	Register(tool Tool) error
	Get(name string) (Tool, bool)
	List() []Definition
	Has(name string) bool
}

// InMemoryRegistry is the process-local Registry implementation.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
	order []string
}

// NewInMemoryRegistry creates an empty registry.
func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool; duplicate names are an error.
func (r *InMemoryRegistry) Register(tool Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := tool.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	r.tools[name] = tool
	r.order = append(r.order, name)
	return nil
}

// Get resolves a tool by name.
func (r *InMemoryRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	return tool, exists
}

// List returns every registered tool's definition, in registration order
// so the system prompt and provider request stay stable across calls.
func (r *InMemoryRegistry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		tool := r.tools[name]
		defs = append(defs, Definition{
			Name:        tool.Name(),
			Description: tool.Description(),
			Parameters:  tool.Schema(),
		})
	}
	return defs
}

// Has reports whether a tool name is registered.
func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}
