// Package tools defines the tools the agent declares to the model and
// the registry that routes the model's tool calls back to them.
package tools

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
)

// Tool is a named capability the model may invoke.
type Tool struct {
	// Name is both the declared function name and the dispatch key.
	Name        string
	Description string

	// Parameters describes the argument object. Nil means the tool
	// takes no arguments.
	Parameters *jsonschema.Schema

	Handler func(ctx context.Context, args map[string]any) (string, error)
}

// Declaration is the provider-neutral description of a tool.
type Declaration struct {
	Name        string
	Description string
	Parameters  *jsonschema.Schema
}

// Registry holds the tools available to one agent. Registration order
// is preserved for declarations; replacing a tool keeps its original
// position.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]*Tool
	order []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Put inserts t, replacing any tool with the same name. It reports
// whether a replacement occurred so the caller can decide whether that
// deserves a warning.
func (r *Registry) Put(t *Tool) (replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, replaced = r.tools[t.Name]; !replaced {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
	return replaced
}

// Get returns the named tool, or nil.
func (r *Registry) Get(name string) *Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Declarations returns one declaration per tool in registration order.
func (r *Registry) Declarations() []Declaration {
	r.mu.RLock()
	defer r.mu.RUnlock()
	decls := make([]Declaration, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		decls = append(decls, Declaration{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		})
	}
	return decls
}

// Block renders the tool declarations as prompt text. It returns the
// empty string when no tools are registered.
//
//	Available tools:
//	- reply: Reply to the user's message.
//	  Parameters: {"type":"object",...}
func (r *Registry) Block() string {
	decls := r.Declarations()
	if len(decls) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("Available tools:")
	for _, d := range decls {
		sb.WriteString("\n- ")
		sb.WriteString(d.Name)
		sb.WriteString(": ")
		sb.WriteString(d.Description)
		sb.WriteString("\n  Parameters: ")
		sb.WriteString(schemaJSON(d.Parameters))
	}
	return sb.String()
}

func schemaJSON(s *jsonschema.Schema) string {
	if s == nil {
		return "{}"
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "{}"
	}
	return string(data)
}
