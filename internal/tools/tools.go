// Package tools defines the tool capability contract, the name-keyed
// registry the agent dispatches through, and the built-in tools.
package tools

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// Kind classifies what a tool touches.
type Kind string

// Tool kinds.
const (
	KindRead    Kind = "read"
	KindWrite   Kind = "write"
	KindShell   Kind = "shell"
	KindNetwork Kind = "network"
	KindMemory  Kind = "memory"
	KindMCP     Kind = "mcp"
)

// Invocation is one call of a tool.
type Invocation struct {
	CallID string
	Name   string
	Args   map[string]any
	// Cwd is the session working directory relative paths resolve against.
	Cwd string
}

// Tool is a capability the model can invoke.
type Tool interface {
	Name() string
	Description() string
	Kind() Kind
	// Schema is the JSON schema of the arguments object.
	Schema() map[string]any
	// IsMutating reports whether a call with args changes anything
	// outside the conversation.
	IsMutating(args map[string]any) bool
	// Execute runs the call. A returned error is converted to a failed
	// Result by the caller; tools may also return a failed Result directly.
	Execute(ctx context.Context, inv Invocation) (*Result, error)
}

// PathResolver is implemented by tools that touch filesystem paths.
type PathResolver interface {
	AffectedPaths(args map[string]any, cwd string) []string
}

// CommandResolver is implemented by tools that run shell commands. It
// returns the command line a call would run in cwd.
type CommandResolver interface {
	Command(args map[string]any, cwd string) string
}

// DangerClassifier is implemented by tools that can flag individual
// calls as dangerous.
type DangerClassifier interface {
	IsDangerous(args map[string]any) bool
}

// Definition is the catalog entry the model sees for a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolName   string
	Desc       string
	ToolKind   Kind
	Parameters map[string]any
	Mutating   bool
	Dangerous  bool
	Handler    func(ctx context.Context, inv Invocation) (*Result, error)
}

func (f *FuncTool) Name() string                    { return f.ToolName }
func (f *FuncTool) Description() string             { return f.Desc }
func (f *FuncTool) Kind() Kind                      { return f.ToolKind }
func (f *FuncTool) Schema() map[string]any          { return f.Parameters }
func (f *FuncTool) IsMutating(map[string]any) bool  { return f.Mutating }
func (f *FuncTool) IsDangerous(map[string]any) bool { return f.Dangerous }

func (f *FuncTool) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	if f.Handler == nil {
		return nil, fmt.Errorf("tool %s has no handler", f.ToolName)
	}
	return f.Handler(ctx, inv)
}

// Registry holds available tools keyed by name. It is safe for
// concurrent use.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger: logger,
		tools:  make(map[string]Tool),
	}
}

// Register adds a tool, replacing any tool with the same name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		r.logger.Debug("replacing tool", "tool", t.Name())
	}
	r.tools[t.Name()] = t
}

// Unregister removes a tool. Removing an unknown name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get returns the named tool, or nil if none is registered.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// Lookup returns the named tool or an *ErrToolUnavailable.
func (r *Registry) Lookup(name string) (Tool, error) {
	if t := r.Get(name); t != nil {
		return t, nil
	}
	return nil, &ErrToolUnavailable{ToolName: name}
}

// Names returns registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns registered tools sorted by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	slices.SortFunc(out, func(a, b Tool) int {
		switch {
		case a.Name() < b.Name():
			return -1
		case a.Name() > b.Name():
			return 1
		}
		return 0
	})
	return out
}

// Definitions returns the catalog of all tools, sorted by name.
func (r *Registry) Definitions() []Definition {
	list := r.List()
	defs := make([]Definition, len(list))
	for i, t := range list {
		params := t.Schema()
		if params == nil {
			params = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		defs[i] = Definition{Name: t.Name(), Description: t.Description(), Parameters: params}
	}
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
