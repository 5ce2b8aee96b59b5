// Package tools implements the agent's tool surface. Every tool runs
// against the caller's workspace; shell commands route through the
// command classifier and the sandbox, file operations through the path
// guard, and all outputs through the secret sanitizer.
package tools

import (
	"context"
	"sort"
	"sync"

	"github.com/sandbotdev/sandbot/internal/providers"
	"github.com/sandbotdev/sandbot/internal/security"
)

// Call carries the invocation context for one tool execution.
type Call struct {
	UserID   int64
	ChatID   int64
	ChatKind security.ChatKind
	Args     map[string]any
}

// Tool is one callable exposed to the model.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, call *Call) *Result
}

// groupDenied tools are unavailable in group chats: no interactive
// prompts, no file pushes into a shared room, no deletions on a
// bystander's say-so. Dangerous shell commands are already collapsed
// to blocked by the classifier there.
var groupDenied = map[string]bool{
	"ask_user":    true,
	"send_file":   true,
	"delete_file": true,
}

// Registry holds the registered tools.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns all registered tool names, sorted.
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

// Allowed reports whether a tool may run for the given chat kind.
func Allowed(name string, kind security.ChatKind) bool {
	if kind == security.ChatGroup && groupDenied[name] {
		return false
	}
	return true
}

// Definitions returns the provider tool schemas for a chat kind.
func (r *Registry) Definitions(kind security.ChatKind) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		if Allowed(name, kind) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		t := r.tools[name]
		defs = append(defs, providers.ToolDefinition{
			Type: "function",
			Function: providers.ToolFunctionSchema{
				Name:        t.Name(),
				Description: t.Description(),
				Parameters:  t.Parameters(),
			},
		})
	}
	return defs
}
