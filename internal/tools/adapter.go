// Package tools defines the adapter contract the gateway uses to reach
// upstream services, plus the built-in HTTP adapter.
package tools

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when no adapter is registered for a tool name.
var ErrUnknownTool = errors.New("unknown tool")

// Adapter executes actions against one upstream service. Implementations
// must be safe for concurrent use.
type Adapter interface {
	// Name is the tool identifier requests refer to.
	Name() string
	// Execute performs one action. The returned value is the decoded
	// upstream response.
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
	// Configured reports whether the adapter has everything it needs to
	// reach its upstream (endpoint, credentials).
	Configured() bool
	// Idempotent reports whether an action is safe to serve from cache.
	Idempotent(action string) bool
}

// Registry maps tool names to adapters. It is populated at startup and
// read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

// NewRegistry builds a registry from the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

// Get returns the adapter for tool, or ErrUnknownTool.
func (r *Registry) Get(tool string) (Adapter, error) {
	a, ok := r.adapters[tool]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTool, tool)
	}
	return a, nil
}

// Names returns the registered tool names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
