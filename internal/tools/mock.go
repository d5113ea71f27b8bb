package tools

import (
	"context"
	"sync"
)

// MockAdapter is a scriptable adapter used in tests and local demos.
type MockAdapter struct {
	ToolName          string
	IdempotentActions map[string]bool
	NotConfigured     bool

	mu       sync.Mutex
	response any
	err      error
	calls    int
}

func NewMockAdapter(name string) *MockAdapter {
	return &MockAdapter{
		ToolName:          name,
		IdempotentActions: map[string]bool{"get": true},
		response:          map[string]any{"ok": true},
	}
}

func (m *MockAdapter) Name() string { return m.ToolName }

func (m *MockAdapter) Configured() bool { return !m.NotConfigured }

func (m *MockAdapter) Idempotent(action string) bool { return m.IdempotentActions[action] }

// Respond sets the value returned by subsequent Execute calls.
func (m *MockAdapter) Respond(v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = v
	m.err = nil
}

// Fail makes subsequent Execute calls return err.
func (m *MockAdapter) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Execute was invoked.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockAdapter) Execute(_ context.Context, action string, params map[string]any) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}
