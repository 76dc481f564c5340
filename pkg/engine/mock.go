package engine

import (
	"context"
	"sync"
)

// MockRunner implements Runner for testing.
type MockRunner struct {
	// RunFunc is called when Run is invoked.
	// If nil, Run succeeds with no output.
	RunFunc func(ctx context.Context, cmd Command) ([]byte, error)

	mu    sync.Mutex
	calls []Command
}

// Run calls RunFunc and records the command.
func (m *MockRunner) Run(ctx context.Context, cmd Command) ([]byte, error) {
	m.mu.Lock()
	m.calls = append(m.calls, cmd)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd)
	}
	return nil, nil
}

// Calls returns all recorded commands.
func (m *MockRunner) Calls() []Command {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]Command, len(m.calls))
	copy(result, m.calls)
	return result
}

// CallCount returns how many times Run was invoked.
func (m *MockRunner) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Verify MockRunner implements Runner at compile time.
var _ Runner = (*MockRunner)(nil)
