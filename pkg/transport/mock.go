package transport

import (
	"context"
	"sync"
)

// MockResponse is the canned reply to one command
type MockResponse struct {
	Output string
	Err    error
}

// MockExecutor is an in-memory Executor for tests. Commands without a
// registered response fail with a *CommandError like an unknown CLI command.
type MockExecutor struct {
	mu        sync.RWMutex
	responses map[string]MockResponse
	calls     []string
	closed    bool
}

// NewMockExecutor creates a MockExecutor with no responses
func NewMockExecutor() *MockExecutor {
	return &MockExecutor{responses: make(map[string]MockResponse)}
}

// SetOutput registers the output of command (test helper)
func (m *MockExecutor) SetOutput(command, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[command] = MockResponse{Output: output}
}

// SetError makes command fail with err (test helper)
func (m *MockExecutor) SetError(command string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[command] = MockResponse{Err: err}
}

// Calls returns the commands executed so far (test helper)
func (m *MockExecutor) Calls() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// CallCount returns how often command was executed (test helper)
func (m *MockExecutor) CallCount(command string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, c := range m.calls {
		if c == command {
			n++
		}
	}
	return n
}

// Closed reports whether Close was called (test helper)
func (m *MockExecutor) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}

// Execute implements Executor
func (m *MockExecutor) Execute(ctx context.Context, command string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, command)

	resp, ok := m.responses[command]
	if !ok {
		out := "Error: \"" + CommandLabel(command) + "\" is not a recognized command\n"
		return out, &CommandError{Command: command, ExitStatus: 1, Output: out}
	}
	return resp.Output, resp.Err
}

// Close implements Executor
func (m *MockExecutor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
