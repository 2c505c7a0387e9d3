package shell

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"git.srvlab.io/whiskey/draid-bench/pkg/utils"
)

// MockResponse is a scripted reply for MockRunner
type MockResponse struct {
	Stdout   string
	Stderr   string
	ExitCode int
	// Err simulates a transport failure; the command is considered not run
	Err   error
	Delay time.Duration
}

// MockCall records one invocation seen by MockRunner
type MockCall struct {
	Name    string
	Args    []string
	Command string
}

// MockHandler computes a response for a call
type MockHandler func(call MockCall) MockResponse

type mockRoute struct {
	prefix  string
	handler MockHandler
}

// MockRunner is a scripted Runner for tests. Routes match on the joined
// command line by prefix; the most recently registered match wins.
type MockRunner struct {
	mu     sync.Mutex
	routes []mockRoute
	calls  []MockCall
	target string
}

// NewMockRunner creates a MockRunner with no routes
func NewMockRunner() *MockRunner {
	return &MockRunner{target: "mock"}
}

// On registers a handler for commands starting with prefix
func (m *MockRunner) On(prefix string, h MockHandler) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.routes = append(m.routes, mockRoute{prefix: prefix, handler: h})
	return m
}

// Respond registers a fixed response for commands starting with prefix
func (m *MockRunner) Respond(prefix string, resp MockResponse) *MockRunner {
	return m.On(prefix, func(MockCall) MockResponse { return resp })
}

// RespondSequence replies with each response in turn, repeating the last one
func (m *MockRunner) RespondSequence(prefix string, resps ...MockResponse) *MockRunner {
	var mu sync.Mutex
	i := 0
	return m.On(prefix, func(MockCall) MockResponse {
		mu.Lock()
		defer mu.Unlock()
		if len(resps) == 0 {
			return MockResponse{}
		}
		r := resps[i]
		if i < len(resps)-1 {
			i++
		}
		return r
	})
}

// Calls returns a copy of every recorded call
func (m *MockRunner) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MockCall, len(m.calls))
	copy(out, m.calls)
	return out
}

// Commands returns the recorded command lines
func (m *MockRunner) Commands() []string {
	calls := m.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Command
	}
	return out
}

// CallsMatching returns recorded calls whose command line starts with prefix
func (m *MockRunner) CallsMatching(prefix string) []MockCall {
	var out []MockCall
	for _, c := range m.Calls() {
		if strings.HasPrefix(c.Command, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Target implements Runner
func (m *MockRunner) Target() string { return m.target }

// Close implements Runner
func (m *MockRunner) Close() error { return nil }

// Run implements Runner
func (m *MockRunner) Run(ctx context.Context, name string, args ...string) (Result, error) {
	call := MockCall{Name: name, Args: append([]string(nil), args...), Command: Join(name, args...)}
	res := Result{Command: call.Command}

	m.mu.Lock()
	m.calls = append(m.calls, call)
	var handler MockHandler
	for i := len(m.routes) - 1; i >= 0; i-- {
		if strings.HasPrefix(call.Command, m.routes[i].prefix) {
			handler = m.routes[i].handler
			break
		}
	}
	m.mu.Unlock()

	if handler == nil {
		return res, fmt.Errorf("mock runner: no response scripted for %q", call.Command)
	}

	resp := handler(call)
	if resp.Delay > 0 {
		select {
		case <-ctx.Done():
			return res, fmt.Errorf("command %q interrupted: %w", call.Command, ctx.Err())
		case <-time.After(resp.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return res, fmt.Errorf("command %q interrupted: %w", call.Command, err)
	}
	if resp.Err != nil {
		return res, resp.Err
	}

	res.Stdout = resp.Stdout
	res.Stderr = resp.Stderr
	res.ExitCode = resp.ExitCode
	res.Duration = resp.Delay
	if resp.ExitCode != 0 {
		return res, &utils.CommandError{
			Command:  call.Command,
			ExitCode: resp.ExitCode,
			Stderr:   resp.Stderr,
			Stdout:   resp.Stdout,
		}
	}
	return res, nil
}
