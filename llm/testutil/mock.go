// Package testutil provides test utilities for the llm package.
// It includes a scripted Completer for driving agents without a model endpoint.
package testutil

import (
	"context"
	"sync"

	"github.com/c360studio/reportgen/llm"
)

// MockLLMClient is a thread-safe scripted llm.Completer.
// It captures every request passed to Complete() and returns configured responses.
//
// Usage:
//
//	// Tool call followed by a final answer
//	mock := &MockLLMClient{
//	    Responses: []*llm.Response{
//	        {ToolCalls: []llm.ToolCall{{ID: "c1", Name: "getReportStructure"}}},
//	        {Content: "Done."},
//	    },
//	}
//
//	// Per-capability scripts (supervisor vs writer)
//	mock := &MockLLMClient{
//	    ByCapability: map[string][]*llm.Response{
//	        "planning": {{Content: `{"next": "writer"}`}},
//	    },
//	}
//
//	// Error response
//	mock := &MockLLMClient{
//	    Err: errors.New("connection failed"),
//	}
type MockLLMClient struct {
	mu        sync.Mutex
	requests  []llm.Request
	callCount int

	// Responses are returned in sequence when no capability script matches.
	Responses []*llm.Response

	// ByCapability scripts responses per request capability.
	ByCapability map[string][]*llm.Response

	// Err is returned from every call (takes precedence over Responses).
	Err error

	// Handler, when set, computes the response and overrides all scripts.
	Handler func(ctx context.Context, req llm.Request) (*llm.Response, error)

	responseIndex int
	capIndex      map[string]int
}

var _ llm.Completer = (*MockLLMClient)(nil)

// Complete implements llm.Completer.
func (m *MockLLMClient) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.callCount++
	handler := m.Handler
	m.mu.Unlock()

	if handler != nil {
		return handler(ctx, req)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}

	if script, ok := m.ByCapability[req.Capability]; ok {
		if m.capIndex == nil {
			m.capIndex = make(map[string]int)
		}
		idx := m.capIndex[req.Capability]
		if idx < len(script) {
			m.capIndex[req.Capability] = idx + 1
			return withModel(script[idx]), nil
		}
		return &llm.Response{Model: "test-model"}, nil
	}

	if m.responseIndex < len(m.Responses) {
		resp := m.Responses[m.responseIndex]
		m.responseIndex++
		return withModel(resp), nil
	}

	// Default response if no responses configured
	return &llm.Response{Content: "", Model: "test-model"}, nil
}

func withModel(resp *llm.Response) *llm.Response {
	out := *resp
	if out.Model == "" {
		out.Model = "test-model"
	}
	return &out
}

// Requests returns a copy of every request received so far.
func (m *MockLLMClient) Requests() []llm.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]llm.Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// GetCallCount returns the number of times Complete() was called.
func (m *MockLLMClient) GetCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Reset resets the mock's state (call count and script positions).
func (m *MockLLMClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callCount = 0
	m.responseIndex = 0
	m.capIndex = nil
	m.requests = nil
}
