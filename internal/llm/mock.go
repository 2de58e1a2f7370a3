package llm

import (
	"context"
	"sync"

	"oape/internal/agent/ports"
	oerr "oape/internal/errors"
)

// MockStep is one scripted response (or error) from the mock client.
type MockStep struct {
	Response *ports.CompletionResponse
	Err      error
}

// MockClient replays a script of completion responses. It records every
// request so tests can assert on the conversation the loop built.
type MockClient struct {
	mu       sync.Mutex
	steps    []MockStep
	index    int
	Requests []ports.CompletionRequest
}

// NewMockClient creates a mock that returns the given steps in order.
func NewMockClient(steps ...MockStep) *MockClient {
	return &MockClient{steps: steps}
}

// TextStep scripts a plain assistant text response.
func TextStep(text string) MockStep {
	return MockStep{Response: &ports.CompletionResponse{
		Content:    text,
		StopReason: "end_turn",
		Usage:      ports.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

// ToolStep scripts a response requesting the given tool calls.
func ToolStep(calls ...ports.ToolCall) MockStep {
	return MockStep{Response: &ports.CompletionResponse{
		ToolCalls:  calls,
		StopReason: "tool_use",
		Usage:      ports.TokenUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}
}

// ErrStep scripts a failure.
func ErrStep(err error) MockStep {
	return MockStep{Err: err}
}

func (m *MockClient) Complete(ctx context.Context, req ports.CompletionRequest) (*ports.CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.index >= len(m.steps) {
		return nil, oerr.New(oerr.KindUpstreamError, "mock script exhausted after %d steps", len(m.steps))
	}
	step := m.steps[m.index]
	m.index++

	if step.Err != nil {
		return nil, step.Err
	}
	return step.Response, nil
}

func (m *MockClient) Model() string {
	return "mock-model"
}

// Calls returns how many completions were requested.
func (m *MockClient) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}
