package llm

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/psychohistory/psychohistory/pkg/errors"
)

// MockProvider is a deterministic Provider used in tests and local
// development without an API key. Responses are scripted per-call via
// CompleteFunc/CompleteJSONFunc/CompleteWithToolsFunc; unset hooks fall back
// to a canned response so callers that don't care about content still work.
type MockProvider struct {
	mu sync.Mutex

	CompleteFunc          func(ctx context.Context, prompt string) (string, error)
	CompleteJSONFunc      func(ctx context.Context, prompt string, out interface{}) error
	CompleteWithToolsFunc func(ctx context.Context, messages []Message, tools []ToolDefinition, choice ToolChoice) (AssistantMessage, error)

	calls int
}

// NewMockProvider returns a MockProvider with no scripted hooks; callers
// typically set the *Func fields before use.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (m *MockProvider) Complete(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, prompt)
	}
	return "mock response", nil
}

func (m *MockProvider) CompleteJSON(ctx context.Context, prompt string, out interface{}) error {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.CompleteJSONFunc != nil {
		return m.CompleteJSONFunc(ctx, prompt, out)
	}
	return errors.Wrap(errors.ErrSchema, "mock provider has no CompleteJSONFunc configured")
}

func (m *MockProvider) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, choice ToolChoice) (AssistantMessage, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.CompleteWithToolsFunc != nil {
		return m.CompleteWithToolsFunc(ctx, messages, tools, choice)
	}
	return AssistantMessage{Content: "mock response"}, nil
}

// Calls returns the number of completion calls made so far, across all
// three methods. Useful for asserting an iteration cap was respected.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// FixedFinishResearchCall builds an AssistantMessage that immediately calls
// the finish_research tool, for scripting a researcher's terminal turn.
func FixedFinishResearchCall(summary string, confidence string) AssistantMessage {
	args, _ := json.Marshal(map[string]string{
		"summary":    summary,
		"confidence": confidence,
	})
	return AssistantMessage{
		ToolCalls: []ToolCall{
			{ID: "mock-call-1", Name: "finish_research", Arguments: string(args)},
		},
	}
}

// FixedSearchCall builds an AssistantMessage that calls the search tool with
// the given query, for scripting a researcher's intermediate turns.
func FixedSearchCall(callID, query string) AssistantMessage {
	args, _ := json.Marshal(map[string]string{"query": query})
	return AssistantMessage{
		ToolCalls: []ToolCall{
			{ID: callID, Name: "search", Arguments: string(args)},
		},
	}
}
