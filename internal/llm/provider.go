// Package llm defines the abstract LLM completion interface the tree
// orchestration core depends on (spec §6), plus the one concrete adapter
// (OpenAI) and a deterministic mock used in tests. The core never imports
// a concrete provider directly — only Provider.
package llm

import "context"

// ProviderName identifies a concrete LLMProvider implementation, used for
// rate-limiter keys and logging.
type ProviderName string

const (
	ProviderNameOpenAI ProviderName = "openai"
	ProviderNameMock   ProviderName = "mock"
)

// ToolChoice controls whether and how the model must invoke a tool.
type ToolChoice string

const (
	ToolChoiceAuto     ToolChoice = "auto"
	ToolChoiceRequired ToolChoice = "required"
	ToolChoiceNone     ToolChoice = "none"
)

// MessageRole identifies the sender of a conversation message.
type MessageRole string

const (
	RoleSystem    MessageRole = "system"
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleTool      MessageRole = "tool"
)

// Message is one turn of a tool-calling conversation.
type Message struct {
	Role       MessageRole
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string // set on RoleTool messages
	Name       string // tool name, set on RoleTool messages
}

// ToolDefinition describes a callable tool in the model's function-calling
// schema.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]interface{} // JSON schema
}

// ToolCall is a single invocation request emitted by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string // JSON-encoded, per spec §9 "tool argument decoding is JSON-from-string"
}

// AssistantMessage is the model's response to a CompleteWithTools call.
type AssistantMessage struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is the abstract completion interface the core depends on
// (spec §6). Concrete adapters (OpenAI, mock) implement it; the core never
// type-asserts down to a concrete provider.
type Provider interface {
	// Complete returns the model's free-text response to prompt.
	Complete(ctx context.Context, prompt string) (string, error)

	// CompleteJSON requests a response that must parse as strict JSON
	// (possibly extracted from a fenced code block) and unmarshal into out.
	// Returns a schema error (wrapping pkg/errors.ErrSchema) on failure.
	CompleteJSON(ctx context.Context, prompt string, out interface{}) error

	// CompleteWithTools requests a completion with tool-calling enabled.
	CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, choice ToolChoice) (AssistantMessage, error)
}
