package llm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/tidwall/gjson"

	"github.com/psychohistory/psychohistory/internal/metrics"
	"github.com/psychohistory/psychohistory/pkg/errors"
	"github.com/psychohistory/psychohistory/pkg/logger"
)

// OpenAIProvider implements Provider against the official OpenAI Go SDK.
type OpenAIProvider struct {
	client      openai.Client
	model       string
	timeout     time.Duration
	rateLimiter RateLimiter
	log         *logger.Logger
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey      string
	Model       string
	Timeout     time.Duration
	RateLimiter RateLimiter
}

// NewOpenAIProvider creates an OpenAI-backed Provider.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.Wrap(errors.ErrValidation, "openai API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = "gpt-4o-mini"
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	rl := cfg.RateLimiter
	if rl == nil {
		rl = NewNoOpLimiter()
	}

	client := openai.NewClient(option.WithAPIKey(cfg.APIKey))

	return &OpenAIProvider{
		client:      client,
		model:       model,
		timeout:     timeout,
		rateLimiter: rl,
		log:         logger.Get().With("component", "openai_provider", "model", model),
	}, nil
}

// Complete returns the model's free-text response to a single prompt.
func (p *OpenAIProvider) Complete(ctx context.Context, prompt string) (string, error) {
	msg, err := p.completeWithTools(ctx, "complete", []Message{{Role: RoleUser, Content: prompt}}, nil, ToolChoiceAuto)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// CompleteJSON requests a strict-JSON response and unmarshals it into out.
// The model is instructed to respond with JSON only; a fenced code block is
// tolerated and stripped, and the remainder is checked with gjson.Valid
// before unmarshalling.
func (p *OpenAIProvider) CompleteJSON(ctx context.Context, prompt string, out interface{}) error {
	jsonPrompt := prompt + "\n\nRespond with JSON only, no commentary, no markdown fences."

	msg, err := p.completeWithTools(ctx, "complete_json", []Message{{Role: RoleUser, Content: jsonPrompt}}, nil, ToolChoiceAuto)
	if err != nil {
		return err
	}

	raw := extractJSON(msg.Content)
	if !gjson.Valid(raw) {
		return errors.Wrapf(errors.ErrSchema, "model response is not valid JSON: %s", truncate(msg.Content, 200))
	}

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return errors.Wrapf(errors.ErrSchema, "unmarshal model JSON response: %v", err)
	}

	return nil
}

// CompleteWithTools requests a completion with tool-calling enabled.
func (p *OpenAIProvider) CompleteWithTools(ctx context.Context, messages []Message, tools []ToolDefinition, choice ToolChoice) (AssistantMessage, error) {
	return p.completeWithTools(ctx, "complete_with_tools", messages, tools, choice)
}

func (p *OpenAIProvider) completeWithTools(ctx context.Context, method string, messages []Message, tools []ToolDefinition, choice ToolChoice) (result AssistantMessage, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordLLMCall(string(ProviderNameOpenAI), method, time.Since(start), err)
	}()

	if err := p.rateLimiter.Wait(ctx); err != nil {
		return AssistantMessage{}, &RateLimitError{Provider: ProviderNameOpenAI, Limit: p.rateLimiter.Limit(), Err: err}
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	params := openai.ChatCompletionNewParams{
		Model:    p.model,
		Messages: toOpenAIMessages(messages),
	}

	if len(tools) > 0 {
		params.Tools = toOpenAITools(tools)
		switch choice {
		case ToolChoiceRequired:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String("required"),
			}
		case ToolChoiceNone:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String("none"),
			}
		default:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String("auto"),
			}
		}
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return AssistantMessage{}, errors.Wrapf(errors.ErrTransport, "openai chat completion failed: %v", err)
	}

	if len(resp.Choices) == 0 {
		return AssistantMessage{}, errors.Wrap(errors.ErrTransport, "openai returned no choices")
	}

	choiceMsg := resp.Choices[0].Message

	out := AssistantMessage{Content: choiceMsg.Content}
	for _, tc := range choiceMsg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}

	p.log.Debug("completion received",
		"tool_calls", len(out.ToolCalls),
		"content_length", len(out.Content),
		"usage_total_tokens", resp.Usage.TotalTokens)

	return out, nil
}

func toOpenAIMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case RoleUser:
			out = append(out, openai.UserMessage(m.Content))
		case RoleTool:
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		case RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Content))
				continue
			}
			asst := openai.ChatCompletionAssistantMessageParam{
				Content: openai.ChatCompletionAssistantMessageParamContentUnion{
					OfString: openai.String(m.Content),
				},
			}
			for _, tc := range m.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallUnionParam{
					OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
						ID: tc.ID,
						Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.Arguments,
						},
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		}
	}
	return out
}

func toOpenAITools(tools []ToolDefinition) []openai.ChatCompletionToolUnionParam {
	out := make([]openai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
			Name:        t.Name,
			Description: openai.String(t.Description),
			Parameters:  t.Parameters,
		}))
	}
	return out
}

// extractJSON pulls a JSON value out of a possibly fenced-code-block
// response (models routinely wrap JSON in ```json ... ``` despite
// instructions not to).
func extractJSON(content string) string {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		trimmed = strings.TrimSpace(trimmed)
	}
	return trimmed
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
