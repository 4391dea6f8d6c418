package research

import (
	"fmt"

	"github.com/psychohistory/psychohistory/internal/llm"
	"github.com/psychohistory/psychohistory/pkg/templates"
)

// conversation tracks a single agentic-research invocation's message
// history. Unlike the teacher's ConversationManager (which bridged to
// ADK/genai's Content format), this talks directly in internal/llm.Message
// terms since AgenticResearcher depends only on llm.Provider.
type conversation struct {
	systemPrompt string
	messages     []llm.Message
}

func newConversation(systemPrompt, userPrompt string) *conversation {
	return &conversation{
		systemPrompt: systemPrompt,
		messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleUser, Content: userPrompt},
		},
	}
}

func (c *conversation) addAssistant(msg llm.AssistantMessage) {
	c.messages = append(c.messages, llm.Message{
		Role:      llm.RoleAssistant,
		Content:   msg.Content,
		ToolCalls: msg.ToolCalls,
	})
}

func (c *conversation) addToolResult(toolCallID, toolName, content string) {
	c.messages = append(c.messages, llm.Message{
		Role:       llm.RoleTool,
		Content:    content,
		ToolCallID: toolCallID,
		Name:       toolName,
	})
}

func (c *conversation) history() []llm.Message {
	return c.messages
}

// buildResearchPrompt assembles the task prompt fed to the researcher's
// first turn: the event under analysis, its branching path from the seed,
// seed context, and timeframe (spec §4.3 step 1). Rendered from
// pkg/templates' "research/query" template so prompt wording lives in one
// place alongside the synthesis template.
func buildResearchPrompt(event string, path []string, seedContext, timeframe string, depth int) string {
	rendered, err := templates.Get().Render("research/query", map[string]interface{}{
		"Event":       event,
		"Path":        path,
		"SeedContext": seedContext,
		"Timeframe":   timeframe,
		"Depth":       depth,
	})
	if err != nil {
		// Template rendering failure is a programmer error (malformed
		// template), not a runtime condition to recover from; fall back to
		// a minimal prompt so research can still proceed.
		return fmt.Sprintf("Research the event %q at depth %d.", event, depth)
	}
	return rendered
}
