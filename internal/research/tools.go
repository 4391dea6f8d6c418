package research

import "github.com/psychohistory/psychohistory/internal/llm"

const (
	toolSearch         = "search"
	toolFinishResearch = "finish_research"
)

// toolDefinitions returns the two tools exposed to the model per §4.3:
// search and finish_research.
func toolDefinitions() []llm.ToolDefinition {
	return []llm.ToolDefinition{
		{
			Name:        toolSearch,
			Description: "Search the web for sources relevant to the event under analysis.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"query": map[string]interface{}{
						"type":        "string",
						"description": "The search query.",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        toolFinishResearch,
			Description: "Signal that enough research has been gathered and stop the loop.",
			Parameters: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"summary": map[string]interface{}{
						"type":        "string",
						"description": "A concise summary of what was found.",
					},
					"confidence": map[string]interface{}{
						"type": "string",
						"enum": []string{"low", "medium", "high"},
					},
				},
				"required": []string{"summary", "confidence"},
			},
		},
	}
}
