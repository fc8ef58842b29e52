package toolconv

import (
	"encoding/json"

	"github.com/haasonsaas/quill/internal/agent"
	openai "github.com/sashabaranov/go-openai"
)

// ToOpenAITools converts tools to OpenAI function definitions.
func ToOpenAITools(tools []agent.Tool) []openai.Tool {
	if len(tools) == 0 {
		return nil
	}
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schemaMap(tool),
			},
		}
	}
	return result
}

// schemaMap decodes a tool schema, substituting an empty object schema when
// the tool's schema is not valid JSON.
func schemaMap(tool agent.Tool) map[string]any {
	var m map[string]any
	if err := json.Unmarshal(tool.Schema(), &m); err != nil || m == nil {
		return map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return m
}
