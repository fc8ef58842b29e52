package toolconv

import (
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/quill/internal/agent"
)

// ToBedrockTools converts tools to a Converse tool configuration. It returns
// nil for an empty tool set since Bedrock rejects an empty tool list.
func ToBedrockTools(tools []agent.Tool) *types.ToolConfiguration {
	if len(tools) == 0 {
		return nil
	}
	out := make([]types.Tool, len(tools))
	for i, tool := range tools {
		out[i] = &types.ToolMemberToolSpec{
			Value: types.ToolSpecification{
				Name:        aws.String(tool.Name()),
				Description: aws.String(tool.Description()),
				InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schemaMap(tool))},
			},
		}
	}
	return &types.ToolConfiguration{Tools: out}
}
