package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/quill/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations handle the specifics of one vendor API while presenting a
// unified streaming interface to the Gateway. They must be safe for
// concurrent use; nested generations from tools call Complete while the
// outer turn's stream is still open.
type LLMProvider interface {
	// Complete sends a prompt and returns a streaming response. The channel
	// is closed when the response ends; the last chunk carries Done or Error.
	Complete(ctx context.Context, req *CompletionRequest) (<-chan *CompletionChunk, error)

	// Name returns the provider name.
	Name() string

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	// Model is the vendor model identifier. If empty, the provider default is used.
	Model string `json:"model"`

	// System is the system prompt.
	System string `json:"system,omitempty"`

	// Messages contains the conversation history in chronological order.
	Messages []CompletionMessage `json:"messages"`

	// Tools declares the tools the model may call.
	Tools []Tool `json:"-"`

	// MaxTokens limits the response length. Zero means provider default.
	MaxTokens int `json:"max_tokens,omitempty"`
}

// CompletionMessage is a single message in vendor-neutral form.
//
// Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionChunk is a single chunk of a streaming LLM response.
type CompletionChunk struct {
	// Text contains partial response text.
	Text string `json:"text,omitempty"`

	// ToolCall contains a complete tool execution request.
	ToolCall *models.ToolCall `json:"tool_call,omitempty"`

	// Done is true when the response completed successfully.
	Done bool `json:"done,omitempty"`

	// Error terminates the stream.
	Error error `json:"-"`

	// InputTokens and OutputTokens are only populated on the final chunk.
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Tool defines the interface for model-invocable tools.
type Tool interface {
	// Name returns the tool name used in function calling.
	Name() string

	// Description tells the model when to use the tool.
	Description() string

	// Schema returns the JSON Schema of the tool's arguments.
	Schema() json.RawMessage

	// Execute runs the tool with arguments already validated against Schema.
	Execute(ctx context.Context, params json.RawMessage) (*ToolResult, error)
}

// ToolResult contains the output from a tool execution.
//
// Errors are also communicated via ToolResult with IsError=true, allowing the
// model to recover conversationally.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// toCompletionMessages converts stored messages into provider messages.
func toCompletionMessages(msgs []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Text(),
			ToolCalls:   m.ToolCalls(),
			ToolResults: m.ToolResults(),
		})
	}
	return out
}
