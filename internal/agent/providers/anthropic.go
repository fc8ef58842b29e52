// Package providers implements agent.LLMProvider for the supported model
// vendors.
//
// Every provider streams. Complete returns immediately with a channel that
// receives text deltas as they arrive, each tool call once its arguments are
// complete, and finally a Done chunk carrying token usage or an Error chunk.
// Opening the vendor stream is retried with the provider's retry.Policy while
// no output has been emitted; failures after the first chunk end the stream.
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/toolconv"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/pkg/models"
)

const (
	defaultAnthropicModel = "claude-3-haiku-20240307"
	defaultMaxTokens      = 4096

	// maxEmptyStreamEvents bounds consecutive events that produce nothing
	// before the stream is treated as malformed.
	maxEmptyStreamEvents = 300
)

// AnthropicProvider streams completions from the Anthropic Messages API.
// It is safe for concurrent use.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retry        retry.Policy
}

// AnthropicConfig configures an AnthropicProvider.
type AnthropicConfig struct {
	// APIKey is required.
	APIKey string

	// BaseURL overrides the API endpoint.
	BaseURL string

	// DefaultModel is used when a request names no model.
	DefaultModel string

	// Retry governs reopening the stream after transient failures.
	// The zero value uses retry.DefaultPolicy.
	Retry retry.Policy
}

// NewAnthropicProvider returns a provider for cfg.
func NewAnthropicProvider(cfg AnthropicConfig) (*AnthropicProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultAnthropicModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	// Retries are owned by the provider so they stop once output has
	// been relayed.
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(0)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &AnthropicProvider{
		client:       anthropic.NewClient(opts...),
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy(cfg.Retry),
	}, nil
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) SupportsTools() bool { return true }

// Complete streams a response for req.
func (p *AnthropicProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := p.model(req.Model)
	params, err := p.buildParams(req, model)
	if err != nil {
		return nil, err
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		stream, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
			return p.openStream(ctx, params, model)
		})
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: err})
			return
		}
		defer stream.Close()
		p.processStream(ctx, stream, chunks, model)
	}()
	return chunks, nil
}

func (p *AnthropicProvider) buildParams(req *agent.CompletionRequest, model string) (anthropic.MessageNewParams, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		Messages:  convertAnthropicMessages(req.Messages),
		MaxTokens: int64(maxTokens(req.MaxTokens)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return anthropic.MessageNewParams{}, fmt.Errorf("anthropic: convert tools: %w", err)
		}
		params.Tools = tools
	}
	return params, nil
}

// openStream starts a request and reads its first event so that connection
// and HTTP status failures surface here, where they can still be retried.
func (p *AnthropicProvider) openStream(ctx context.Context, params anthropic.MessageNewParams, model string) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	stream := p.client.Messages.NewStreaming(ctx, params)
	if stream.Next() {
		return stream, nil
	}
	err := stream.Err()
	_ = stream.Close()
	if err == nil {
		err = errors.New("stream ended before any event")
	}
	return nil, p.wrapError(err, model)
}

// processStream relays events starting from the stream's current event.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], chunks chan<- *agent.CompletionChunk, model string) {
	var (
		toolCall     *models.ToolCall
		toolInput    strings.Builder
		inputTokens  int
		outputTokens int
		empty        int
	)

	for ok := true; ok; ok = stream.Next() {
		event := stream.Current()
		produced := true

		switch event.Type {
		case "message_start":
			inputTokens = int(event.AsMessageStart().Message.Usage.InputTokens)

		case "content_block_start":
			block := event.AsContentBlockStart().ContentBlock
			if block.Type == "tool_use" {
				use := block.AsToolUse()
				toolCall = &models.ToolCall{ID: use.ID, Name: use.Name}
				toolInput.Reset()
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				if delta.Text == "" {
					produced = false
					break
				}
				if !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Text}) {
					return
				}
			case "input_json_delta":
				toolInput.WriteString(delta.PartialJSON)
			default:
				produced = false
			}

		case "content_block_stop":
			if toolCall == nil {
				break
			}
			toolCall.Input = rawArgs(toolInput.String())
			if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: toolCall}) {
				return
			}
			toolCall = nil

		case "message_delta":
			outputTokens = int(event.AsMessageDelta().Usage.OutputTokens)

		case "message_stop":
			send(ctx, chunks, &agent.CompletionChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens})
			return

		default:
			produced = false
		}

		if produced {
			empty = 0
			continue
		}
		if empty++; empty >= maxEmptyStreamEvents {
			send(ctx, chunks, &agent.CompletionChunk{
				Error: p.wrapError(fmt.Errorf("stream appears malformed: %d consecutive empty events", empty), model),
			})
			return
		}
	}

	err := stream.Err()
	if err == nil {
		err = errors.New("stream ended without message_stop")
	}
	send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
}

func convertAnthropicMessages(messages []agent.CompletionMessage) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		var content []anthropic.ContentBlockParamUnion
		if strings.TrimSpace(msg.Content) != "" {
			content = append(content, anthropic.NewTextBlock(msg.Content))
		}
		for _, r := range msg.ToolResults {
			content = append(content, anthropic.NewToolResultBlock(r.ToolCallID, r.Content, r.IsError))
		}
		for _, call := range msg.ToolCalls {
			// Malformed input replays as an empty object; its tool result
			// already carries the validation failure.
			var input map[string]any
			if len(call.Input) > 0 {
				_ = json.Unmarshal(call.Input, &input)
			}
			if input == nil {
				input = map[string]any{}
			}
			content = append(content, anthropic.NewToolUseBlock(call.ID, input, call.Name))
		}
		if len(content) == 0 {
			continue
		}

		switch msg.Role {
		case "assistant":
			out = append(out, anthropic.NewAssistantMessage(content...))
		case "system":
		default:
			out = append(out, anthropic.NewUserMessage(content...))
		}
	}
	return out
}

type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return newProviderError("anthropic", model, 0, "", err)
	}

	var payload anthropicErrorPayload
	_ = json.Unmarshal([]byte(apiErr.RawJSON()), &payload)
	e := newProviderError("anthropic", model, apiErr.StatusCode, payload.Error.Type, err)
	e.Message = payload.Error.Message
	e.RequestID = apiErr.RequestID
	if payload.RequestID != "" {
		e.RequestID = payload.RequestID
	}
	return e
}

func (p *AnthropicProvider) model(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

func maxTokens(n int) int {
	if n <= 0 {
		return defaultMaxTokens
	}
	return n
}

// rawArgs returns accumulated tool arguments, defaulting to an empty object.
// Arguments that are not valid JSON (a stream cut off by max tokens) are
// kept as a JSON string, which fails argument validation but still
// serializes.
func rawArgs(s string) json.RawMessage {
	if strings.TrimSpace(s) == "" {
		return json.RawMessage(`{}`)
	}
	if !json.Valid([]byte(s)) {
		quoted, _ := json.Marshal(s)
		return quoted
	}
	return json.RawMessage(s)
}

// send delivers c unless ctx is done first.
func send(ctx context.Context, chunks chan<- *agent.CompletionChunk, c *agent.CompletionChunk) bool {
	select {
	case chunks <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
