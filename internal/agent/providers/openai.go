package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/toolconv"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIProvider streams chat completions from OpenAI or any endpoint
// speaking the same protocol.
type OpenAIProvider struct {
	client       *openai.Client
	defaultModel string
	retry        retry.Policy
}

// OpenAIConfig configures an OpenAIProvider.
type OpenAIConfig struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
	Retry        retry.Policy
}

// NewOpenAIProvider returns a provider for cfg.
func NewOpenAIProvider(cfg OpenAIConfig) (*OpenAIProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultOpenAIModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy(cfg.Retry),
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Complete streams a response for req.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{
		Model:         model,
		Messages:      convertOpenAIMessages(req.Messages, req.System),
		Stream:        true,
		StreamOptions: &openai.StreamOptions{IncludeUsage: true},
		Tools:         toolconv.ToOpenAITools(req.Tools),
	}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		stream, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) (*openai.ChatCompletionStream, error) {
			s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
			return s, p.wrapError(err, model)
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

// processStream accumulates tool call fragments by index and emits them,
// in index order, once the choice finishes.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, chunks chan<- *agent.CompletionChunk, model string) {
	calls := make(map[int]*models.ToolCall)
	args := make(map[int]string)
	var usage openai.Usage

	flush := func() bool {
		indexes := make([]int, 0, len(calls))
		for i := range calls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			call := calls[i]
			if call.ID == "" || call.Name == "" {
				continue
			}
			call.Input = rawArgs(args[i])
			if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: call}) {
				return false
			}
		}
		calls = make(map[int]*models.ToolCall)
		args = make(map[int]string)
		return true
	}

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			if !flush() {
				return
			}
			send(ctx, chunks, &agent.CompletionChunk{
				Done:         true,
				InputTokens:  usage.PromptTokens,
				OutputTokens: usage.CompletionTokens,
			})
			return
		}
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
			return
		}
		if resp.Usage != nil {
			usage = *resp.Usage
		}
		if len(resp.Choices) == 0 {
			continue
		}

		choice := resp.Choices[0]
		if choice.Delta.Content != "" {
			if !send(ctx, chunks, &agent.CompletionChunk{Text: choice.Delta.Content}) {
				return
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			call := calls[index]
			if call == nil {
				call = &models.ToolCall{}
				calls[index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Name = tc.Function.Name
			}
			args[index] += tc.Function.Arguments
		}
		if choice.FinishReason == openai.FinishReasonToolCalls {
			if !flush() {
				return
			}
		}
	}
}

func convertOpenAIMessages(messages []agent.CompletionMessage, system string) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	}
	for _, msg := range messages {
		switch msg.Role {
		case "assistant":
			m := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
			for _, call := range msg.ToolCalls {
				m.ToolCalls = append(m.ToolCalls, openai.ToolCall{
					ID:   call.ID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      call.Name,
						Arguments: string(rawArgs(string(call.Input))),
					},
				})
			}
			out = append(out, m)
		case "tool":
			// One message per result, linked by call id.
			for _, r := range msg.ToolResults {
				out = append(out, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    r.Content,
					ToolCallID: r.ToolCallID,
				})
			}
		case "system":
		default:
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: msg.Content})
		}
	}
	return out
}

func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		e := newProviderError("openai", model, apiErr.HTTPStatusCode, apiErr.Type, err)
		if code, ok := apiErr.Code.(string); ok {
			if reason := classifyCode(code); reason != ReasonUnknown {
				e.Reason = reason
			}
			e.Code = code
		}
		e.Message = apiErr.Message
		return e
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return newProviderError("openai", model, reqErr.HTTPStatusCode, "", err)
	}
	return newProviderError("openai", model, 0, "", fmt.Errorf("stream: %w", err))
}
