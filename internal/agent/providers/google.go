package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/toolconv"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/pkg/models"
	"google.golang.org/genai"
)

const defaultGoogleModel = "gemini-2.0-flash"

// GoogleProvider streams completions from the Gemini API.
type GoogleProvider struct {
	client       *genai.Client
	defaultModel string
	retry        retry.Policy
}

// GoogleConfig configures a GoogleProvider.
type GoogleConfig struct {
	APIKey       string
	DefaultModel string
	Retry        retry.Policy
}

// NewGoogleProvider returns a provider for cfg.
func NewGoogleProvider(ctx context.Context, cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultGoogleModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	return &GoogleProvider{
		client:       client,
		defaultModel: cfg.DefaultModel,
		retry:        retryPolicy(cfg.Retry),
	}, nil
}

func (p *GoogleProvider) Name() string { return "google" }

func (p *GoogleProvider) SupportsTools() bool { return true }

// Complete streams a response for req. A failed attempt is retried only if
// it produced no chunks.
func (p *GoogleProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	contents := convertGeminiContents(req.Messages)
	config := buildGeminiConfig(req)

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		var done *agent.CompletionChunk
		_, err := retry.Do(ctx, p.retry, func(ctx context.Context) error {
			var emitted bool
			var err error
			done, emitted, err = p.stream(ctx, model, contents, config, chunks)
			if err != nil && emitted {
				return retry.Permanent(err)
			}
			return err
		})
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
			return
		}
		send(ctx, chunks, done)
	}()
	return chunks, nil
}

func (p *GoogleProvider) stream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig, chunks chan<- *agent.CompletionChunk) (*agent.CompletionChunk, bool, error) {
	done := &agent.CompletionChunk{Done: true}
	emitted := false

	for resp, err := range p.client.Models.GenerateContentStream(ctx, model, contents, config) {
		if err != nil {
			return nil, emitted, p.wrapError(err, model)
		}
		if resp == nil {
			continue
		}
		if u := resp.UsageMetadata; u != nil {
			done.InputTokens = int(u.PromptTokenCount)
			done.OutputTokens = int(u.CandidatesTokenCount)
		}
		for _, candidate := range resp.Candidates {
			if candidate == nil || candidate.Content == nil {
				continue
			}
			for _, part := range candidate.Content.Parts {
				chunk := geminiChunk(part)
				if chunk == nil {
					continue
				}
				if !send(ctx, chunks, chunk) {
					return nil, true, ctx.Err()
				}
				emitted = true
			}
		}
	}
	return done, emitted, nil
}

func geminiChunk(part *genai.Part) *agent.CompletionChunk {
	switch {
	case part == nil:
		return nil
	case part.FunctionCall != nil:
		args, err := json.Marshal(part.FunctionCall.Args)
		if err != nil || part.FunctionCall.Args == nil {
			args = []byte(`{}`)
		}
		// Gemini does not always assign call ids.
		id := part.FunctionCall.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		return &agent.CompletionChunk{ToolCall: &models.ToolCall{ID: id, Name: part.FunctionCall.Name, Input: args}}
	case part.Text != "" && !part.Thought:
		return &agent.CompletionChunk{Text: part.Text}
	}
	return nil
}

func convertGeminiContents(messages []agent.CompletionMessage) []*genai.Content {
	names := make(map[string]string)
	var out []*genai.Content
	for _, msg := range messages {
		content := &genai.Content{Role: genai.RoleUser}
		switch msg.Role {
		case "system":
			continue
		case "assistant":
			content.Role = genai.RoleModel
		}

		if msg.Content != "" {
			content.Parts = append(content.Parts, &genai.Part{Text: msg.Content})
		}
		for _, call := range msg.ToolCalls {
			names[call.ID] = call.Name
			var args map[string]any
			if err := json.Unmarshal(call.Input, &args); err != nil {
				args = map[string]any{}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{ID: call.ID, Name: call.Name, Args: args},
			})
		}
		for _, r := range msg.ToolResults {
			var response map[string]any
			if err := json.Unmarshal([]byte(r.Content), &response); err != nil || response == nil {
				response = map[string]any{"result": r.Content}
			}
			if r.IsError {
				response = map[string]any{"error": response}
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{ID: r.ToolCallID, Name: names[r.ToolCallID], Response: response},
			})
		}

		if len(content.Parts) > 0 {
			out = append(out, content)
		}
	}
	return out
}

func buildGeminiConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{Tools: toolconv.ToGeminiTools(req.Tools)}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.MaxTokens > 0 {
		// #nosec G115 -- bounded by min
		config.MaxOutputTokens = int32(min(req.MaxTokens, math.MaxInt32))
	}
	return config
}

func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		e := newProviderError("google", model, apiErr.Code, apiErr.Status, err)
		e.Message = apiErr.Message
		return e
	}
	return newProviderError("google", model, 0, "", err)
}
