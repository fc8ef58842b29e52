package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/agent/toolconv"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/pkg/models"
)

const defaultBedrockModel = "anthropic.claude-3-haiku-20240307-v1:0"

// BedrockProvider streams completions through the Bedrock Converse API.
type BedrockProvider struct {
	client       *bedrockruntime.Client
	defaultModel string
	retry        retry.Policy
}

// BedrockConfig configures a BedrockProvider. Without explicit keys the
// default AWS credential chain is used.
type BedrockConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	DefaultModel    string
	Retry           retry.Policy
}

// NewBedrockProvider returns a provider for cfg.
func NewBedrockProvider(ctx context.Context, cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = defaultBedrockModel
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultPolicy()
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load AWS config: %w", err)
	}
	return NewBedrockProviderFromClient(bedrockruntime.NewFromConfig(awsCfg), cfg.DefaultModel, cfg.Retry), nil
}

// NewBedrockProviderFromClient wraps an existing client.
func NewBedrockProviderFromClient(client *bedrockruntime.Client, defaultModel string, policy retry.Policy) *BedrockProvider {
	if defaultModel == "" {
		defaultModel = defaultBedrockModel
	}
	return &BedrockProvider{client: client, defaultModel: defaultModel, retry: retryPolicy(policy)}
}

func (p *BedrockProvider) Name() string { return "bedrock" }

func (p *BedrockProvider) SupportsTools() bool { return true }

// Complete streams a response for req.
func (p *BedrockProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (<-chan *agent.CompletionChunk, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	input := &bedrockruntime.ConverseStreamInput{
		ModelId:    aws.String(model),
		Messages:   convertBedrockMessages(req.Messages),
		ToolConfig: toolconv.ToBedrockTools(req.Tools),
		InferenceConfig: &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min
			MaxTokens: aws.Int32(int32(min(maxTokens(req.MaxTokens), math.MaxInt32))),
		},
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	chunks := make(chan *agent.CompletionChunk)
	go func() {
		defer close(chunks)

		out, err := retry.DoValue(ctx, p.retry, func(ctx context.Context) (*bedrockruntime.ConverseStreamOutput, error) {
			out, err := p.client.ConverseStream(ctx, input)
			return out, p.wrapError(err, model)
		})
		if err != nil {
			send(ctx, chunks, &agent.CompletionChunk{Error: err})
			return
		}
		p.processStream(ctx, out, chunks, model)
	}()
	return chunks, nil
}

// processStream relays Converse events. Usage metadata follows messageStop,
// so Done is sent when the event channel closes.
func (p *BedrockProvider) processStream(ctx context.Context, out *bedrockruntime.ConverseStreamOutput, chunks chan<- *agent.CompletionChunk, model string) {
	stream := out.GetStream()
	defer stream.Close()

	var (
		toolCall *models.ToolCall
		input    strings.Builder
		stopped  bool
		done     = &agent.CompletionChunk{Done: true}
	)

	for {
		var event types.ConverseStreamOutput
		var ok bool
		select {
		case <-ctx.Done():
			return
		case event, ok = <-stream.Events():
		}
		if !ok {
			break
		}

		switch ev := event.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if use, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				toolCall = &models.ToolCall{ID: aws.ToString(use.Value.ToolUseId), Name: aws.ToString(use.Value.Name)}
				input.Reset()
			}

		case *types.ConverseStreamOutputMemberContentBlockDelta:
			switch delta := ev.Value.Delta.(type) {
			case *types.ContentBlockDeltaMemberText:
				if delta.Value != "" && !send(ctx, chunks, &agent.CompletionChunk{Text: delta.Value}) {
					return
				}
			case *types.ContentBlockDeltaMemberToolUse:
				if delta.Value.Input != nil {
					input.WriteString(*delta.Value.Input)
				}
			}

		case *types.ConverseStreamOutputMemberContentBlockStop:
			if toolCall == nil {
				continue
			}
			toolCall.Input = rawArgs(input.String())
			if !send(ctx, chunks, &agent.CompletionChunk{ToolCall: toolCall}) {
				return
			}
			toolCall = nil

		case *types.ConverseStreamOutputMemberMessageStop:
			stopped = true

		case *types.ConverseStreamOutputMemberMetadata:
			if u := ev.Value.Usage; u != nil {
				done.InputTokens = int(aws.ToInt32(u.InputTokens))
				done.OutputTokens = int(aws.ToInt32(u.OutputTokens))
			}
		}
	}

	if err := stream.Err(); err != nil {
		send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(err, model)})
		return
	}
	if !stopped {
		send(ctx, chunks, &agent.CompletionChunk{Error: p.wrapError(errors.New("stream ended without messageStop"), model)})
		return
	}
	send(ctx, chunks, done)
}

func convertBedrockMessages(messages []agent.CompletionMessage) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == "system" {
			continue
		}
		var content []types.ContentBlock
		if strings.TrimSpace(msg.Content) != "" {
			content = append(content, &types.ContentBlockMemberText{Value: msg.Content})
		}
		for _, r := range msg.ToolResults {
			block := types.ToolResultBlock{
				ToolUseId: aws.String(r.ToolCallID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: r.Content}},
			}
			if r.IsError {
				block.Status = types.ToolResultStatusError
			}
			content = append(content, &types.ContentBlockMemberToolResult{Value: block})
		}
		for _, call := range msg.ToolCalls {
			var args any
			if err := json.Unmarshal(call.Input, &args); err != nil || args == nil {
				args = map[string]any{}
			}
			content = append(content, &types.ContentBlockMemberToolUse{
				Value: types.ToolUseBlock{
					ToolUseId: aws.String(call.ID),
					Name:      aws.String(call.Name),
					Input:     document.NewLazyDocument(args),
				},
			})
		}
		if len(content) == 0 {
			continue
		}
		role := types.ConversationRoleUser
		if msg.Role == "assistant" {
			role = types.ConversationRoleAssistant
		}
		out = append(out, types.Message{Role: role, Content: content})
	}
	return out
}

func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		e := newProviderError("bedrock", model, 0, apiErr.ErrorCode(), err)
		e.Message = apiErr.ErrorMessage()
		return e
	}
	return newProviderError("bedrock", model, 0, "", err)
}
