package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/quill/pkg/models"
)

// DefaultMaxSteps bounds model round trips per turn.
const DefaultMaxSteps = 5

// EventType discriminates generation events.
type EventType string

const (
	EventTextDelta    EventType = "text-delta"
	EventToolCall     EventType = "tool-call"
	EventStepFinish   EventType = "step-finish"
	EventStreamFinish EventType = "stream-finish"
	EventError        EventType = "error"
)

// FinishReason explains why a step or stream ended.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxSteps  FinishReason = "max_steps"
)

// Usage counts tokens across the steps of a stream.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// GenerationEvent is one item of an EventStream.
type GenerationEvent struct {
	Type     EventType
	Text     string
	ToolCall *models.ToolCall
	Step     int
	Reason   FinishReason
	Usage    Usage
	Err      error
}

// GenerateRequest describes one generation. Provider selects the backend by
// name; Model is the vendor model identifier.
type GenerateRequest struct {
	Provider  string
	Model     string
	System    string
	Messages  []models.Message
	Tools     []Tool
	MaxSteps  int
	MaxTokens int
}

// Metrics receives agent measurements. observability.Metrics implements it.
type Metrics interface {
	ObserveStep(provider, model string, d time.Duration, err error)
	ObserveToolCall(tool, status string, d time.Duration)
	ObserveTurn(status string, steps int, d time.Duration)
}

type nopMetrics struct{}

func (nopMetrics) ObserveStep(string, string, time.Duration, error) {}
func (nopMetrics) ObserveToolCall(string, string, time.Duration)    {}
func (nopMetrics) ObserveTurn(string, int, time.Duration)           {}

// GatewayConfig configures a Gateway.
type GatewayConfig struct {
	Logger  *slog.Logger
	Metrics Metrics
	Tracer  trace.Tracer
}

// Gateway is a thin abstraction over the hosted model capability. It turns a
// provider's chunk channel into a pull-style event stream bounded by MaxSteps.
type Gateway struct {
	mu        sync.RWMutex
	providers map[string]LLMProvider
	fallback  string

	logger  *slog.Logger
	metrics Metrics
	tracer  trace.Tracer
}

// NewGateway creates a gateway with no providers.
func NewGateway(cfg GatewayConfig) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/quill/internal/agent")
	}
	return &Gateway{
		providers: make(map[string]LLMProvider),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		tracer:    cfg.Tracer,
	}
}

// Register adds a provider. The first registered provider serves requests
// that name no provider.
func (g *Gateway) Register(p LLMProvider) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.providers[p.Name()] = p
	if g.fallback == "" {
		g.fallback = p.Name()
	}
}

// Provider returns the named provider.
func (g *Gateway) Provider(name string) (LLMProvider, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if name == "" {
		name = g.fallback
	}
	p, ok := g.providers[name]
	return p, ok
}

// Generate starts a lazy generation. No provider call happens until the first
// Next. The stream's lifetime is bounded by ctx.
func (g *Gateway) Generate(ctx context.Context, req GenerateRequest) *EventStream {
	if req.MaxSteps <= 0 {
		req.MaxSteps = DefaultMaxSteps
	}
	s := &EventStream{
		g:        g,
		ctx:      ctx,
		req:      req,
		messages: toCompletionMessages(req.Messages),
		state:    streamReady,
	}
	provider, ok := g.Provider(req.Provider)
	if !ok {
		s.fail(fmt.Errorf("%w: %q", ErrNoProvider, req.Provider))
		return s
	}
	s.provider = provider
	return s
}

// Text runs a single tool-free step and returns the concatenated text.
func (g *Gateway) Text(ctx context.Context, req GenerateRequest) (string, error) {
	req.MaxSteps = 1
	req.Tools = nil
	s := g.Generate(ctx, req)
	defer s.Close()

	var b strings.Builder
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			return b.String(), nil
		}
		switch ev.Type {
		case EventTextDelta:
			b.WriteString(ev.Text)
		case EventError:
			return b.String(), ev.Err
		}
	}
}

type streamState int

const (
	streamReady streamState = iota
	streamStreaming
	streamAwaitingResults
	streamStopping
	streamDone
)

// EventStream is a one-pass, non-restartable sequence of generation events.
// It is driven by a single consumer: Next pulls the next event, and after a
// step-finish with reason tool_calls the consumer must call Resume with the
// tool results before pulling again.
type EventStream struct {
	g        *Gateway
	ctx      context.Context
	req      GenerateRequest
	provider LLMProvider

	messages []CompletionMessage
	step     int
	state    streamState
	queue    []GenerationEvent

	chunks     <-chan *CompletionChunk
	cancelStep context.CancelFunc
	stepStart  time.Time
	span       trace.Span

	text  strings.Builder
	calls []models.ToolCall
	usage Usage
}

// Steps returns the number of provider calls made so far.
func (s *EventStream) Steps() int {
	return s.step
}

// Messages returns the provider-level transcript accumulated so far.
func (s *EventStream) Messages() []CompletionMessage {
	return s.messages
}

// Next returns the next event. It returns false once the stream has ended;
// the last event is always stream-finish or error.
func (s *EventStream) Next(ctx context.Context) (GenerationEvent, bool) {
	for {
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			return ev, true
		}

		switch s.state {
		case streamDone:
			return GenerationEvent{}, false

		case streamAwaitingResults:
			s.fail(ErrStreamConsumed)

		case streamStopping:
			s.finish(FinishStop)

		case streamReady:
			if s.step >= s.req.MaxSteps {
				s.finish(FinishMaxSteps)
				continue
			}
			s.startStep()

		case streamStreaming:
			s.pull(ctx)
		}
	}
}

// Resume feeds the results of the previous step's tool calls back into the
// transcript and allows the next step to start.
func (s *EventStream) Resume(results []models.ToolResult) error {
	if s.state != streamAwaitingResults {
		return ErrStreamConsumed
	}
	s.messages = append(s.messages, CompletionMessage{Role: string(models.RoleTool), ToolResults: results})
	s.state = streamReady
	return nil
}

// Close aborts any in-flight provider call. It is safe to call repeatedly.
func (s *EventStream) Close() {
	s.endStep(nil)
	s.state = streamDone
	s.queue = nil
}

func (s *EventStream) startStep() {
	s.step++
	s.text.Reset()
	s.calls = nil

	stepCtx, cancel := context.WithCancel(s.ctx)
	stepCtx, s.span = s.g.tracer.Start(stepCtx, "model.step", trace.WithAttributes(
		attribute.String("provider", s.provider.Name()),
		attribute.String("model", s.req.Model),
		attribute.Int("step", s.step),
	))
	s.cancelStep = cancel
	s.stepStart = time.Now()

	tools := s.req.Tools
	if !s.provider.SupportsTools() {
		tools = nil
	}
	chunks, err := s.provider.Complete(stepCtx, &CompletionRequest{
		Model:     s.req.Model,
		System:    s.req.System,
		Messages:  s.messages,
		Tools:     tools,
		MaxTokens: s.req.MaxTokens,
	})
	if err != nil {
		s.fail(err)
		return
	}
	s.chunks = chunks
	s.state = streamStreaming
}

func (s *EventStream) pull(ctx context.Context) {
	if err := s.ctx.Err(); err != nil {
		s.fail(err)
		return
	}
	var (
		chunk *CompletionChunk
		ok    bool
	)
	select {
	case <-ctx.Done():
		s.fail(ctx.Err())
		return
	case <-s.ctx.Done():
		s.fail(s.ctx.Err())
		return
	case chunk, ok = <-s.chunks:
	}
	if !ok {
		s.chunks = nil
		s.finishStep()
		return
	}

	if chunk.Error != nil {
		s.fail(chunk.Error)
		return
	}
	if chunk.Text != "" {
		s.text.WriteString(chunk.Text)
		s.queue = append(s.queue, GenerationEvent{Type: EventTextDelta, Text: chunk.Text, Step: s.step})
	}
	if chunk.ToolCall != nil {
		call := *chunk.ToolCall
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
		}
		s.calls = append(s.calls, call)
		s.queue = append(s.queue, GenerationEvent{Type: EventToolCall, ToolCall: &call, Step: s.step})
	}
	s.usage.InputTokens += chunk.InputTokens
	s.usage.OutputTokens += chunk.OutputTokens
	if chunk.Done {
		s.finishStep()
	}
}

// finishStep records the assistant message of the step and decides whether
// the stream waits for tool results or stops.
func (s *EventStream) finishStep() {
	s.endStep(nil)

	if s.text.Len() > 0 || len(s.calls) > 0 {
		s.messages = append(s.messages, CompletionMessage{
			Role:      string(models.RoleAssistant),
			Content:   s.text.String(),
			ToolCalls: s.calls,
		})
	}

	reason := FinishStop
	s.state = streamStopping
	if len(s.calls) > 0 {
		reason = FinishToolCalls
		s.state = streamAwaitingResults
	}
	s.queue = append(s.queue, GenerationEvent{Type: EventStepFinish, Step: s.step, Reason: reason, Usage: s.usage})
}

func (s *EventStream) endStep(err error) {
	if s.cancelStep == nil {
		return
	}
	s.cancelStep()
	s.cancelStep = nil
	if s.chunks != nil {
		// Release the provider goroutine; it observes the cancelled context.
		go func(ch <-chan *CompletionChunk) {
			for range ch {
			}
		}(s.chunks)
		s.chunks = nil
	}
	if s.span != nil {
		if err != nil {
			s.span.RecordError(err)
			s.span.SetStatus(codes.Error, err.Error())
		}
		s.span.End()
		s.span = nil
	}
	s.g.metrics.ObserveStep(s.provider.Name(), s.req.Model, time.Since(s.stepStart), err)
}

func (s *EventStream) finish(reason FinishReason) {
	s.queue = append(s.queue, GenerationEvent{Type: EventStreamFinish, Step: s.step, Reason: reason, Usage: s.usage})
	s.state = streamDone
}

func (s *EventStream) fail(err error) {
	providerName := s.req.Provider
	if s.provider != nil {
		providerName = s.provider.Name()
	}
	wrapped := err
	switch {
	case errors.Is(err, ErrStreamConsumed), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
	default:
		wrapped = &UpstreamError{Provider: providerName, Model: s.req.Model, Cause: err}
	}
	if s.provider != nil {
		s.endStep(wrapped)
	}
	s.g.logger.Warn("generation failed", "error", err, "provider", providerName, "model", s.req.Model, "step", s.step)
	s.queue = append(s.queue, GenerationEvent{Type: EventError, Step: s.step, Err: wrapped})
	s.state = streamDone
}
