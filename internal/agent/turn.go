package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

// DefaultSystemPrompt is used when the orchestrator is configured without one.
const DefaultSystemPrompt = "You are a friendly assistant! Keep your responses concise and helpful."

const titlePrompt = `- you will generate a short title based on the first message a user begins a conversation with
- ensure it is not more than 80 characters long
- the title should be a summary of the user's message
- do not use quotes or colons`

const maxTitleRunes = 80

// OrchestratorConfig wires the collaborators of a turn.
type OrchestratorConfig struct {
	Gateway     *Gateway
	Coordinator *Coordinator
	Store       storage.Store
	Catalog     Catalog

	System    string
	MaxSteps  int
	MaxTokens int

	// SaveRetry governs persistence writes at the end of a turn.
	SaveRetry retry.Policy

	Logger  *slog.Logger
	Metrics Metrics
	Tracer  trace.Tracer
	Now     func() time.Time
}

// Orchestrator drives chat turns from request to persisted response.
type Orchestrator struct {
	cfg OrchestratorConfig
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.System == "" {
		cfg.System = DefaultSystemPrompt
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	if len(cfg.Catalog) == 0 {
		cfg.Catalog = DefaultCatalog()
	}
	if cfg.SaveRetry.MaxAttempts == 0 {
		cfg.SaveRetry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("github.com/haasonsaas/quill/internal/agent")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{cfg: cfg}
}

// Catalog returns the models the orchestrator serves.
func (o *Orchestrator) Catalog() Catalog {
	return o.cfg.Catalog
}

// TurnRequest is one client submission.
type TurnRequest struct {
	ChatID   string
	ModelID  string
	Messages []models.Message
}

// Turn is a prepared turn: preconditions are checked and the chat exists.
type Turn struct {
	o       *Orchestrator
	user    *models.User
	chat    *models.Chat
	model   Model
	history []models.Message
	last    models.Message

	state TurnState
	steps int
}

// State returns the current state of the turn.
func (t *Turn) State() TurnState {
	return t.state
}

// Chat returns the chat the turn belongs to.
func (t *Turn) Chat() *models.Chat {
	return t.chat
}

// Run prepares and executes a turn, writing its output to mux. The
// multiplexer is always closed when Run returns.
func (o *Orchestrator) Run(ctx context.Context, req TurnRequest, mux *stream.Multiplexer) error {
	t, err := o.Prepare(ctx, req)
	if err != nil {
		_ = mux.Close(err)
		return err
	}
	return t.Run(ctx, mux)
}

// Prepare checks the preconditions of a turn and loads or creates its chat.
// Nothing is streamed; failures map directly to HTTP statuses.
func (o *Orchestrator) Prepare(ctx context.Context, req TurnRequest) (*Turn, error) {
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, &TurnError{Kind: KindUnauthorized, State: StateIdle, Cause: ErrUnauthorized}
	}
	model, ok := o.cfg.Catalog.Find(req.ModelID)
	if !ok {
		return nil, &TurnError{Kind: KindNotFound, State: StateIdle, Message: req.ModelID, Cause: ErrModelNotFound}
	}
	last, ok := models.MostRecentUserMessage(req.Messages)
	if !ok {
		return nil, &TurnError{Kind: KindValidation, State: StateIdle, Cause: ErrNoUserMessage}
	}
	if strings.TrimSpace(req.ChatID) == "" {
		return nil, &TurnError{Kind: KindValidation, State: StateIdle, Message: "chat id is required"}
	}

	chat, err := o.cfg.Store.GetChatByID(ctx, req.ChatID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		chat = &models.Chat{
			ID:        req.ChatID,
			UserID:    user.ID,
			Title:     o.generateTitle(ctx, model, last.Text()),
			CreatedAt: o.cfg.Now(),
		}
		if err := o.cfg.Store.SaveChat(ctx, chat); err != nil && !errors.Is(err, storage.ErrAlreadyExists) {
			return nil, &TurnError{Kind: KindPersistence, State: StateIdle, Message: "save chat", Cause: err}
		}
	case err != nil:
		return nil, &TurnError{Kind: KindPersistence, State: StateIdle, Message: "load chat", Cause: err}
	case chat.UserID != user.ID:
		return nil, &TurnError{Kind: KindUnauthorized, State: StateIdle, Cause: ErrUnauthorized}
	}

	if last.ID == "" {
		last.ID = uuid.NewString()
	}
	return &Turn{
		o:       o,
		user:    user,
		chat:    chat,
		model:   model,
		history: req.Messages,
		last:    last,
		state:   StateIdle,
	}, nil
}

// Run drives the prepared turn to completion. The multiplexer is always
// closed when Run returns, with an error frame on failure.
func (t *Turn) Run(ctx context.Context, mux *stream.Multiplexer) (err error) {
	o := t.o
	start := time.Now()
	ctx, span := o.cfg.Tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("chat_id", t.chat.ID),
		attribute.String("model", t.model.ID),
	))
	defer func() {
		status := "ok"
		if err != nil {
			status = string(KindOf(err))
			t.state = StateErrored
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			o.cfg.Logger.Error("turn failed", "error", err, "chat_id", t.chat.ID, "model", t.model.ID, "steps", t.steps)
		}
		_ = mux.Close(err)
		span.End()
		o.cfg.Metrics.ObserveTurn(status, t.steps, time.Since(start))
	}()

	response, err := t.generate(ctx, mux)
	if err != nil {
		return err
	}

	t.transition(StateFinalizing)
	if err := t.persist(ctx, response); err != nil {
		return err
	}
	t.transition(StateDone)
	return nil
}

func (t *Turn) transition(next TurnState) {
	t.o.cfg.Logger.Debug("turn transition", "chat_id", t.chat.ID, "from", t.state, "to", next)
	t.state = next
}

func (t *Turn) fail(err error) error {
	var turnErr *TurnError
	if errors.As(err, &turnErr) {
		return err
	}
	return &TurnError{Kind: KindOf(err), State: t.state, Cause: err}
}

// toolCallFrame is the client-visible form of a requested tool call.
type toolCallFrame struct {
	ToolCallID string `json:"toolCallId"`
	ToolName   string `json:"toolName"`
	Args       any    `json:"args"`
}

func rawOrEmpty(raw json.RawMessage) any {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	if !json.Valid(raw) {
		return string(raw)
	}
	return raw
}

// generate runs the model loop and returns the response messages in
// transcript order: for each step an assistant message, followed by a tool
// message when the step called tools.
func (t *Turn) generate(ctx context.Context, mux *stream.Multiplexer) ([]models.Message, error) {
	o := t.o
	registry := o.cfg.Coordinator.Registry().Subset(t.model.Tools)
	coordinator := o.cfg.Coordinator.WithRegistry(registry)

	t.transition(StateAwaitingModel)
	gen := o.cfg.Gateway.Generate(ctx, GenerateRequest{
		Provider:  t.model.Provider,
		Model:     t.model.APIIdentifier,
		System:    o.cfg.System,
		Messages:  t.history,
		Tools:     registry.Declarations(),
		MaxSteps:  o.cfg.MaxSteps,
		MaxTokens: o.cfg.MaxTokens,
	})
	defer gen.Close()

	var (
		response []models.Message
		text     strings.Builder
		calls    []models.ToolCall
	)
	for {
		ev, ok := gen.Next(ctx)
		if !ok {
			return nil, t.fail(fmt.Errorf("generation ended without a finish event"))
		}
		switch ev.Type {
		case EventTextDelta:
			text.WriteString(ev.Text)
			if err := mux.Append(ctx, models.TextDelta(ev.Text)); err != nil {
				return nil, t.fail(err)
			}

		case EventToolCall:
			call := *ev.ToolCall
			calls = append(calls, call)
			frame := models.StreamEvent{Kind: models.StreamToolCall, Content: toolCallFrame{
				ToolCallID: call.ID,
				ToolName:   call.Name,
				Args:       rawOrEmpty(call.Input),
			}}
			if err := mux.Append(ctx, frame); err != nil {
				return nil, t.fail(err)
			}

		case EventStepFinish:
			t.steps = ev.Step
			assistant := models.Message{Role: models.RoleAssistant}
			if text.Len() > 0 {
				assistant.Parts = append(assistant.Parts, models.TextPart(text.String()))
			}
			for _, call := range calls {
				assistant.Parts = append(assistant.Parts, models.ToolCallPart(call))
			}
			response = append(response, assistant)
			text.Reset()

			if ev.Reason != FinishToolCalls {
				calls = nil
				continue
			}

			t.transition(StateExecutingTool)
			execs := coordinator.ExecuteAll(WithModel(ctx, t.model), calls, mux)
			if err := ctx.Err(); err != nil {
				return nil, t.fail(err)
			}
			toolMsg := models.Message{Role: models.RoleTool}
			results := make([]models.ToolResult, 0, len(execs))
			for i, exec := range execs {
				results = append(results, exec.Result)
				toolMsg.Parts = append(toolMsg.Parts, models.ToolResultPart(calls[i].Name, exec.Result))
				frame := models.StreamEvent{Kind: models.StreamToolResult, Content: exec.Invocation}
				if err := mux.Append(ctx, frame); err != nil {
					return nil, t.fail(err)
				}
			}
			response = append(response, toolMsg)
			calls = nil

			if err := gen.Resume(results); err != nil {
				return nil, t.fail(err)
			}
			t.transition(StateAwaitingModel)

		case EventStreamFinish:
			if ev.Reason == FinishMaxSteps {
				o.cfg.Logger.Info("turn reached step limit", "chat_id", t.chat.ID, "steps", ev.Step)
			}
			return response, nil

		case EventError:
			return nil, t.fail(ev.Err)
		}
	}
}

// persist stores the user message and the sanitized response. Tool results
// are kept as settled invocations on the assistant message that called them.
func (t *Turn) persist(ctx context.Context, response []models.Message) error {
	o := t.o
	msgs := append([]models.Message{t.last}, FoldToolResults(SanitizeResponse(response))...)

	// Distinct timestamps keep the stored order stable.
	now := o.cfg.Now()
	for i := range msgs {
		msgs[i].ChatID = t.chat.ID
		if msgs[i].ID == "" {
			msgs[i].ID = uuid.NewString()
		}
		msgs[i].CreatedAt = now.Add(time.Duration(i) * time.Millisecond)
	}

	attempts, err := retry.Do(ctx, o.cfg.SaveRetry, func(ctx context.Context) error {
		return o.cfg.Store.SaveMessages(ctx, msgs)
	})
	if err != nil {
		return &TurnError{Kind: KindPersistence, State: t.state, Message: "save messages", Cause: err}
	}
	if attempts > 1 {
		o.cfg.Logger.Warn("messages saved after retry", "chat_id", t.chat.ID, "attempts", attempts)
	}
	return nil
}

// generateTitle asks the model for a short chat title, falling back to the
// first words of the message.
func (o *Orchestrator) generateTitle(ctx context.Context, model Model, message string) string {
	title, err := o.cfg.Gateway.Text(ctx, GenerateRequest{
		Provider: model.Provider,
		Model:    model.APIIdentifier,
		System:   titlePrompt,
		Messages: []models.Message{{Role: models.RoleUser, Parts: []models.Part{models.TextPart(message)}}},
	})
	if err != nil {
		o.cfg.Logger.Warn("title generation failed", "error", err)
		title = ""
	}
	title = cleanTitle(title)
	if title == "" {
		title = cleanTitle(firstWords(message, 8))
	}
	if title == "" {
		title = "New Chat"
	}
	return title
}

func cleanTitle(s string) string {
	s = strings.NewReplacer(`"`, "", "'", "", "`", "", ":", "", "\n", " ").Replace(s)
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) > maxTitleRunes {
		s = strings.TrimSpace(string([]rune(s)[:maxTitleRunes]))
	}
	return s
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	return strings.Join(fields, " ")
}
