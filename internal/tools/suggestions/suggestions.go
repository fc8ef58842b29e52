// Package suggestions implements the requestSuggestions tool.
package suggestions

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/internal/tools/documents"
	"github.com/haasonsaas/quill/pkg/models"
)

const systemPrompt = "You are a help writing assistant. Given a piece of writing, please offer suggestions to improve the piece of writing and describe the change. It is very important for the edits to contain full sentences instead of just words. Max 5 suggestions."

// DefaultLimit caps suggestions per request.
const DefaultLimit = 5

// Config configures the tool.
type Config struct {
	Store   storage.Store
	Gateway *agent.Gateway
	Model   agent.Model
	// Limit caps accepted suggestions. Zero means DefaultLimit.
	Limit     int
	SaveRetry retry.Policy
	Logger    *slog.Logger
	Now       func() time.Time
}

// Args are the requestSuggestions arguments.
type Args struct {
	DocumentID string `json:"documentId" jsonschema:"minLength=1,description=ID of the document to request edits"`
}

// element is one object of the model's JSON array.
type element struct {
	OriginalSentence  string `json:"originalSentence" jsonschema:"minLength=1,description=The original sentence"`
	SuggestedSentence string `json:"suggestedSentence" jsonschema:"minLength=1,description=The suggested sentence"`
	Description       string `json:"description" jsonschema:"minLength=1,description=The description of the suggestion"`
}

// Result is the tool result.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Tool is the requestSuggestions tool.
type Tool struct {
	cfg    Config
	schema json.RawMessage
}

// New returns the tool.
func New(cfg Config) *Tool {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.SaveRetry.MaxAttempts == 0 {
		cfg.SaveRetry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Tool{cfg: cfg, schema: agent.SchemaFor[element]()}
}

func (t *Tool) Name() string { return "requestSuggestions" }

func (t *Tool) Description() string { return "Request suggestions for a document" }

func (t *Tool) Schema() json.RawMessage { return agent.SchemaFor[Args]() }

// Execute streams up to Limit suggestions for the current version of a
// document the caller owns and stores them together once generation ends.
func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args Args
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, agent.ErrUnauthorized
	}
	doc, err := documents.LoadOwned(ctx, t.cfg.Store, args.DocumentID, user.ID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(doc.Content) == "" {
		return nil, fmt.Errorf("document %s: %w", doc.ID, agent.ErrEmptyContent)
	}

	sink := stream.SinkFromContext(ctx)
	model := documents.ModelFor(ctx, t.cfg.Model)
	var made []models.Suggestion
	_, err = t.cfg.Gateway.StreamObjects(ctx, agent.ObjectRequest{
		Provider: model.Provider,
		Model:    model.APIIdentifier,
		System:   systemPrompt,
		Prompt:   doc.Content,
		Schema:   t.schema,
		Limit:    t.cfg.Limit,
	}, func(raw json.RawMessage) error {
		var el element
		if err := json.Unmarshal(raw, &el); err != nil {
			return err
		}
		s := models.Suggestion{
			ID:                uuid.NewString(),
			DocumentID:        doc.ID,
			DocumentCreatedAt: doc.CreatedAt,
			UserID:            user.ID,
			OriginalText:      el.OriginalSentence,
			SuggestedText:     el.SuggestedSentence,
			Description:       el.Description,
			CreatedAt:         t.cfg.Now(),
		}
		if err := sink.Append(ctx, models.StreamEvent{Kind: models.StreamSuggestion, Content: s}); err != nil {
			return err
		}
		made = append(made, s)
		return nil
	})
	// Whatever reached the client is stored, even when generation failed.
	if saveErr := t.save(ctx, doc.ID, made); saveErr != nil {
		return nil, saveErr
	}
	if err != nil {
		return nil, fmt.Errorf("generate suggestions: %w", err)
	}

	data, err := json.Marshal(Result{ID: doc.ID, Title: doc.Title, Message: "Suggestions have been added to the document"})
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(data)}, nil
}

func (t *Tool) save(ctx context.Context, documentID string, made []models.Suggestion) error {
	if len(made) == 0 {
		return nil
	}
	// The turn may already be cancelled; the emitted suggestions still land.
	ctx = context.WithoutCancel(ctx)
	attempts, err := retry.Do(ctx, t.cfg.SaveRetry, func(ctx context.Context) error {
		return t.cfg.Store.SaveSuggestions(ctx, made)
	})
	if err != nil {
		return fmt.Errorf("save suggestions: %w", err)
	}
	if attempts > 1 {
		t.cfg.Logger.Warn("suggestions saved after retry", "document_id", documentID, "attempts", attempts)
	}
	return nil
}
