// Package documents implements the createDocument and updateDocument tools.
// Both draft their content with a nested generation whose text is relayed to
// the tool's sub-stream as it arrives.
package documents

import (
	"context"
	"encoding/json"
	"errors"
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
	"github.com/haasonsaas/quill/pkg/models"
)

const (
	createPrompt = "Write about the given topic. Markdown is supported. Use headings wherever appropriate."
	updatePrompt = "You are a helpful writing assistant. Based on the description, please update the piece of writing."
)

// Config is shared by the document tools.
type Config struct {
	Store   storage.Store
	Gateway *agent.Gateway
	// Model drafts content when the turn carries no model.
	Model agent.Model
	// SaveRetry bounds retries of the document write.
	SaveRetry retry.Policy
	Logger    *slog.Logger
	Now       func() time.Time
}

func (c Config) withDefaults() Config {
	if c.SaveRetry.MaxAttempts == 0 {
		c.SaveRetry = retry.DefaultPolicy()
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	return c
}

// Result is the tool result of both document tools.
type Result struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content,omitempty"`
	Message string `json:"message"`
}

// CreateArgs are the createDocument arguments.
type CreateArgs struct {
	Title string `json:"title" jsonschema:"minLength=1,description=Title of the document"`
}

// Create is the createDocument tool.
type Create struct{ cfg Config }

// NewCreate returns the createDocument tool.
func NewCreate(cfg Config) *Create { return &Create{cfg: cfg.withDefaults()} }

func (t *Create) Name() string { return "createDocument" }

func (t *Create) Description() string { return "Create a document for a writing activity" }

func (t *Create) Schema() json.RawMessage { return agent.SchemaFor[CreateArgs]() }

// Execute announces the new document, streams its drafted content and stores
// the first version before returning.
func (t *Create) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args CreateArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, agent.ErrUnauthorized
	}

	sink := stream.SinkFromContext(ctx)
	id := uuid.NewString()
	for _, ev := range []models.StreamEvent{
		models.NewStreamEvent(models.StreamID, id),
		models.NewStreamEvent(models.StreamTitle, args.Title),
		models.NewStreamEvent(models.StreamClear, ""),
	} {
		if err := sink.Append(ctx, ev); err != nil {
			return nil, err
		}
	}

	content, err := draft(ctx, t.cfg, sink, createPrompt, args.Title)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{ID: id, UserID: user.ID, Title: args.Title, Content: content, CreatedAt: t.cfg.Now()}
	if err := save(ctx, t.cfg, doc); err != nil {
		return nil, err
	}
	return encode(Result{ID: id, Title: args.Title, Content: content, Message: "Document created successfully"})
}

// UpdateArgs are the updateDocument arguments.
type UpdateArgs struct {
	ID          string `json:"id" jsonschema:"minLength=1,description=ID of the document to update"`
	Description string `json:"description" jsonschema:"minLength=1,description=Description of changes that need to be made"`
}

// Update is the updateDocument tool.
type Update struct{ cfg Config }

// NewUpdate returns the updateDocument tool.
func NewUpdate(cfg Config) *Update { return &Update{cfg: cfg.withDefaults()} }

func (t *Update) Name() string { return "updateDocument" }

func (t *Update) Description() string { return "Update a document with the given description" }

func (t *Update) Schema() json.RawMessage { return agent.SchemaFor[UpdateArgs]() }

// Execute rewrites the current version of a document the caller owns and
// stores the result as a new version. Nothing is streamed for a document
// that is missing or owned by someone else.
func (t *Update) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var args UpdateArgs
	if err := json.Unmarshal(params, &args); err != nil {
		return nil, fmt.Errorf("decode arguments: %w", err)
	}
	user, ok := auth.UserFromContext(ctx)
	if !ok {
		return nil, agent.ErrUnauthorized
	}
	current, err := LoadOwned(ctx, t.cfg.Store, args.ID, user.ID)
	if err != nil {
		return nil, err
	}

	sink := stream.SinkFromContext(ctx)
	if err := sink.Append(ctx, models.NewStreamEvent(models.StreamClear, current.Title)); err != nil {
		return nil, err
	}

	prompt := "Original text:\n" + current.Content + "\n\nUpdate request: " + args.Description
	content, err := draft(ctx, t.cfg, sink, updatePrompt, prompt)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{ID: current.ID, UserID: user.ID, Title: current.Title, Content: content, CreatedAt: t.cfg.Now()}
	if !doc.CreatedAt.After(current.CreatedAt) {
		doc.CreatedAt = current.CreatedAt.Add(time.Millisecond)
	}
	if err := save(ctx, t.cfg, doc); err != nil {
		return nil, err
	}
	return encode(Result{ID: doc.ID, Title: doc.Title, Content: content, Message: "Document updated successfully"})
}

// LoadOwned returns the current version of document id, failing with
// agent.ErrNotFound when it does not exist and agent.ErrUnauthorized when
// userID does not own it.
func LoadOwned(ctx context.Context, store storage.Store, id, userID string) (*models.Document, error) {
	doc, err := store.GetDocumentByID(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("document %s: %w", id, agent.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	if doc.UserID != userID {
		return nil, fmt.Errorf("document %s: %w", id, agent.ErrUnauthorized)
	}
	return doc, nil
}

// ModelFor returns the turn's model, or fallback outside a turn.
func ModelFor(ctx context.Context, fallback agent.Model) agent.Model {
	if m, ok := agent.ModelFromContext(ctx); ok {
		return m
	}
	return fallback
}

// draft runs a tool-free generation, relaying every delta to sink, and
// returns the full text. A generation without text fails with
// agent.ErrEmptyContent.
func draft(ctx context.Context, cfg Config, sink stream.Sink, system, prompt string) (string, error) {
	model := ModelFor(ctx, cfg.Model)
	s := cfg.Gateway.Generate(ctx, agent.GenerateRequest{
		Provider: model.Provider,
		Model:    model.APIIdentifier,
		System:   system,
		Messages: []models.Message{{Role: models.RoleUser, Parts: []models.Part{models.TextPart(prompt)}}},
		MaxSteps: 1,
	})
	defer s.Close()

	var b strings.Builder
	for {
		ev, ok := s.Next(ctx)
		if !ok {
			if strings.TrimSpace(b.String()) == "" {
				return "", fmt.Errorf("draft document: %w", agent.ErrEmptyContent)
			}
			return b.String(), nil
		}
		switch ev.Type {
		case agent.EventTextDelta:
			b.WriteString(ev.Text)
			if err := sink.Append(ctx, models.TextDelta(ev.Text)); err != nil {
				return "", err
			}
		case agent.EventError:
			return "", fmt.Errorf("draft document: %w", ev.Err)
		}
	}
}

func save(ctx context.Context, cfg Config, doc *models.Document) error {
	attempts, err := retry.Do(ctx, cfg.SaveRetry, func(ctx context.Context) error {
		return cfg.Store.SaveDocument(ctx, doc)
	})
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	if attempts > 1 {
		cfg.Logger.Warn("document saved after retry", "document_id", doc.ID, "attempts", attempts)
	}
	return nil
}

func encode(v any) (*agent.ToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return &agent.ToolResult{Content: string(data)}, nil
}
