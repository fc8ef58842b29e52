// Package tools assembles the tool registry served to chat turns.
package tools

import (
	"log/slog"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools/documents"
	"github.com/haasonsaas/quill/internal/tools/httpjson"
	"github.com/haasonsaas/quill/internal/tools/suggestions"
	"github.com/haasonsaas/quill/internal/tools/weather"
	"github.com/haasonsaas/quill/internal/tools/websearch"
)

// Config selects and configures the tools.
type Config struct {
	WeatherEndpoint string
	// SearchEndpoint enables searchWeb when set.
	SearchEndpoint   string
	SearchMaxResults int
	SearchCacheTTL   time.Duration
	HTTPTimeout      time.Duration
	UserAgent        string
	// SuggestionLimit caps requestSuggestions output.
	SuggestionLimit int
	Retry           retry.Policy
}

// Deps are the collaborators shared by the tools.
type Deps struct {
	Store   storage.Store
	Gateway *agent.Gateway
	// Model drafts documents and suggestions outside a turn.
	Model  agent.Model
	Logger *slog.Logger
}

// NewRegistry returns a registry holding every configured tool.
func NewRegistry(cfg Config, deps Deps) *agent.ToolRegistry {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	client := httpjson.New(httpjson.Config{
		Timeout:   cfg.HTTPTimeout,
		Retry:     cfg.Retry,
		UserAgent: cfg.UserAgent,
	})
	docs := documents.Config{
		Store:     deps.Store,
		Gateway:   deps.Gateway,
		Model:     deps.Model,
		SaveRetry: cfg.Retry,
		Logger:    deps.Logger.With("component", "documents"),
	}

	registry := agent.NewToolRegistry()
	registry.MustRegister(
		weather.New(cfg.WeatherEndpoint, client),
		documents.NewCreate(docs),
		documents.NewUpdate(docs),
		suggestions.New(suggestions.Config{
			Store:     deps.Store,
			Gateway:   deps.Gateway,
			Model:     deps.Model,
			Limit:     cfg.SuggestionLimit,
			SaveRetry: cfg.Retry,
			Logger:    deps.Logger.With("component", "suggestions"),
		}),
	)
	if cfg.SearchEndpoint != "" {
		registry.MustRegister(websearch.New(websearch.Config{
			Endpoint:   cfg.SearchEndpoint,
			MaxResults: cfg.SearchMaxResults,
			CacheTTL:   cfg.SearchCacheTTL,
			Client:     client,
			Logger:     deps.Logger.With("component", "websearch"),
		}))
	}
	return registry
}
