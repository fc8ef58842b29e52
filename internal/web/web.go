// Package web serves the chat backend's HTTP API: the streamed chat route,
// chat history, documents, suggestions and the model catalog.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/observability"
	"github.com/haasonsaas/quill/internal/ratelimit"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

// Config holds the web handler configuration.
type Config struct {
	Orchestrator *agent.Orchestrator
	Store        storage.Store
	Auth         *auth.Service

	// AnonymousUser is the principal used while auth is disabled.
	AnonymousUser string

	// Metrics records HTTP and stream metrics. Optional.
	Metrics *observability.Metrics
	// Gatherer backs the metrics route. Default: prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// MetricsPath mounts the Prometheus handler. Empty disables it.
	MetricsPath string

	AllowedOrigins []string

	// RateLimiter bounds chat turns per principal. Optional.
	RateLimiter *ratelimit.Limiter

	// MaxBodyBytes bounds request bodies. Default: 4 MiB.
	MaxBodyBytes int64
	// StreamBuffer bounds frames queued ahead of a slow client.
	StreamBuffer int

	// SaveRetry governs document writes.
	SaveRetry retry.Policy

	Logger *slog.Logger
	Now    func() time.Time
}

// Handler serves the API.
type Handler struct {
	config   Config
	mux      *http.ServeMux
	handler  http.Handler
	upgrader *websocket.Upgrader
}

// NewHandler creates the API handler.
func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Orchestrator == nil {
		return nil, errors.New("web: orchestrator is required")
	}
	if cfg.Store == nil {
		return nil, errors.New("web: store is required")
	}
	if cfg.Auth == nil {
		cfg.Auth = auth.NewService(auth.Config{})
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 4 << 20
	}
	if cfg.SaveRetry.MaxAttempts == 0 {
		cfg.SaveRetry = retry.DefaultPolicy()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	cfg.Logger = cfg.Logger.With("component", "web")
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	h := &Handler{
		config: cfg,
		mux:    http.NewServeMux(),
	}
	h.upgrader = h.newUpgrader()
	h.setupRoutes()

	var handler http.Handler = h.mux
	handler = auth.Middleware(cfg.Auth, cfg.AnonymousUser, cfg.Logger)(handler)
	handler = MetricsMiddleware(cfg.Metrics, h.route)(handler)
	handler = LoggingMiddleware(cfg.Logger)(handler)
	if len(cfg.AllowedOrigins) > 0 {
		handler = CORSMiddleware(cfg.AllowedOrigins)(handler)
	}
	h.handler = RequestIDMiddleware(handler)
	return h, nil
}

func (h *Handler) setupRoutes() {
	h.mux.HandleFunc("POST /api/chat", h.handleChat)
	h.mux.HandleFunc("GET /api/chat/ws", h.handleChatWS)
	h.mux.HandleFunc("DELETE /api/chat", h.handleDeleteChat)
	h.mux.HandleFunc("GET /api/chat/messages", h.handleChatMessages)
	h.mux.HandleFunc("GET /api/history", h.handleHistory)

	h.mux.HandleFunc("GET /api/document", h.handleGetDocuments)
	h.mux.HandleFunc("POST /api/document", h.handleSaveDocument)
	h.mux.HandleFunc("DELETE /api/document", h.handleDeleteDocuments)
	h.mux.HandleFunc("GET /api/suggestions", h.handleSuggestions)

	h.mux.HandleFunc("GET /api/models", h.handleModels)
	h.mux.HandleFunc("GET /healthz", h.handleHealthz)

	if h.config.MetricsPath != "" {
		h.mux.Handle("GET "+h.config.MetricsPath, promhttp.HandlerFor(h.config.Gatherer, promhttp.HandlerOpts{}))
	}
}

// route returns the pattern that serves r, or "".
func (h *Handler) route(r *http.Request) string {
	_, pattern := h.mux.Handler(r)
	return pattern
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.handler.ServeHTTP(w, r)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, map[string]string{"status": "ok"})
}

// modelsResponse lists the selectable models.
type modelsResponse struct {
	Models []agent.Model `json:"models"`
}

func (h *Handler) handleModels(w http.ResponseWriter, r *http.Request) {
	h.jsonResponse(w, modelsResponse{Models: h.config.Orchestrator.Catalog()})
}

// decodeBody reads a JSON body bounded by MaxBodyBytes.
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode request body: %w", err)
	}
	return nil
}

// jsonResponse writes a JSON response.
func (h *Handler) jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.config.Logger.Error("json encode error", "error", err)
	}
}

// jsonError writes a JSON error response.
func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeError maps err to a status code and client message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code, message := statusFor(err)
	h.logFailure(r, code, err)
	h.jsonError(w, message, code)
}

func (h *Handler) logFailure(r *http.Request, code int, err error) {
	if code >= http.StatusInternalServerError {
		h.config.Logger.ErrorContext(r.Context(), "request failed", "error", err, "path", r.URL.Path)
	} else {
		h.config.Logger.DebugContext(r.Context(), "request rejected", "error", err, "path", r.URL.Path)
	}
}

// streamConfig configures a turn's multiplexer. Error frames carry the same
// client messages as error responses.
func (h *Handler) streamConfig() stream.Config {
	cfg := stream.Config{
		Buffer: h.config.StreamBuffer,
		Logger: h.config.Logger,
		ErrorMessage: func(err error) string {
			_, msg := statusFor(err)
			return msg
		},
	}
	if h.config.Metrics != nil {
		cfg.OnFrame = h.config.Metrics.ObserveFrame
	}
	return cfg
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, agent.ErrModelNotFound):
		return http.StatusNotFound, "Model not found"
	case errors.Is(err, agent.ErrNoUserMessage):
		return http.StatusBadRequest, "No user message found"
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Not found"
	}
	switch agent.KindOf(err) {
	case agent.KindValidation:
		return http.StatusBadRequest, "Invalid request"
	case agent.KindNotFound:
		return http.StatusNotFound, "Not found"
	case agent.KindUnauthorized:
		return http.StatusUnauthorized, "Unauthorized"
	case agent.KindUpstreamModel:
		return http.StatusBadGateway, "Upstream model error"
	default:
		return http.StatusInternalServerError, "An error occurred while processing your request"
	}
}

// requireUser returns the request's principal or writes 401.
func (h *Handler) requireUser(w http.ResponseWriter, r *http.Request) (*models.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		h.jsonError(w, "Unauthorized", http.StatusUnauthorized)
		return nil, false
	}
	return user, true
}

// requireQuery returns a required query parameter or writes 400.
func (h *Handler) requireQuery(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		h.jsonError(w, "Missing "+name, http.StatusBadRequest)
		return "", false
	}
	return v, true
}
