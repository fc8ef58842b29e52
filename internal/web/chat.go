package web

import (
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/auth"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/stream"
	"github.com/haasonsaas/quill/pkg/models"
)

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	ID       string             `json:"id"`
	Messages []models.UIMessage `json:"messages"`
	ModelID  string             `json:"modelId"`
}

// handleChat runs one turn. Precondition failures are plain JSON errors;
// once the 200 is written every later failure travels in the stream.
func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	if !h.allowTurn(w, r) {
		return
	}
	var req chatRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	turn, err := h.config.Orchestrator.Prepare(r.Context(), agent.TurnRequest{
		ChatID:   req.ID,
		ModelID:  req.ModelID,
		Messages: models.ToCoreMessages(req.Messages),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)

	if err := turn.Run(r.Context(), stream.New(w, h.streamConfig())); err != nil {
		h.config.Logger.DebugContext(r.Context(), "turn ended with error", "chat_id", turn.Chat().ID, "state", turn.State())
	}
}

// allowTurn applies the per-principal rate limit, keyed by user id or, for
// anonymous requests, the remote address. It writes 429 when exceeded.
func (h *Handler) allowTurn(w http.ResponseWriter, r *http.Request) bool {
	if !h.config.RateLimiter.Enabled() {
		return true
	}
	key := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		key = host
	}
	if user, ok := auth.UserFromContext(r.Context()); ok {
		key = "user:" + user.ID
	}
	ok, wait := h.config.RateLimiter.Allow(key)
	if ok {
		return true
	}
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
	h.jsonError(w, "Too many requests", http.StatusTooManyRequests)
	return false
}

// loadOwnedChat returns the chat if it belongs to userID.
func (h *Handler) loadOwnedChat(r *http.Request, id, userID string) (*models.Chat, error) {
	chat, err := h.config.Store.GetChatByID(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, agent.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if chat.UserID != userID {
		return nil, agent.ErrUnauthorized
	}
	return chat, nil
}

func (h *Handler) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.loadOwnedChat(r, id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.config.Store.DeleteChatByID(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"message": "Chat deleted"})
}

func (h *Handler) handleChatMessages(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "id")
	if !ok {
		return
	}
	if _, err := h.loadOwnedChat(r, id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	msgs, err := h.config.Store.GetMessagesByChatID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.jsonResponse(w, models.ToUIMessages(msgs))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	chats, err := h.config.Store.GetChatsByUserID(r.Context(), user.ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if chats == nil {
		chats = []*models.Chat{}
	}
	h.jsonResponse(w, chats)
}
