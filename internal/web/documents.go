package web

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/haasonsaas/quill/internal/agent"
	"github.com/haasonsaas/quill/internal/retry"
	"github.com/haasonsaas/quill/internal/storage"
	"github.com/haasonsaas/quill/internal/tools/documents"
	"github.com/haasonsaas/quill/pkg/models"
)

// saveDocumentRequest is the body of POST /api/document.
type saveDocumentRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

func (h *Handler) handleGetDocuments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "id")
	if !ok {
		return
	}
	docs, err := h.config.Store.GetDocumentsByID(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if len(docs) == 0 {
		h.writeError(w, r, agent.ErrNotFound)
		return
	}
	if docs[0].UserID != user.ID {
		h.writeError(w, r, agent.ErrUnauthorized)
		return
	}
	h.jsonResponse(w, docs)
}

// handleSaveDocument stores a new version. A document id unknown to the
// store starts a new document owned by the caller.
func (h *Handler) handleSaveDocument(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "id")
	if !ok {
		return
	}
	var req saveDocumentRequest
	if err := h.decodeBody(w, r, &req); err != nil {
		h.jsonError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.jsonError(w, "Missing title", http.StatusBadRequest)
		return
	}

	createdAt := h.config.Now().UTC()
	current, err := documents.LoadOwned(r.Context(), h.config.Store, id, user.ID)
	switch {
	case errors.Is(err, agent.ErrNotFound):
	case err != nil:
		h.writeError(w, r, err)
		return
	case !createdAt.After(current.CreatedAt):
		createdAt = current.CreatedAt.Add(time.Millisecond)
	}

	doc := &models.Document{
		ID:        id,
		UserID:    user.ID,
		Title:     req.Title,
		Content:   req.Content,
		CreatedAt: createdAt,
	}
	_, err = retry.Do(r.Context(), h.config.SaveRetry, func(ctx context.Context) error {
		return h.config.Store.SaveDocument(ctx, doc)
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.jsonResponse(w, doc)
}

// handleDeleteDocuments removes the versions newer than timestamp, reverting
// the document to the version current at that time.
func (h *Handler) handleDeleteDocuments(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "id")
	if !ok {
		return
	}
	raw, ok := h.requireQuery(w, r, "timestamp")
	if !ok {
		return
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		h.jsonError(w, "Invalid timestamp", http.StatusBadRequest)
		return
	}
	if _, err := documents.LoadOwned(r.Context(), h.config.Store, id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.config.Store.DeleteDocumentsByIDAfterTimestamp(r.Context(), id, ts); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.jsonResponse(w, map[string]string{"message": "Deleted"})
}

func (h *Handler) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	user, ok := h.requireUser(w, r)
	if !ok {
		return
	}
	id, ok := h.requireQuery(w, r, "documentId")
	if !ok {
		return
	}
	if _, err := documents.LoadOwned(r.Context(), h.config.Store, id, user.ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	suggestions, err := h.config.Store.GetSuggestionsByDocumentID(r.Context(), id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.writeError(w, r, err)
		return
	}
	if suggestions == nil {
		suggestions = []models.Suggestion{}
	}
	h.jsonResponse(w, suggestions)
}
