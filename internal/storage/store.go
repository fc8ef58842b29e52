// Package storage persists chats, messages, documents and suggestions.
//
// Every Store call is independently at-least-once: writes are idempotent on
// their primary key so a retried call never duplicates rows, and there are no
// transactions spanning calls.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/haasonsaas/quill/pkg/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Store is the persistence collaborator of the chat backend.
type Store interface {
	SaveChat(ctx context.Context, chat *models.Chat) error
	GetChatByID(ctx context.Context, id string) (*models.Chat, error)
	// GetChatsByUserID returns the user's chats, newest first.
	GetChatsByUserID(ctx context.Context, userID string) ([]*models.Chat, error)
	// DeleteChatByID removes the chat and its messages.
	DeleteChatByID(ctx context.Context, id string) error

	// SaveMessages inserts messages, skipping ids that already exist.
	SaveMessages(ctx context.Context, msgs []models.Message) error
	// GetMessagesByChatID returns a chat's messages, oldest first.
	GetMessagesByChatID(ctx context.Context, chatID string) ([]models.Message, error)

	// SaveDocument inserts a new version of a document.
	SaveDocument(ctx context.Context, doc *models.Document) error
	// GetDocumentByID returns the newest version.
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	// GetDocumentsByID returns all versions, oldest first.
	GetDocumentsByID(ctx context.Context, id string) ([]*models.Document, error)
	// DeleteDocumentsByIDAfterTimestamp removes versions created after ts
	// together with the suggestions made against them.
	DeleteDocumentsByIDAfterTimestamp(ctx context.Context, id string, ts time.Time) error

	SaveSuggestions(ctx context.Context, suggestions []models.Suggestion) error
	GetSuggestionsByDocumentID(ctx context.Context, documentID string) ([]models.Suggestion, error)

	Close() error
}
