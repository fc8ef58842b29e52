// Package models defines the core data types for Quill.
package models

import (
	"time"
)

// Chat is the owning aggregate of a conversation.
type Chat struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

// Document is one version of a user-owned piece of writing.
// Versions share an ID and are ordered by CreatedAt; the newest is current.
type Document struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Suggestion is a proposed edit to a sentence of a document version.
type Suggestion struct {
	ID                string    `json:"id"`
	DocumentID        string    `json:"documentId"`
	DocumentCreatedAt time.Time `json:"documentCreatedAt"`
	UserID            string    `json:"userId,omitempty"`
	OriginalText      string    `json:"originalText"`
	SuggestedText     string    `json:"suggestedText"`
	Description       string    `json:"description"`
	IsResolved        bool      `json:"isResolved"`
	CreatedAt         time.Time `json:"createdAt"`
}
