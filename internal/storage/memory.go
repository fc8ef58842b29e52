package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/haasonsaas/quill/pkg/models"
)

// MemoryStore provides an in-memory Store.
type MemoryStore struct {
	mu          sync.RWMutex
	chats       map[string]*models.Chat
	messages    map[string][]models.Message
	messageIDs  map[string]struct{}
	documents   map[string][]*models.Document
	suggestions map[string][]models.Suggestion
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		chats:       make(map[string]*models.Chat),
		messages:    make(map[string][]models.Message),
		messageIDs:  make(map[string]struct{}),
		documents:   make(map[string][]*models.Document),
		suggestions: make(map[string][]models.Suggestion),
	}
}

func (s *MemoryStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[chat.ID]; exists {
		return ErrAlreadyExists
	}
	c := *chat
	s.chats[chat.ID] = &c
	return nil
}

func (s *MemoryStore) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chat, ok := s.chats[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *chat
	return &c, nil
}

func (s *MemoryStore) GetChatsByUserID(ctx context.Context, userID string) ([]*models.Chat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chats := []*models.Chat{}
	for _, chat := range s.chats {
		if chat.UserID != userID {
			continue
		}
		c := *chat
		chats = append(chats, &c)
	}
	sort.Slice(chats, func(i, j int) bool {
		return chats[i].CreatedAt.After(chats[j].CreatedAt)
	})
	return chats, nil
}

func (s *MemoryStore) DeleteChatByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.chats[id]; !exists {
		return ErrNotFound
	}
	for _, msg := range s.messages[id] {
		delete(s.messageIDs, msg.ID)
	}
	delete(s.messages, id)
	delete(s.chats, id)
	return nil
}

func (s *MemoryStore) SaveMessages(ctx context.Context, msgs []models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, msg := range msgs {
		if msg.ID == "" || msg.ChatID == "" {
			return fmt.Errorf("message id and chat id are required")
		}
	}
	for _, msg := range msgs {
		if _, exists := s.messageIDs[msg.ID]; exists {
			continue
		}
		s.messageIDs[msg.ID] = struct{}{}
		s.messages[msg.ChatID] = append(s.messages[msg.ChatID], msg)
	}
	return nil
}

func (s *MemoryStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := append([]models.Message{}, s.messages[chatID]...)
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

func (s *MemoryStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.documents[doc.ID] {
		if existing.CreatedAt.Equal(doc.CreatedAt) {
			return nil
		}
	}
	d := *doc
	versions := append(s.documents[doc.ID], &d)
	sort.SliceStable(versions, func(i, j int) bool {
		return versions[i].CreatedAt.Before(versions[j].CreatedAt)
	})
	s.documents[doc.ID] = versions
	return nil
}

func (s *MemoryStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.documents[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	d := *versions[len(versions)-1]
	return &d, nil
}

func (s *MemoryStore) GetDocumentsByID(ctx context.Context, id string) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.Document, 0, len(s.documents[id]))
	for _, v := range s.documents[id] {
		d := *v
		out = append(out, &d)
	}
	return out, nil
}

func (s *MemoryStore) DeleteDocumentsByIDAfterTimestamp(ctx context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.documents[id][:0]
	for _, v := range s.documents[id] {
		if !v.CreatedAt.After(ts) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		delete(s.documents, id)
	} else {
		s.documents[id] = kept
	}

	keptSuggestions := s.suggestions[id][:0]
	for _, sg := range s.suggestions[id] {
		if !sg.DocumentCreatedAt.After(ts) {
			keptSuggestions = append(keptSuggestions, sg)
		}
	}
	s.suggestions[id] = keptSuggestions
	return nil
}

func (s *MemoryStore) SaveSuggestions(ctx context.Context, suggestions []models.Suggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sg := range suggestions {
		if sg.ID == "" || sg.DocumentID == "" {
			return fmt.Errorf("suggestion id and document id are required")
		}
	}
	for _, sg := range suggestions {
		dup := false
		for _, existing := range s.suggestions[sg.DocumentID] {
			if existing.ID == sg.ID {
				dup = true
				break
			}
		}
		if !dup {
			s.suggestions[sg.DocumentID] = append(s.suggestions[sg.DocumentID], sg)
		}
	}
	return nil
}

func (s *MemoryStore) GetSuggestionsByDocumentID(ctx context.Context, documentID string) ([]models.Suggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Suggestion{}, s.suggestions[documentID]...), nil
}

func (s *MemoryStore) Close() error { return nil }
