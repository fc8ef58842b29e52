package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/haasonsaas/quill/pkg/models"
)

// sqlStore implements Store over database/sql. Queries are written with '?'
// placeholders and rebound for dialects that number them.
type sqlStore struct {
	db       *sql.DB
	numbered bool
}

func (s *sqlStore) q(query string) string {
	if !s.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// DB exposes the underlying handle for migrations.
func (s *sqlStore) DB() *sql.DB {
	return s.db
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) SaveChat(ctx context.Context, chat *models.Chat) error {
	if chat == nil || chat.ID == "" {
		return fmt.Errorf("chat is required")
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO chats (id, user_id, title, created_at) VALUES (?,?,?,?)`),
		chat.ID,
		chat.UserID,
		chat.Title,
		chat.CreatedAt.UTC(),
	)
	if err != nil {
		if isDuplicate(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

func (s *sqlStore) GetChatByID(ctx context.Context, id string) (*models.Chat, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT id, user_id, title, created_at FROM chats WHERE id = ?`), id)
	var chat models.Chat
	if err := row.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get chat: %w", err)
	}
	return &chat, nil
}

func (s *sqlStore) GetChatsByUserID(ctx context.Context, userID string) ([]*models.Chat, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, user_id, title, created_at FROM chats WHERE user_id = ? ORDER BY created_at DESC`), userID)
	if err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	defer rows.Close()

	chats := []*models.Chat{}
	for rows.Next() {
		var chat models.Chat
		if err := rows.Scan(&chat.ID, &chat.UserID, &chat.Title, &chat.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chat: %w", err)
		}
		chats = append(chats, &chat)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list chats: %w", err)
	}
	return chats, nil
}

func (s *sqlStore) DeleteChatByID(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, s.q(`DELETE FROM messages WHERE chat_id = ?`), id); err != nil {
		return fmt.Errorf("delete chat messages: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.q(`DELETE FROM chats WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete chat: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete chat rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) SaveMessages(ctx context.Context, msgs []models.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO messages (id, chat_id, role, parts, tool_invocations, created_at)
		 VALUES (?,?,?,?,?,?) ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare insert message: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if msg.ID == "" || msg.ChatID == "" {
			return fmt.Errorf("message id and chat id are required")
		}
		parts, err := json.Marshal(msg.Parts)
		if err != nil {
			return fmt.Errorf("marshal message parts: %w", err)
		}
		invocations, err := json.Marshal(msg.ToolInvocations)
		if err != nil {
			return fmt.Errorf("marshal tool invocations: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			msg.ID,
			msg.ChatID,
			string(msg.Role),
			string(parts),
			string(invocations),
			msg.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit messages: %w", err)
	}
	return nil
}

func (s *sqlStore) GetMessagesByChatID(ctx context.Context, chatID string) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, chat_id, role, parts, tool_invocations, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC`), chatID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	msgs := []models.Message{}
	for rows.Next() {
		var (
			msg         models.Message
			role        string
			parts       []byte
			invocations []byte
		)
		if err := rows.Scan(&msg.ID, &msg.ChatID, &role, &parts, &invocations, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Role = models.Role(role)
		if len(parts) > 0 {
			if err := json.Unmarshal(parts, &msg.Parts); err != nil {
				return nil, fmt.Errorf("unmarshal message parts: %w", err)
			}
		}
		if len(invocations) > 0 {
			if err := json.Unmarshal(invocations, &msg.ToolInvocations); err != nil {
				return nil, fmt.Errorf("unmarshal tool invocations: %w", err)
			}
		}
		msgs = append(msgs, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

func (s *sqlStore) SaveDocument(ctx context.Context, doc *models.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("document is required")
	}
	_, err := s.db.ExecContext(ctx,
		s.q(`INSERT INTO documents (id, user_id, title, content, created_at)
		 VALUES (?,?,?,?,?) ON CONFLICT (id, created_at) DO NOTHING`),
		doc.ID,
		doc.UserID,
		doc.Title,
		doc.Content,
		doc.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("save document: %w", err)
	}
	return nil
}

const documentColumns = `id, user_id, title, content, created_at`

func scanDocument(row interface{ Scan(...any) error }) (*models.Document, error) {
	var doc models.Document
	if err := row.Scan(&doc.ID, &doc.UserID, &doc.Title, &doc.Content, &doc.CreatedAt); err != nil {
		return nil, err
	}
	return &doc, nil
}

func (s *sqlStore) GetDocumentByID(ctx context.Context, id string) (*models.Document, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		s.q(`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY created_at DESC LIMIT 1`), id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

func (s *sqlStore) GetDocumentsByID(ctx context.Context, id string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT `+documentColumns+` FROM documents WHERE id = ? ORDER BY created_at ASC`), id)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *sqlStore) DeleteDocumentsByIDAfterTimestamp(ctx context.Context, id string, ts time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM suggestions WHERE document_id = ? AND document_created_at > ?`),
		id, ts.UTC()); err != nil {
		return fmt.Errorf("delete suggestions: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		s.q(`DELETE FROM documents WHERE id = ? AND created_at > ?`),
		id, ts.UTC()); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveSuggestions(ctx context.Context, suggestions []models.Suggestion) error {
	if len(suggestions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, s.q(
		`INSERT INTO suggestions (id, document_id, document_created_at, user_id, original_text,
		 suggested_text, description, is_resolved, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?) ON CONFLICT (id) DO NOTHING`))
	if err != nil {
		return fmt.Errorf("prepare insert suggestion: %w", err)
	}
	defer stmt.Close()

	for _, sg := range suggestions {
		if sg.ID == "" || sg.DocumentID == "" {
			return fmt.Errorf("suggestion id and document id are required")
		}
		if _, err := stmt.ExecContext(ctx,
			sg.ID,
			sg.DocumentID,
			sg.DocumentCreatedAt.UTC(),
			sg.UserID,
			sg.OriginalText,
			sg.SuggestedText,
			sg.Description,
			sg.IsResolved,
			sg.CreatedAt.UTC(),
		); err != nil {
			return fmt.Errorf("insert suggestion: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit suggestions: %w", err)
	}
	return nil
}

func (s *sqlStore) GetSuggestionsByDocumentID(ctx context.Context, documentID string) ([]models.Suggestion, error) {
	rows, err := s.db.QueryContext(ctx,
		s.q(`SELECT id, document_id, document_created_at, user_id, original_text, suggested_text,
		 description, is_resolved, created_at
		 FROM suggestions WHERE document_id = ? ORDER BY created_at ASC`), documentID)
	if err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	defer rows.Close()

	out := []models.Suggestion{}
	for rows.Next() {
		var sg models.Suggestion
		if err := rows.Scan(
			&sg.ID,
			&sg.DocumentID,
			&sg.DocumentCreatedAt,
			&sg.UserID,
			&sg.OriginalText,
			&sg.SuggestedText,
			&sg.Description,
			&sg.IsResolved,
			&sg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, sg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list suggestions: %w", err)
	}
	return out, nil
}

func isDuplicate(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique constraint")
}
