package storage

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/haasonsaas/quill/pkg/models"
)

// setupMockDB creates a Postgres store over a mock database.
func setupMockDB(t *testing.T) (sqlmock.Sqlmock, *PostgresStore) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return mock, NewPostgresStore(db)
}

func TestPostgresStore_Rebind(t *testing.T) {
	s := NewPostgresStore(nil)
	got := s.q(`SELECT a FROM t WHERE x = ? AND y > ?`)
	if got != `SELECT a FROM t WHERE x = $1 AND y > $2` {
		t.Errorf("q() = %q", got)
	}
}

func TestPostgresStore_SaveChat(t *testing.T) {
	now := time.Now()
	chat := &models.Chat{ID: "chat-1", UserID: "u1", Title: "Weather", CreatedAt: now}

	tests := []struct {
		name      string
		setupMock func(sqlmock.Sqlmock)
		wantErr   error
	}{
		{
			name: "successful create",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO chats (id, user_id, title, created_at) VALUES ($1,$2,$3,$4)`)).
					WithArgs("chat-1", "u1", "Weather", sqlmock.AnyArg()).
					WillReturnResult(sqlmock.NewResult(1, 1))
			},
		},
		{
			name: "duplicate key",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectExec("INSERT INTO chats").
					WillReturnError(errors.New(`pq: duplicate key value violates unique constraint "chats_pkey"`))
			},
			wantErr: ErrAlreadyExists,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock, store := setupMockDB(t)
			tt.setupMock(mock)

			err := store.SaveChat(context.Background(), chat)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("SaveChat() error = %v, want %v", err, tt.wantErr)
			}
			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestPostgresStore_GetChatByIDNotFound(t *testing.T) {
	mock, store := setupMockDB(t)
	mock.ExpectQuery("SELECT id, user_id, title, created_at FROM chats").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	if _, err := store.GetChatByID(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetChatByID() error = %v, want ErrNotFound", err)
	}
}

func TestPostgresStore_SaveMessages(t *testing.T) {
	mock, store := setupMockDB(t)
	now := time.Now()
	msgs := []models.Message{
		{ID: "m1", ChatID: "chat-1", Role: models.RoleUser, Parts: []models.Part{models.TextPart("hi")}, CreatedAt: now},
		{ID: "m2", ChatID: "chat-1", Role: models.RoleAssistant, Parts: []models.Part{models.TextPart("hello")}, CreatedAt: now},
	}

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(regexp.QuoteMeta(`INSERT INTO messages`))
	prep.ExpectExec().
		WithArgs("m1", "chat-1", "user", `[{"type":"text","text":"hi"}]`, "null", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	prep.ExpectExec().
		WithArgs("m2", "chat-1", "assistant", `[{"type":"text","text":"hello"}]`, "null", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := store.SaveMessages(context.Background(), msgs); err != nil {
		t.Fatalf("SaveMessages() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_SaveMessagesRollsBackOnError(t *testing.T) {
	mock, store := setupMockDB(t)
	msgs := []models.Message{{ID: "m1", ChatID: "chat-1", Role: models.RoleUser, CreatedAt: time.Now()}}

	mock.ExpectBegin()
	mock.ExpectPrepare("INSERT INTO messages").
		ExpectExec().
		WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	if err := store.SaveMessages(context.Background(), msgs); err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestPostgresStore_GetDocumentByID(t *testing.T) {
	mock, store := setupMockDB(t)
	created := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "user_id", "title", "content", "created_at"}).
		AddRow("doc-1", "u1", "Essay", "latest", created)
	mock.ExpectQuery(regexp.QuoteMeta(`FROM documents WHERE id = $1 ORDER BY created_at DESC LIMIT 1`)).
		WithArgs("doc-1").
		WillReturnRows(rows)

	doc, err := store.GetDocumentByID(context.Background(), "doc-1")
	if err != nil {
		t.Fatalf("GetDocumentByID() error = %v", err)
	}
	if doc.Content != "latest" || !doc.CreatedAt.Equal(created) {
		t.Errorf("GetDocumentByID() = %+v", doc)
	}
}

func TestPostgresStore_DeleteDocumentsAfterTimestamp(t *testing.T) {
	mock, store := setupMockDB(t)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM suggestions WHERE document_id = $1 AND document_created_at > $2`)).
		WithArgs("doc-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM documents WHERE id = $1 AND created_at > $2`)).
		WithArgs("doc-1", ts).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.DeleteDocumentsByIDAfterTimestamp(context.Background(), "doc-1", ts); err != nil {
		t.Fatalf("DeleteDocumentsByIDAfterTimestamp() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
