package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	sqlStore
}

// OpenSQLite opens the database file named by cfg.DSN, creating it if needed.
func OpenSQLite(ctx context.Context, cfg *Config) (*SQLiteStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("sqlite", sqliteDSN(cfg.DSN))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite serializes writers; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if cfg.AutoMigrate {
		if _, err := Migrate(ctx, db, DriverSQLite); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewSQLiteStore(db), nil
}

// NewSQLiteStore wraps an open SQLite handle.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqlStore{db: db}}
}

// sqliteDSN stores times in a sortable text form and enables foreign keys.
func sqliteDSN(path string) string {
	if strings.Contains(path, "_time_format") {
		return path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + "_time_format=sqlite&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
