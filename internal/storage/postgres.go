package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq" // postgres driver
)

// PostgresStore is a Store backed by Postgres.
type PostgresStore struct {
	sqlStore
}

// OpenPostgres connects to cfg.DSN and, when cfg.AutoMigrate is set, applies
// pending migrations.
func OpenPostgres(ctx context.Context, cfg *Config) (*PostgresStore, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, fmt.Errorf("dsn is required")
	}
	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.AutoMigrate {
		if _, err := Migrate(ctx, db, DriverPostgres); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open Postgres handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{sqlStore{db: db, numbered: true}}
}
