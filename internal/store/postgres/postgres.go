// Package postgres wires the PostgreSQL backend into the store factory.
// It uses pgx through its database/sql adapter so the shared SQL store
// implementation applies unchanged.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"recalls/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS recalls (
		id       TEXT PRIMARY KEY,
		make     TEXT NOT NULL,
		model    TEXT NOT NULL,
		category TEXT NOT NULL,
		doc      JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recalls_make ON recalls (make, model)`,
	`CREATE TABLE IF NOT EXISTS makes (
		type TEXT PRIMARY KEY,
		doc  JSONB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		type_make TEXT PRIMARY KEY,
		doc       JSONB NOT NULL
	)`,
}

var dialect = store.Dialect{
	Name:        "postgres",
	Placeholder: func(i int) string { return fmt.Sprintf("$%d", i) },
	UpsertRecall: `INSERT INTO recalls (id, make, model, category, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			make = excluded.make, model = excluded.model,
			category = excluded.category, doc = excluded.doc`,
	UpsertMake: `INSERT INTO makes (type, doc) VALUES ($1, $2)
		ON CONFLICT (type) DO UPDATE SET doc = excluded.doc`,
	UpsertModel: `INSERT INTO models (type_make, doc) VALUES ($1, $2)
		ON CONFLICT (type_make) DO UPDATE SET doc = excluded.doc`,
	Limit: func(q string, n int) string { return fmt.Sprintf("%s LIMIT %d", q, n) },
}

// Open connects to PostgreSQL, applies the schema and returns a Store.
// The DSN is a pgx connection string, e.g. "postgres://user:pw@host/db".
func Open(ctx context.Context, dsn string) (store.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("postgres: DSN must not be empty")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("postgres: create schema: %w", err)
		}
	}
	return store.NewSQL(db, dialect), nil
}

func init() {
	store.Register("postgres", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}
