// Package sqlite wires the SQLite backend into the store factory.
// Registration happens in init; callers reach it through store.New after
// a blank import of this package or of store/all.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"recalls/internal/store"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS recalls (
		id       TEXT PRIMARY KEY,
		make     TEXT NOT NULL,
		model    TEXT NOT NULL,
		category TEXT NOT NULL,
		doc      TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_recalls_make ON recalls (make, model)`,
	`CREATE TABLE IF NOT EXISTS makes (
		type TEXT PRIMARY KEY,
		doc  TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS models (
		type_make TEXT PRIMARY KEY,
		doc       TEXT NOT NULL
	)`,
}

var dialect = store.Dialect{
	Name:        "sqlite",
	Placeholder: func(int) string { return "?" },
	UpsertRecall: `INSERT INTO recalls (id, make, model, category, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			make = excluded.make, model = excluded.model,
			category = excluded.category, doc = excluded.doc`,
	UpsertMake: `INSERT INTO makes (type, doc) VALUES (?, ?)
		ON CONFLICT (type) DO UPDATE SET doc = excluded.doc`,
	UpsertModel: `INSERT INTO models (type_make, doc) VALUES (?, ?)
		ON CONFLICT (type_make) DO UPDATE SET doc = excluded.doc`,
	Limit: func(q string, n int) string { return fmt.Sprintf("%s LIMIT %d", q, n) },
}

// Open connects to SQLite, applies the schema and returns a Store. The DSN
// is passed to the modernc driver, e.g. "file:recalls.db?cache=shared" or
// "file::memory:" for tests.
func Open(ctx context.Context, dsn string) (store.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// An in-memory database exists per connection; without this the
	// pool would hand out fresh, schemaless databases.
	if strings.Contains(dsn, ":memory:") {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: create schema: %w", err)
		}
	}
	return store.NewSQL(db, dialect), nil
}

func init() {
	store.Register("sqlite", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}
