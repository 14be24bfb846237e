// Package mssql wires the SQL Server backend into the store factory.
// Upserts use MERGE since SQL Server has no ON CONFLICT clause.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/microsoft/go-mssqldb"

	"recalls/internal/store"
)

var schema = []string{
	`IF OBJECT_ID('recalls', 'U') IS NULL
	CREATE TABLE recalls (
		id       NVARCHAR(450) PRIMARY KEY,
		make     NVARCHAR(255) NOT NULL,
		model    NVARCHAR(255) NOT NULL,
		category NVARCHAR(32)  NOT NULL,
		doc      NVARCHAR(MAX) NOT NULL
	)`,
	`IF OBJECT_ID('makes', 'U') IS NULL
	CREATE TABLE makes (
		type NVARCHAR(450) PRIMARY KEY,
		doc  NVARCHAR(MAX) NOT NULL
	)`,
	`IF OBJECT_ID('models', 'U') IS NULL
	CREATE TABLE models (
		type_make NVARCHAR(450) PRIMARY KEY,
		doc       NVARCHAR(MAX) NOT NULL
	)`,
}

var dialect = store.Dialect{
	Name:        "mssql",
	Placeholder: func(i int) string { return fmt.Sprintf("@p%d", i) },
	UpsertRecall: `MERGE recalls AS t
		USING (VALUES (@p1, @p2, @p3, @p4, @p5)) AS s (id, make, model, category, doc)
		ON t.id = s.id
		WHEN MATCHED THEN UPDATE SET
			make = s.make, model = s.model, category = s.category, doc = s.doc
		WHEN NOT MATCHED THEN
			INSERT (id, make, model, category, doc)
			VALUES (s.id, s.make, s.model, s.category, s.doc);`,
	UpsertMake: `MERGE makes AS t
		USING (VALUES (@p1, @p2)) AS s (type, doc)
		ON t.type = s.type
		WHEN MATCHED THEN UPDATE SET doc = s.doc
		WHEN NOT MATCHED THEN INSERT (type, doc) VALUES (s.type, s.doc);`,
	UpsertModel: `MERGE models AS t
		USING (VALUES (@p1, @p2)) AS s (type_make, doc)
		ON t.type_make = s.type_make
		WHEN MATCHED THEN UPDATE SET doc = s.doc
		WHEN NOT MATCHED THEN INSERT (type_make, doc) VALUES (s.type_make, s.doc);`,
	Limit: func(q string, n int) string {
		return fmt.Sprintf("%s OFFSET 0 ROWS FETCH NEXT %d ROWS ONLY", q, n)
	},
}

// Open connects to SQL Server, applies the schema and returns a Store.
// The DSN uses the go-mssqldb URL form, e.g.
// "sqlserver://user:pw@host?database=recalls".
func Open(ctx context.Context, dsn string) (store.Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("mssql: DSN must not be empty")
	}
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("mssql: open: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("mssql: ping: %w", err)
	}

	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("mssql: create schema: %w", err)
		}
	}
	return store.NewSQL(db, dialect), nil
}

func init() {
	store.Register("mssql", func(ctx context.Context, cfg store.Config) (store.Store, error) {
		return Open(ctx, cfg.DSN)
	})
}
