package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"recalls/internal/recall"
)

// Dialect captures the SQL that differs between backends. Entities are
// stored as JSON documents alongside the columns needed for filtering,
// so the per-backend surface is small: an upsert statement per table, a
// placeholder style and a row-limit clause.
type Dialect struct {
	// Name labels errors, e.g. "sqlite".
	Name string

	// Placeholder renders the i-th (1-based) bind parameter.
	Placeholder func(i int) string

	// UpsertRecall takes (id, make, model, category, doc).
	UpsertRecall string

	// UpsertMake and UpsertModel take (key, doc).
	UpsertMake  string
	UpsertModel string

	// Limit appends a row cap to a SELECT.
	Limit func(query string, n int) string
}

// sqlStore implements Store on database/sql. All three backends share this
// implementation and differ only in driver and Dialect.
type sqlStore struct {
	db *sql.DB
	d  Dialect
}

// NewSQL wraps an open database handle in a Store. The caller owns schema
// creation; Close closes the handle.
func NewSQL(db *sql.DB, d Dialect) Store {
	return &sqlStore{db: db, d: d}
}

func (s *sqlStore) Close() error { return s.db.Close() }

func (s *sqlStore) ListRecalls(ctx context.Context, f RecallFilter, limit int, startKey string) ([]recall.Record, string, error) {
	var (
		conds []string
		args  []any
	)
	cond := func(expr string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(expr, s.d.Placeholder(len(args))))
	}
	cond("id > %s", startKey)
	if f.Make != "" {
		cond("make = %s", f.Make)
	}
	if f.Model != "" {
		cond("model = %s", f.Model)
	}

	query := "SELECT doc FROM recalls WHERE " + strings.Join(conds, " AND ") + " ORDER BY id"
	query = s.d.Limit(query, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("%s: list recalls: %w", s.d.Name, err)
	}
	defer rows.Close()

	var out []recall.Record
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, "", fmt.Errorf("%s: scan recall: %w", s.d.Name, err)
		}
		var rec recall.Record
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, "", fmt.Errorf("%s: decode recall: %w", s.d.Name, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%s: list recalls: %w", s.d.Name, err)
	}

	var next string
	if len(out) == limit {
		next = out[len(out)-1].MakeModelRecallNumber
	}
	return out, next, nil
}

func (s *sqlStore) UpsertRecalls(ctx context.Context, recs []recall.Record) error {
	if len(recs) == 0 {
		return nil
	}
	return s.inTx(ctx, "upsert recalls", func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, s.d.UpsertRecall)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range recs {
			doc, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode recall %s: %w", rec.MakeModelRecallNumber, err)
			}
			if _, err := stmt.ExecContext(ctx, rec.MakeModelRecallNumber, rec.Make, rec.Model, rec.Category, doc); err != nil {
				return fmt.Errorf("recall %s: %w", rec.MakeModelRecallNumber, err)
			}
		}
		return nil
	})
}

func (s *sqlStore) DeleteRecalls(ctx context.Context, keys []string) error {
	return s.deleteByKey(ctx, "recalls", "id", keys)
}

func (s *sqlStore) ListMakes(ctx context.Context, limit int, startKey string) ([]recall.MakeRecord, string, error) {
	return listDocs(ctx, s, "makes", "type", limit, startKey, func(r recall.MakeRecord) string { return r.Type })
}

func (s *sqlStore) UpsertMakes(ctx context.Context, recs []recall.MakeRecord) error {
	return upsertDocs(ctx, s, "upsert makes", s.d.UpsertMake, recs, func(r recall.MakeRecord) string { return r.Type })
}

func (s *sqlStore) DeleteMakes(ctx context.Context, keys []string) error {
	return s.deleteByKey(ctx, "makes", "type", keys)
}

func (s *sqlStore) ListModels(ctx context.Context, limit int, startKey string) ([]recall.ModelRecord, string, error) {
	return listDocs(ctx, s, "models", "type_make", limit, startKey, func(r recall.ModelRecord) string { return r.TypeMake })
}

func (s *sqlStore) UpsertModels(ctx context.Context, recs []recall.ModelRecord) error {
	return upsertDocs(ctx, s, "upsert models", s.d.UpsertModel, recs, func(r recall.ModelRecord) string { return r.TypeMake })
}

func (s *sqlStore) DeleteModels(ctx context.Context, keys []string) error {
	return s.deleteByKey(ctx, "models", "type_make", keys)
}

// listDocs pages through a (key, doc) table ordered by key.
func listDocs[T any](ctx context.Context, s *sqlStore, table, keyCol string, limit int, startKey string, keyOf func(T) string) ([]T, string, error) {
	query := fmt.Sprintf("SELECT doc FROM %s WHERE %s > %s ORDER BY %s", table, keyCol, s.d.Placeholder(1), keyCol)
	query = s.d.Limit(query, limit)

	rows, err := s.db.QueryContext(ctx, query, startKey)
	if err != nil {
		return nil, "", fmt.Errorf("%s: list %s: %w", s.d.Name, table, err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, "", fmt.Errorf("%s: scan %s: %w", s.d.Name, table, err)
		}
		var rec T
		if err := json.Unmarshal(doc, &rec); err != nil {
			return nil, "", fmt.Errorf("%s: decode %s: %w", s.d.Name, table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("%s: list %s: %w", s.d.Name, table, err)
	}

	var next string
	if len(out) == limit {
		next = keyOf(out[len(out)-1])
	}
	return out, next, nil
}

// upsertDocs writes (key, doc) rows inside a single transaction.
func upsertDocs[T any](ctx context.Context, s *sqlStore, op, stmtSQL string, recs []T, keyOf func(T) string) error {
	if len(recs) == 0 {
		return nil
	}
	return s.inTx(ctx, op, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, stmtSQL)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range recs {
			doc, err := json.Marshal(rec)
			if err != nil {
				return fmt.Errorf("encode %s: %w", keyOf(rec), err)
			}
			if _, err := stmt.ExecContext(ctx, keyOf(rec), doc); err != nil {
				return fmt.Errorf("key %s: %w", keyOf(rec), err)
			}
		}
		return nil
	})
}

func (s *sqlStore) deleteByKey(ctx context.Context, table, keyCol string, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = s.d.Placeholder(i + 1)
		args[i] = k
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s IN (%s)", table, keyCol, strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s: delete from %s: %w", s.d.Name, table, err)
	}
	return nil
}

func (s *sqlStore) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %s: begin: %w", s.d.Name, op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return fmt.Errorf("%s: %s: %w", s.d.Name, op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %s: commit: %w", s.d.Name, op, err)
	}
	return nil
}
