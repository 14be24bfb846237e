// Package store contains the storage-agnostic contract for the backend
// datastore plus a factory keyed by backend kind.
//
// Concrete backends live in subpackages (sqlite, postgres, mssql) and
// register themselves with the factory in init. Importing store/all as a
// blank import makes every built-in backend available:
//
//	import _ "recalls/internal/store/all"
//
//	st, err := store.New(ctx, store.Config{Kind: "sqlite", DSN: "file::memory:"})
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"recalls/internal/recall"
)

// Config selects and configures a backend.
type Config struct {
	// Kind names a registered backend ("sqlite", "postgres", "mssql").
	Kind string

	// DSN is passed verbatim to the backend's driver.
	DSN string
}

// RecallFilter narrows ListRecalls. Empty fields match everything.
type RecallFilter struct {
	Make  string
	Model string
}

// Store is the datastore contract the backend API is written against.
//
// Each entity family is keyed by a single string primary key: recalls by
// the flattened make-model-recallNumber id, make groups by vehicle type,
// model groups by the type-make pair. List operations page by key: they
// return the key of the last item when more rows may follow, and the
// caller passes it back as startKey to resume.
type Store interface {
	ListRecalls(ctx context.Context, f RecallFilter, limit int, startKey string) ([]recall.Record, string, error)
	UpsertRecalls(ctx context.Context, recs []recall.Record) error
	DeleteRecalls(ctx context.Context, keys []string) error

	ListMakes(ctx context.Context, limit int, startKey string) ([]recall.MakeRecord, string, error)
	UpsertMakes(ctx context.Context, recs []recall.MakeRecord) error
	DeleteMakes(ctx context.Context, keys []string) error

	ListModels(ctx context.Context, limit int, startKey string) ([]recall.ModelRecord, string, error)
	UpsertModels(ctx context.Context, recs []recall.ModelRecord) error
	DeleteModels(ctx context.Context, keys []string) error

	Close() error
}

// Factory constructs a Store for one backend kind.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// Register makes a backend available under the given kind. Re-registering
// a kind replaces the previous factory; backends call this from init.
func Register(kind string, f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[kind] = f
}

// New opens a Store for cfg.Kind. The kind must have been registered,
// typically via a blank import of store/all.
func New(ctx context.Context, cfg Config) (Store, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Kind]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unknown kind %q (missing import of a backend package?)", cfg.Kind)
	}
	return f(ctx, cfg)
}

// ListKinds returns the registered backend kinds, sorted.
func ListKinds() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	kinds := make([]string, 0, len(factories))
	for k := range factories {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}
