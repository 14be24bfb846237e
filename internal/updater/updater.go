// Package updater runs one end-to-end update of the recall store from a
// CSV export: download, parse, compare against the stored snapshot, push
// inserts and deletes through the backend, then archive the file.
//
// A run is all-or-nothing only at the stage level. Inside the insert and
// delete stages the three entity types (recalls, makes, models) are
// attempted independently so one failing resource never blocks the
// others, but any failure fails the stage.
package updater

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"
	"golang.org/x/sync/errgroup"

	"recalls/internal/compare"
	"recalls/internal/ingest"
	"recalls/internal/logging"
	"recalls/internal/metrics"
	"recalls/internal/recall"
)

// Backend is the remote recall store surface the updater writes through.
// *remote.Client satisfies it; tests substitute a fake.
type Backend interface {
	GetRecalls(ctx context.Context) (map[recall.Key]recall.Record, error)
	GetMakes(ctx context.Context) (map[string]recall.MakeRecord, error)
	GetModels(ctx context.Context) (map[string]recall.ModelRecord, error)
	PatchRecalls(ctx context.Context, recs []recall.Record) error
	PatchMakes(ctx context.Context, makes []recall.MakeRecord) error
	PatchModels(ctx context.Context, models []recall.ModelRecord) error
	DeleteRecalls(ctx context.Context, keys []string) error
	DeleteMakes(ctx context.Context, keys []string) error
	DeleteModels(ctx context.Context, keys []string) error
}

// ObjectStore is the bucket surface the updater reads from and archives
// to. *bucket.Bucket satisfies it.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte) error
}

// Sentinel errors for outcomes the caller may want to branch on.
var (
	// ErrUnexpectedFile marks an inbox object with a name other than the
	// configured source filename. Such files are never processed.
	ErrUnexpectedFile = errors.New("updater: unexpected filename")

	// ErrDeleteThreshold marks a run aborted by the mass-deletion circuit
	// breaker before any destructive call was issued.
	ErrDeleteThreshold = errors.New("updater: delete threshold exceeded")

	// ErrEmptyFile marks a present but zero-length source object.
	ErrEmptyFile = errors.New("updater: source file is empty")
)

// Config carries the per-run settings.
type Config struct {
	// ExpectedFilename is the only inbox object name processed.
	ExpectedFilename string

	// SourceEncoding is handed to the parser ("cp1252" or "utf-8").
	SourceEncoding string

	// DeleteThresholdPercent is the circuit-breaker limit: a run that
	// would delete more than this share of the stored recalls aborts.
	DeleteThresholdPercent float64
}

// ChangeSet is everything a run wants to upsert.
type ChangeSet struct {
	Recalls []recall.Record
	Makes   []recall.MakeRecord
	Models  []recall.ModelRecord
}

// Deletions is everything a run wants to remove, as storage primary keys.
type Deletions struct {
	Recalls []string
	Makes   []string
	Models  []string
}

// Updater wires the collaborators for update runs. Construct with New.
type Updater struct {
	backend Backend
	inbox   ObjectStore
	assets  ObjectStore
	cfg     Config
}

// New returns an Updater reading from inbox, writing through backend and
// archiving to assets.
func New(backend Backend, inbox, assets ObjectStore, cfg Config) *Updater {
	return &Updater{backend: backend, inbox: inbox, assets: assets, cfg: cfg}
}

// archiveKey is where a processed file lands in the assets store.
func archiveKey(filename string) string { return "documents/" + filename }

// fingerprintKey is where the content hash of the last processed file
// lives, next to its archived copy.
func fingerprintKey(filename string) string { return archiveKey(filename) + ".xxh3" }

// Run processes one inbox object end to end. A file whose content hash
// matches the previous run is skipped without touching the backend.
func (u *Updater) Run(ctx context.Context, filename string) error {
	if filename != u.cfg.ExpectedFilename {
		logging.Warn().Str("filename", filename).Str("expected", u.cfg.ExpectedFilename).
			Msg("ignoring unexpected inbox object")
		return fmt.Errorf("%w: %q", ErrUnexpectedFile, filename)
	}

	data, err := u.downloadStage(ctx, filename)
	if err != nil {
		return err
	}

	sum := fmt.Sprintf("%016x", xxh3.Hash(data))
	if prev, err := u.assets.Get(ctx, fingerprintKey(filename)); err == nil && string(prev) == sum {
		logging.Info().Str("filename", filename).Str("fingerprint", sum).
			Msg("source unchanged since last run, skipping")
		return nil
	}

	parsed, err := u.parseStage(data)
	if err != nil {
		return err
	}

	changes, deletions, err := u.compareStage(ctx, parsed)
	if err != nil {
		return err
	}

	if err := u.insertStage(ctx, changes); err != nil {
		return err
	}
	if err := u.deleteStage(ctx, deletions); err != nil {
		return err
	}
	if err := u.archiveStage(ctx, filename, data, sum); err != nil {
		return err
	}

	logging.Info().
		Str("filename", filename).
		Int("upserted_recalls", len(changes.Recalls)).
		Int("deleted_recalls", len(deletions.Recalls)).
		Msg("update run complete")
	return nil
}

func (u *Updater) downloadStage(ctx context.Context, filename string) ([]byte, error) {
	var data []byte
	err := u.stage("download", func() error {
		var err error
		data, err = u.inbox.Get(ctx, filename)
		if err != nil {
			return fmt.Errorf("download %s: %w", filename, err)
		}
		if len(data) == 0 {
			return fmt.Errorf("%w: %s", ErrEmptyFile, filename)
		}
		return nil
	})
	return data, err
}

func (u *Updater) parseStage(data []byte) (*ingest.Parsed, error) {
	var parsed *ingest.Parsed
	err := u.stage("parse", func() error {
		p, err := ingest.NewParser(ingest.Options{Encoding: u.cfg.SourceEncoding}).Parse(data)
		if err != nil {
			return err
		}
		if len(p.Recalls) == 0 {
			return errors.New("updater: no recalls parsed from source file")
		}
		parsed = p
		return nil
	})
	return parsed, err
}

// compareStage fetches the stored snapshots and diffs. A failed recalls
// fetch yields empty change sets: without a baseline nothing can be
// safely diffed, so the run degrades to archive-only. Makes and models
// fetches degrade independently.
func (u *Updater) compareStage(ctx context.Context, parsed *ingest.Parsed) (*ChangeSet, *Deletions, error) {
	changes := &ChangeSet{}
	deletions := &Deletions{}

	err := u.stage("compare", func() error {
		prevRecalls, err := u.backend.GetRecalls(ctx)
		if err != nil {
			logging.Error().Err(err).Msg("fetching stored recalls failed, proceeding with empty change sets")
			return nil
		}

		cmp := compare.New(prevRecalls, parsed.Recalls, parsed.MissingModel)
		changes.Recalls = cmp.ModifiedRecalls()
		deletions.Recalls = cmp.DeletedRecallKeys()

		if len(prevRecalls) > 0 {
			pct := float64(len(deletions.Recalls)) / float64(len(prevRecalls)) * 100
			if pct > u.cfg.DeleteThresholdPercent {
				return fmt.Errorf("%w: would delete %d of %d stored recalls (%.1f%% > %.1f%%)",
					ErrDeleteThreshold, len(deletions.Recalls), len(prevRecalls), pct, u.cfg.DeleteThresholdPercent)
			}
		}

		// ModifiedRecalls has folded the invalid-record policy into Curr,
		// so the lookups derive from the reconciled state.
		currMakes := compare.ExtractMakes(cmp.Curr)
		currModels := compare.ExtractModels(cmp.Curr)

		if prevMakes, err := u.backend.GetMakes(ctx); err != nil {
			logging.Error().Err(err).Msg("fetching stored makes failed, skipping make updates")
		} else {
			changes.Makes = compare.ModifiedMakes(prevMakes, currMakes)
			deletions.Makes = compare.DeletedKeys(prevMakes, currMakes,
				func(m recall.MakeRecord) string { return m.Type })
		}

		if prevModels, err := u.backend.GetModels(ctx); err != nil {
			logging.Error().Err(err).Msg("fetching stored models failed, skipping model updates")
		} else {
			changes.Models = compare.ModifiedModels(prevModels, currModels)
			deletions.Models = compare.DeletedKeys(prevModels, currModels,
				func(m recall.ModelRecord) string { return m.TypeMake })
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	logging.Info().
		Int("modified_recalls", len(changes.Recalls)).
		Int("deleted_recalls", len(deletions.Recalls)).
		Int("modified_makes", len(changes.Makes)).
		Int("modified_models", len(changes.Models)).
		Msg("change sets computed")
	return changes, deletions, nil
}

// insertStage upserts the three entity types in parallel. Each type is
// attempted regardless of the others; the first error fails the stage.
func (u *Updater) insertStage(ctx context.Context, changes *ChangeSet) error {
	return u.stage("insert", func() error {
		var g errgroup.Group
		g.Go(func() error {
			if err := u.backend.PatchRecalls(ctx, changes.Recalls); err != nil {
				logging.Error().Err(err).Msg("upserting recalls failed")
				return fmt.Errorf("upsert recalls: %w", err)
			}
			metrics.RecordEntities("recalls_upserted", len(changes.Recalls))
			return nil
		})
		g.Go(func() error {
			if err := u.backend.PatchMakes(ctx, changes.Makes); err != nil {
				logging.Error().Err(err).Msg("upserting makes failed")
				return fmt.Errorf("upsert makes: %w", err)
			}
			metrics.RecordEntities("makes_upserted", len(changes.Makes))
			return nil
		})
		g.Go(func() error {
			if err := u.backend.PatchModels(ctx, changes.Models); err != nil {
				logging.Error().Err(err).Msg("upserting models failed")
				return fmt.Errorf("upsert models: %w", err)
			}
			metrics.RecordEntities("models_upserted", len(changes.Models))
			return nil
		})
		return g.Wait()
	})
}

// deleteStage mirrors insertStage for removals.
func (u *Updater) deleteStage(ctx context.Context, deletions *Deletions) error {
	return u.stage("delete", func() error {
		var g errgroup.Group
		g.Go(func() error {
			if err := u.backend.DeleteRecalls(ctx, deletions.Recalls); err != nil {
				logging.Error().Err(err).Msg("deleting recalls failed")
				return fmt.Errorf("delete recalls: %w", err)
			}
			metrics.RecordEntities("recalls_deleted", len(deletions.Recalls))
			return nil
		})
		g.Go(func() error {
			if err := u.backend.DeleteMakes(ctx, deletions.Makes); err != nil {
				logging.Error().Err(err).Msg("deleting makes failed")
				return fmt.Errorf("delete makes: %w", err)
			}
			metrics.RecordEntities("makes_deleted", len(deletions.Makes))
			return nil
		})
		g.Go(func() error {
			if err := u.backend.DeleteModels(ctx, deletions.Models); err != nil {
				logging.Error().Err(err).Msg("deleting models failed")
				return fmt.Errorf("delete models: %w", err)
			}
			metrics.RecordEntities("models_deleted", len(deletions.Models))
			return nil
		})
		return g.Wait()
	})
}

// archiveStage copies the source file and its fingerprint to the assets
// store for audit retention and skip-unchanged detection.
func (u *Updater) archiveStage(ctx context.Context, filename string, data []byte, sum string) error {
	return u.stage("archive", func() error {
		if err := u.assets.Put(ctx, archiveKey(filename), data); err != nil {
			return fmt.Errorf("archive %s: %w", filename, err)
		}
		if err := u.assets.Put(ctx, fingerprintKey(filename), []byte(sum)); err != nil {
			return fmt.Errorf("archive fingerprint for %s: %w", filename, err)
		}
		return nil
	})
}

// stage runs one pipeline stage with timing, metrics and outcome logging.
func (u *Updater) stage(name string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.RecordStage(name, err, time.Since(start))
	if err != nil {
		logging.Error().Err(err).Str("stage", name).Dur("elapsed", time.Since(start)).
			Msg("stage failed")
		return err
	}
	logging.Debug().Str("stage", name).Dur("elapsed", time.Since(start)).Msg("stage complete")
	return nil
}
