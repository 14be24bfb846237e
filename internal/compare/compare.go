// Package compare diffs the freshly parsed recall dataset against the
// previously stored snapshot and computes the minimal change set: the
// records to upsert and the primary keys to delete, for recalls and for
// the makes/models lookups derived from them.
package compare

import (
	"sort"
	"time"

	"recalls/internal/logging"
	"recalls/internal/recall"
)

// Comparer holds the two recall snapshots for one run. Prev is the
// stored state, Curr the parsed file. ModifiedRecalls rewrites Curr in
// place (substituting or removing invalid records), so it must run
// before DeletedRecallKeys; the orchestrator sequences the two.
type Comparer struct {
	Prev map[recall.Key]recall.Record
	Curr map[recall.Key]recall.Record

	// MissingModel are parsed records that arrived without a model.
	// They cannot be persisted, but they prove the recall number still
	// exists under that make, so they veto deletions.
	MissingModel []recall.Record

	// Now anchors the "not in the future" validation rules.
	Now time.Time
}

// New constructs a Comparer over the two snapshots.
func New(prev, curr map[recall.Key]recall.Record, missingModel []recall.Record) *Comparer {
	return &Comparer{Prev: prev, Curr: curr, MissingModel: missingModel, Now: time.Now()}
}

// ModifiedRecalls returns every current record that is new or differs
// from its stored version. Records failing validation are never
// returned; instead they are folded back into Curr in a second phase:
//
//   - with a stored version: the stored record replaces the parsed one,
//     so the recall reads as unchanged and is not deleted;
//   - without one: the key is removed, so the record is neither
//     upserted nor flagged for deletion.
func (c *Comparer) ModifiedRecalls() []recall.Record {
	var out []recall.Record
	var substitute []recall.Key
	var remove []recall.Key

	for key, rec := range c.Curr {
		if !recall.IsValid(rec, c.Now) {
			if _, ok := c.Prev[key]; ok {
				substitute = append(substitute, key)
			} else {
				remove = append(remove, key)
			}
			continue
		}
		prev, ok := c.Prev[key]
		if !ok || recallsDiffer(prev, rec) {
			out = append(out, rec)
		}
	}

	// Apply the invalid-record policy after iteration so the loop never
	// observes its own writes.
	for _, key := range substitute {
		c.Curr[key] = c.Prev[key]
		logging.Warn().Str("recall", key.String()).Msg("keeping last valid version of invalid recall")
	}
	for _, key := range remove {
		delete(c.Curr, key)
		logging.Warn().Str("recall", key.String()).Msg("dropping invalid recall with no stored version")
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].MakeModelRecallNumber < out[j].MakeModelRecallNumber
	})
	return out
}

// DeletedRecallKeys returns the storage primary keys of stored recalls
// absent from the current file. The key literal is taken from the
// stored record, not re-derived. A missing-model record sharing the
// stored recall's make and recall number vetoes the deletion: the
// recall is still being published, just without a usable model.
func (c *Comparer) DeletedRecallKeys() []string {
	retained := make(map[recall.Key]bool, len(c.MissingModel))
	for _, mm := range c.MissingModel {
		retained[recall.Key{Make: mm.Make, RecallNumber: mm.RecallNumber}] = true
	}

	var out []string
	for key, prev := range c.Prev {
		if _, ok := c.Curr[key]; ok {
			continue
		}
		if retained[recall.Key{Make: key.Make, RecallNumber: key.RecallNumber}] {
			logging.Info().
				Str("recall", prev.MakeModelRecallNumber).
				Msg("deletion suppressed by missing-model row")
			continue
		}
		out = append(out, prev.MakeModelRecallNumber)
	}
	sort.Strings(out)
	return out
}

// recallsDiffer compares the fixed field set of two recall records.
// Range lists are compared after sorting, so a mere reordering of
// source rows never registers as a change.
func recallsDiffer(a, b recall.Record) bool {
	if a.MakeModelRecallNumber != b.MakeModelRecallNumber ||
		a.Category != b.Category ||
		a.CategoryMakeModel != b.CategoryMakeModel ||
		a.LaunchDate != b.LaunchDate ||
		a.RecallNumber != b.RecallNumber ||
		a.Make != b.Make ||
		a.Concern != b.Concern ||
		a.Defect != b.Defect ||
		a.Remedy != b.Remedy ||
		a.VehicleCount != b.VehicleCount ||
		a.Model != b.Model {
		return true
	}
	return rangesDiffer(a.VINRanges, b.VINRanges) || rangesDiffer(a.BuildRanges, b.BuildRanges)
}

func rangesDiffer(a, b []recall.Range) bool {
	if len(a) != len(b) {
		return true
	}
	as, bs := recall.SortedRanges(a), recall.SortedRanges(b)
	for i := range as {
		if as[i] != bs[i] {
			return true
		}
	}
	return false
}

// ExtractMakes folds a recalls snapshot into make records keyed by
// category, names sorted and deduplicated.
func ExtractMakes(recs map[recall.Key]recall.Record) map[string]recall.MakeRecord {
	sets := make(map[string]map[string]bool)
	for _, rec := range recs {
		if sets[rec.Category] == nil {
			sets[rec.Category] = make(map[string]bool)
		}
		sets[rec.Category][rec.Make] = true
	}
	out := make(map[string]recall.MakeRecord, len(sets))
	for category, set := range sets {
		out[category] = recall.MakeRecord{Type: category, Makes: recall.SortedNames(set)}
	}
	return out
}

// ExtractModels folds a recalls snapshot into model records keyed by
// category-make.
func ExtractModels(recs map[recall.Key]recall.Record) map[string]recall.ModelRecord {
	sets := make(map[string]map[string]bool)
	for _, rec := range recs {
		key := rec.Category + "-" + rec.Make
		if sets[key] == nil {
			sets[key] = make(map[string]bool)
		}
		sets[key][rec.Model] = true
	}
	out := make(map[string]recall.ModelRecord, len(sets))
	for typeMake, set := range sets {
		out[typeMake] = recall.ModelRecord{TypeMake: typeMake, Models: recall.SortedNames(set)}
	}
	return out
}

// ModifiedMakes returns every current make record that is absent from
// prev or differs from it in serialized form.
func ModifiedMakes(prev, curr map[string]recall.MakeRecord) []recall.MakeRecord {
	var out []recall.MakeRecord
	for key, rec := range curr {
		p, ok := prev[key]
		if !ok || p.Type != rec.Type || !equalNames(p.Makes, rec.Makes) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// ModifiedModels returns every current model record that is absent from
// prev or differs from it in serialized form.
func ModifiedModels(prev, curr map[string]recall.ModelRecord) []recall.ModelRecord {
	var out []recall.ModelRecord
	for key, rec := range curr {
		p, ok := prev[key]
		if !ok || p.TypeMake != rec.TypeMake || !equalNames(p.Models, rec.Models) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TypeMake < out[j].TypeMake })
	return out
}

// DeletedKeys returns keyOf(prev entry) for every key present in prev
// but absent from curr, sorted for stable payloads.
func DeletedKeys[V any](prev, curr map[string]V, keyOf func(V) string) []string {
	var out []string
	for key, entry := range prev {
		if _, ok := curr[key]; !ok {
			out = append(out, keyOf(entry))
		}
	}
	sort.Strings(out)
	return out
}

func equalNames(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
