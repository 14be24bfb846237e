// Package recall defines the recall data model shared by the ingestion
// job, the reconciliation engine, the backend API, and the stores.
//
// A recall is identified by its natural key: make, model and recall
// number. Inside the program the key is the structured Key tuple; the
// flattened "make-model-recallNumber" string exists only at the storage
// boundary because the remote schema uses it as the primary key. The
// flattened form is ambiguous when a make itself contains a hyphen
// (e.g. "MERCEDES-BENZ"); keeping the tuple internal confines that
// ambiguity to the one place the schema forces it.
package recall

import (
	"sort"
	"strings"
)

// Recall categories, derived from the recall-number prefix.
const (
	CategoryVehicle   = "vehicle"
	CategoryEquipment = "equipment"
)

// vehiclePrefixes are the campaign groups classified as vehicle recalls.
// Everything else, including the RCOMP and RTW groups, is equipment.
//
// Note the deliberate asymmetry with acceptedGroups below: RCOMP and RTW
// are legitimate campaign groups (the validator accepts them) but they
// identify component and tyre campaigns, so they categorize as
// equipment. The two lists share this definition site so the
// relationship stays visible.
var vehiclePrefixes = map[string]bool{
	"R":    true,
	"RM":   true,
	"RCT":  true,
	"RPT":  true,
	"RSPV": true,
	"RPC":  true,
}

// acceptedGroups are the campaign groups the validator recognizes as
// well-formed: the vehicle prefixes plus the equipment-class groups.
var acceptedGroups = map[string]bool{
	"R":     true,
	"RM":    true,
	"RCOMP": true,
	"RCT":   true,
	"RPT":   true,
	"RSPV":  true,
	"RTW":   true,
	"RPC":   true,
}

// CategoryFor derives the recall category from the recall number's
// group token (the substring before the first slash).
func CategoryFor(recallNumber string) string {
	group, _, _ := strings.Cut(recallNumber, "/")
	if vehiclePrefixes[group] {
		return CategoryVehicle
	}
	return CategoryEquipment
}

// Key is the structured natural key of a recall.
type Key struct {
	Make         string
	Model        string
	RecallNumber string
}

// String flattens the key with hyphens for the storage schema. See the
// package comment for the collision caveat.
func (k Key) String() string {
	return k.Make + "-" + k.Model + "-" + k.RecallNumber
}

// Range is a VIN or build-date span covered by a recall. Either bound
// may be absent; a Range is only built when at least one is present.
type Range struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// Record is a normalized recall. Optional scalars are uniformly the
// empty string when absent, on both the stored and the freshly parsed
// side, so field comparison never trips over representation.
type Record struct {
	MakeModelRecallNumber string  `json:"makeModelRecallNumber"`
	Category              string  `json:"category"`
	CategoryMakeModel     string  `json:"categoryMakeModel"`
	LaunchDate            string  `json:"launchDate,omitempty"`
	RecallNumber          string  `json:"recallNumber"`
	Make                  string  `json:"make"`
	Model                 string  `json:"model,omitempty"`
	Concern               string  `json:"concern,omitempty"`
	Defect                string  `json:"defect,omitempty"`
	Remedy                string  `json:"remedy,omitempty"`
	VehicleCount          string  `json:"vehicleNumber,omitempty"`
	VINRanges             []Range `json:"vinRange"`
	BuildRanges           []Range `json:"buildRange"`
}

// Raw carries the twelve source fields for one CSV row, dates already in
// ISO form (or the dates.Invalid sentinel).
type Raw struct {
	LaunchDate   string
	RecallNumber string
	Make         string
	Concern      string
	Defect       string
	Remedy       string
	VehicleCount string
	Model        string
	VINStart     string
	VINEnd       string
	BuildStart   string
	BuildEnd     string
}

// New builds a Record from one row's raw fields. Range slices start
// empty and gain exactly one entry per pair with at least one bound
// present; rows sharing a natural key are merged later by the parser.
func New(raw Raw) Record {
	category := CategoryFor(raw.RecallNumber)
	rec := Record{
		MakeModelRecallNumber: Key{raw.Make, raw.Model, raw.RecallNumber}.String(),
		Category:              category,
		CategoryMakeModel:     category + "-" + raw.Make + "-" + raw.Model,
		LaunchDate:            raw.LaunchDate,
		RecallNumber:          raw.RecallNumber,
		Make:                  raw.Make,
		Model:                 raw.Model,
		Concern:               raw.Concern,
		Defect:                raw.Defect,
		Remedy:                raw.Remedy,
		VehicleCount:          raw.VehicleCount,
		VINRanges:             []Range{},
		BuildRanges:           []Range{},
	}
	if raw.VINStart != "" || raw.VINEnd != "" {
		rec.VINRanges = append(rec.VINRanges, Range{Start: raw.VINStart, End: raw.VINEnd})
	}
	if raw.BuildStart != "" || raw.BuildEnd != "" {
		rec.BuildRanges = append(rec.BuildRanges, Range{Start: raw.BuildStart, End: raw.BuildEnd})
	}
	return rec
}

// Key returns the structured natural key of the record.
func (r Record) Key() Key {
	return Key{Make: r.Make, Model: r.Model, RecallNumber: r.RecallNumber}
}

// SortedRanges returns a copy of rs ordered by (start, end), so that
// range lists can be compared independently of source-row order.
func SortedRanges(rs []Range) []Range {
	out := make([]Range, len(rs))
	copy(out, rs)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}

// MakeRecord lists every make seen for one recall category. Makes are
// kept sorted and deduplicated; that is also the wire form.
type MakeRecord struct {
	Type  string   `json:"type"`
	Makes []string `json:"makes"`
}

// ModelRecord lists every model seen for one category-make pair.
type ModelRecord struct {
	TypeMake string   `json:"typeMake"`
	Models   []string `json:"models"`
}

// SortedNames converts a name set into the sorted slice form used for
// comparison and serialization.
func SortedNames(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for name := range set {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
