// Package ingest parses the recall CSV export into normalized recall
// records. The export is a loosely structured file: legacy Windows-1252
// bytes, quoted fields with embedded newlines, occasional short rows,
// and duplicate rows that describe additional VIN or build-date spans of
// the same recall. Parsing is header-driven so a reordered column does
// not silently shift fields.
package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/transform"

	"recalls/internal/dates"
	"recalls/internal/logging"
	"recalls/internal/recall"
)

// Canonical column keys, produced by normalizing the source headers
// (trim, lowercase, spaces to underscores).
const (
	colLaunchDate   = "launch_date"
	colRecallNumber = "recalls_number"
	colMake         = "make"
	colConcern      = "concern"
	colDefect       = "defect"
	colRemedy       = "remedy"
	colVehicleCount = "vehicle_numbers"
	colModel        = "model"
	colVINStart     = "vin_start"
	colVINEnd       = "vin_end"
	colBuildStart   = "build_start"
	colBuildEnd     = "build_end"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Options configures the parser. Zero values select the production
// defaults (Windows-1252 input).
type Options struct {
	// Encoding names the source byte encoding: "cp1252" (default) or
	// "utf-8" for already-decoded input (tests, future exports).
	Encoding string
}

// Parsed bundles the outcome of one file: merged records keyed by their
// natural key, plus the records that arrived without a model. The
// latter are not persistable but still assert that the recall number
// exists under that make, which suppresses deletions downstream.
type Parsed struct {
	Recalls      map[recall.Key]recall.Record
	MissingModel []recall.Record

	// Skipped counts rows dropped for missing required fields.
	Skipped int
}

// Parser turns raw CSV bytes into a Parsed collection. Safe to reuse
// across files; not safe for concurrent use.
type Parser struct{ opt Options }

// NewParser constructs a Parser with the provided Options.
func NewParser(opt Options) *Parser { return &Parser{opt: opt} }

// decoder returns the byte-to-UTF-8 decoder for the configured source
// encoding, or nil when the input is already UTF-8.
func (p *Parser) decoder() (*encoding.Decoder, error) {
	switch strings.ToLower(p.opt.Encoding) {
	case "", "cp1252", "windows-1252":
		return charmap.Windows1252.NewDecoder(), nil
	case "utf-8", "utf8":
		return nil, nil
	default:
		return nil, fmt.Errorf("ingest: unsupported source encoding %q", p.opt.Encoding)
	}
}

// Parse decodes and parses one CSV export.
//
// Per row: all fields are trimmed; a row missing any of make, model,
// remedy or recall number is rejected. When model is the only required
// field missing, the row is kept on the missing-model side list instead
// of being dropped. Accepted rows sharing a natural key are merged by
// concatenating their VIN and build ranges (existing first); all other
// fields take the most recently seen row's values.
func (p *Parser) Parse(data []byte) (*Parsed, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("ingest: empty input")
	}

	var r io.Reader = bytes.NewReader(data)
	dec, err := p.decoder()
	if err != nil {
		return nil, err
	}
	if dec != nil {
		r = transform.NewReader(r, dec)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // short rows are handled per-field below
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("ingest: read header: %w", err)
	}
	idx := headerIndex(header)

	out := &Parsed{Recalls: make(map[recall.Key]recall.Record)}

	for line := 2; ; line++ {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("ingest: read row %d: %w", line, err)
		}

		field := func(key string) string {
			i, ok := idx[key]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}

		raw := recall.Raw{
			LaunchDate:   dates.ToISO(field(colLaunchDate)),
			RecallNumber: field(colRecallNumber),
			Make:         field(colMake),
			Concern:      field(colConcern),
			Defect:       field(colDefect),
			Remedy:       field(colRemedy),
			VehicleCount: field(colVehicleCount),
			Model:        field(colModel),
			VINStart:     field(colVINStart),
			VINEnd:       field(colVINEnd),
			BuildStart:   dates.ToISO(field(colBuildStart)),
			BuildEnd:     dates.ToISO(field(colBuildEnd)),
		}

		switch classify(raw) {
		case rowAccepted:
			merge(out.Recalls, recall.New(raw))
		case rowMissingModel:
			out.MissingModel = append(out.MissingModel, recall.New(raw))
		case rowDropped:
			out.Skipped++
			logging.Warn().
				Int("line", line).
				Str("make", raw.Make).
				Str("recall_number", raw.RecallNumber).
				Msg("dropping row with missing required fields")
		}
	}

	return out, nil
}

type rowClass int

const (
	rowAccepted rowClass = iota
	rowMissingModel
	rowDropped
)

// classify applies the required-field policy. Model missing on its own
// is recoverable (the recall still exists under that make); any other
// missing required field makes the row unusable.
func classify(raw recall.Raw) rowClass {
	othersPresent := raw.Make != "" && raw.Remedy != "" && raw.RecallNumber != ""
	switch {
	case othersPresent && raw.Model != "":
		return rowAccepted
	case othersPresent:
		return rowMissingModel
	default:
		return rowDropped
	}
}

// merge folds rec into the map. On a key collision the two records'
// range lists are concatenated (existing first, not deduplicated); the
// scalar fields take the newer row's values.
func merge(recs map[recall.Key]recall.Record, rec recall.Record) {
	key := rec.Key()
	prev, ok := recs[key]
	if !ok {
		recs[key] = rec
		return
	}
	rec.VINRanges = append(append([]recall.Range{}, prev.VINRanges...), rec.VINRanges...)
	rec.BuildRanges = append(append([]recall.Range{}, prev.BuildRanges...), rec.BuildRanges...)
	recs[key] = rec
}

// headerIndex normalizes header cells into canonical keys and maps each
// to its column position. Unknown columns are carried through under
// their normalized name and simply never read.
func headerIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, cell := range header {
		c := strings.TrimSpace(cell)
		if i == 0 {
			c = strings.TrimPrefix(c, utf8BOM)
		}
		idx[strings.ReplaceAll(strings.ToLower(c), " ", "_")] = i
	}
	return idx
}
