// Package metrics provides a small, backend-agnostic abstraction for
// recording operational metrics from the recall update job.
//
// The package exposes a narrow interface (Backend) focused on counters
// and duration observations, with a global, pluggable backend that
// defaults to a no-op implementation. The updater instruments its stages
// (download, parse, compare, insert, delete, archive) without coupling
// to a concrete metrics system; the Pushgateway backend lives in the
// prompush subpackage.
package metrics

import "time"

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Metric names understood by the shipped backends.
const (
	StageTotal    = "recall_update_stage_total"
	StageDuration = "recall_update_stage_duration_seconds"
	RecordsTotal  = "recall_update_records_total"
)

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveDuration records a duration-style value in seconds.
	ObserveDuration(name string, value float64, labels Labels)
	// Flush pushes buffered metrics if the backend needs it.
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)      {}
func (nopBackend) ObserveDuration(string, float64, Labels) {}
func (nopBackend) Flush() error                            { return nil }

var backend Backend = nopBackend{}

// SetBackend installs a concrete backend. Passing nil keeps the existing one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	backend = b
}

// Flush delegates to the current backend.
func Flush() error {
	return backend.Flush()
}

// RecordStage measures one pipeline stage: a success/failure counter
// plus its duration.
func RecordStage(stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"stage": stage, "status": status}
	backend.IncCounter(StageTotal, 1, lbls)
	backend.ObserveDuration(StageDuration, d.Seconds(), lbls)
}

// RecordEntities increments a record-level counter for the given kind,
// e.g. "parsed", "skipped_rows", "upserted_recalls", "deleted_recalls".
func RecordEntities(kind string, delta int) {
	if delta <= 0 {
		return
	}
	backend.IncCounter(RecordsTotal, float64(delta), Labels{"kind": kind})
}
