package metrics

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeBackend is a simple in-memory Backend implementation for tests.
type fakeBackend struct {
	mu sync.Mutex

	counters   []counterCall
	durations  []durationCall
	flushCount int
}

type counterCall struct {
	name   string
	delta  float64
	labels Labels
}

type durationCall struct {
	name   string
	value  float64
	labels Labels
}

func (f *fakeBackend) IncCounter(name string, delta float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.counters = append(f.counters, counterCall{name, delta, labels})
}

func (f *fakeBackend) ObserveDuration(name string, value float64, labels Labels) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.durations = append(f.durations, durationCall{name, value, labels})
}

func (f *fakeBackend) Flush() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushCount++
	return nil
}

func TestRecordStage_SuccessAndFailure(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordStage("parse", nil, 2*time.Second)
	RecordStage("insert", errors.New("boom"), 1500*time.Millisecond)

	if len(fb.counters) != 2 || len(fb.durations) != 2 {
		t.Fatalf("calls: %d counters, %d durations", len(fb.counters), len(fb.durations))
	}

	cc0 := fb.counters[0]
	if cc0.name != StageTotal || cc0.delta != 1 {
		t.Fatalf("counter[0] = %#v", cc0)
	}
	if cc0.labels["stage"] != "parse" || cc0.labels["status"] != "success" {
		t.Fatalf("counter[0] labels: %v", cc0.labels)
	}
	d0 := fb.durations[0]
	if d0.name != StageDuration || d0.value < 1.999 || d0.value > 2.001 {
		t.Fatalf("duration[0] = %#v", d0)
	}

	cc1 := fb.counters[1]
	if cc1.labels["stage"] != "insert" || cc1.labels["status"] != "failure" {
		t.Fatalf("counter[1] labels: %v", cc1.labels)
	}
}

func TestRecordEntities(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	backend = fb

	RecordEntities("parsed", 3)
	RecordEntities("parsed", 0) // ignored
	RecordEntities("deleted_recalls", -1) // ignored
	RecordEntities("upserted_recalls", 5)

	if len(fb.counters) != 2 {
		t.Fatalf("expected 2 counter calls, got %d", len(fb.counters))
	}
	if fb.counters[0].labels["kind"] != "parsed" || fb.counters[0].delta != 3 {
		t.Fatalf("counter[0] = %#v", fb.counters[0])
	}
	if fb.counters[1].labels["kind"] != "upserted_recalls" || fb.counters[1].delta != 5 {
		t.Fatalf("counter[1] = %#v", fb.counters[1])
	}
}

func TestSetBackendNilKeepsExisting(t *testing.T) {
	orig := backend
	defer func() { backend = orig }()

	fb := &fakeBackend{}
	SetBackend(fb)
	SetBackend(nil)

	if err := Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if fb.flushCount != 1 {
		t.Fatalf("flushCount=%d want 1", fb.flushCount)
	}
}
