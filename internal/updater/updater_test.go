package updater

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"recalls/internal/recall"
)

const csvHeader = "Launch Date,Recalls Number,Make,Concern,Defect,Remedy,Vehicle Numbers,Model,VIN Start,VIN End,Build Start,Build End"

const testFilename = "RecallsFileSmall.csv"

func testConfig() Config {
	return Config{
		ExpectedFilename:       testFilename,
		SourceEncoding:         "utf-8",
		DeleteThresholdPercent: 20,
	}
}

// csvRow renders one valid source row with empty VIN and build ranges.
func csvRow(mk, model, number string) string {
	return fmt.Sprintf("01/04/2023,%s,%s,brakes,hose wear,replace hose,10,%s,,,,", number, mk, model)
}

func csvFile(rows ...string) []byte {
	return []byte(csvHeader + "\n" + strings.Join(rows, "\n") + "\n")
}

// prevRecord builds the stored form of the record csvRow produces, so a
// CSV row and its previous version compare as unchanged.
func prevRecord(mk, model, number string) recall.Record {
	return recall.New(recall.Raw{
		LaunchDate:   "2023-04-01",
		RecallNumber: number,
		Make:         mk,
		Concern:      "brakes",
		Defect:       "hose wear",
		Remedy:       "replace hose",
		VehicleCount: "10",
		Model:        model,
	})
}

type fakeBackend struct {
	recalls map[recall.Key]recall.Record
	makes   map[string]recall.MakeRecord
	models  map[string]recall.ModelRecord

	// errs makes the named operation fail, e.g. errs["GetRecalls"].
	errs map[string]error

	calls          []string
	patchedRecalls []recall.Record
	patchedMakes   []recall.MakeRecord
	patchedModels  []recall.ModelRecord
	deletedRecalls []string
	deletedMakes   []string
	deletedModels  []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		recalls: map[recall.Key]recall.Record{},
		makes:   map[string]recall.MakeRecord{},
		models:  map[string]recall.ModelRecord{},
		errs:    map[string]error{},
	}
}

func (f *fakeBackend) call(op string) error {
	f.calls = append(f.calls, op)
	return f.errs[op]
}

func (f *fakeBackend) called(op string) bool {
	for _, c := range f.calls {
		if c == op {
			return true
		}
	}
	return false
}

func (f *fakeBackend) GetRecalls(context.Context) (map[recall.Key]recall.Record, error) {
	if err := f.call("GetRecalls"); err != nil {
		return nil, err
	}
	out := make(map[recall.Key]recall.Record, len(f.recalls))
	for k, v := range f.recalls {
		out[k] = v
	}
	return out, nil
}

func (f *fakeBackend) GetMakes(context.Context) (map[string]recall.MakeRecord, error) {
	if err := f.call("GetMakes"); err != nil {
		return nil, err
	}
	return f.makes, nil
}

func (f *fakeBackend) GetModels(context.Context) (map[string]recall.ModelRecord, error) {
	if err := f.call("GetModels"); err != nil {
		return nil, err
	}
	return f.models, nil
}

func (f *fakeBackend) PatchRecalls(_ context.Context, recs []recall.Record) error {
	f.patchedRecalls = append(f.patchedRecalls, recs...)
	return f.call("PatchRecalls")
}

func (f *fakeBackend) PatchMakes(_ context.Context, makes []recall.MakeRecord) error {
	f.patchedMakes = append(f.patchedMakes, makes...)
	return f.call("PatchMakes")
}

func (f *fakeBackend) PatchModels(_ context.Context, models []recall.ModelRecord) error {
	f.patchedModels = append(f.patchedModels, models...)
	return f.call("PatchModels")
}

func (f *fakeBackend) DeleteRecalls(_ context.Context, keys []string) error {
	f.deletedRecalls = append(f.deletedRecalls, keys...)
	return f.call("DeleteRecalls")
}

func (f *fakeBackend) DeleteMakes(_ context.Context, keys []string) error {
	f.deletedMakes = append(f.deletedMakes, keys...)
	return f.call("DeleteMakes")
}

func (f *fakeBackend) DeleteModels(_ context.Context, keys []string) error {
	f.deletedModels = append(f.deletedModels, keys...)
	return f.call("DeleteModels")
}

type fakeStore struct {
	objects map[string][]byte
	puts    []string
}

func newFakeStore() *fakeStore { return &fakeStore{objects: map[string][]byte{}} }

func (f *fakeStore) Get(_ context.Context, key string) ([]byte, error) {
	data, ok := f.objects[key]
	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, os.ErrNotExist)
	}
	return data, nil
}

func (f *fakeStore) Put(_ context.Context, key string, data []byte) error {
	f.objects[key] = data
	f.puts = append(f.puts, key)
	return nil
}

func run(t *testing.T, backend *fakeBackend, body []byte) (*fakeStore, error) {
	t.Helper()
	inbox := newFakeStore()
	assets := newFakeStore()
	inbox.objects[testFilename] = body
	u := New(backend, inbox, assets, testConfig())
	err := u.Run(context.Background(), testFilename)
	return assets, err
}

func TestRunMergesRowsSharingKey(t *testing.T) {
	backend := newFakeBackend()
	body := csvFile(
		"01/04/2023,R/2020/001,FORD,brakes,hose wear,replace hose,10,FOCUS,VINA1,VINA2,,",
		"01/04/2023,R/2020/001,FORD,brakes,hose wear,replace hose,10,FOCUS,VINB1,VINB2,,",
	)
	assets, err := run(t, backend, body)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(backend.patchedRecalls) != 1 {
		t.Fatalf("patched %d recalls, want 1 merged record", len(backend.patchedRecalls))
	}
	rec := backend.patchedRecalls[0]
	if rec.MakeModelRecallNumber != "FORD-FOCUS-R/2020/001" {
		t.Errorf("key = %q", rec.MakeModelRecallNumber)
	}
	if rec.Category != recall.CategoryVehicle {
		t.Errorf("category = %q, want vehicle", rec.Category)
	}
	if len(rec.VINRanges) != 2 {
		t.Errorf("VINRanges = %+v, want both rows' pairs", rec.VINRanges)
	}

	if len(backend.patchedMakes) != 1 || backend.patchedMakes[0].Type != recall.CategoryVehicle {
		t.Errorf("patchedMakes = %+v", backend.patchedMakes)
	}
	if len(backend.patchedModels) != 1 || backend.patchedModels[0].TypeMake != "vehicle-FORD" {
		t.Errorf("patchedModels = %+v", backend.patchedModels)
	}

	if _, ok := assets.objects[archiveKey(testFilename)]; !ok {
		t.Error("source file was not archived")
	}
	if _, ok := assets.objects[fingerprintKey(testFilename)]; !ok {
		t.Error("fingerprint was not stored")
	}
}

func TestRunSkipsUnchangedFile(t *testing.T) {
	backend := newFakeBackend()
	body := csvFile(csvRow("FORD", "FOCUS", "R/2020/001"))

	inbox := newFakeStore()
	assets := newFakeStore()
	inbox.objects[testFilename] = body
	u := New(backend, inbox, assets, testConfig())

	if err := u.Run(context.Background(), testFilename); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	firstCalls := len(backend.calls)

	if err := u.Run(context.Background(), testFilename); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(backend.calls) != firstCalls {
		t.Errorf("second run issued %d backend calls, want 0", len(backend.calls)-firstCalls)
	}
}

func TestRunRejectsUnexpectedFilename(t *testing.T) {
	u := New(newFakeBackend(), newFakeStore(), newFakeStore(), testConfig())
	err := u.Run(context.Background(), "virus.exe")
	if !errors.Is(err, ErrUnexpectedFile) {
		t.Fatalf("Run = %v, want ErrUnexpectedFile", err)
	}
}

func TestRunRejectsEmptyFile(t *testing.T) {
	backend := newFakeBackend()
	_, err := run(t, backend, []byte{})
	if !errors.Is(err, ErrEmptyFile) {
		t.Fatalf("Run = %v, want ErrEmptyFile", err)
	}
	if len(backend.calls) != 0 {
		t.Errorf("backend called %v for empty file", backend.calls)
	}
}

func TestDeleteThreshold(t *testing.T) {
	seed := func(backend *fakeBackend, n int) []string {
		rows := make([]string, 0, n)
		for i := 0; i < n; i++ {
			mk := fmt.Sprintf("MAKE%d", i)
			number := fmt.Sprintf("R/2020/%03d", i)
			rec := prevRecord(mk, "MODEL", number)
			backend.recalls[rec.Key()] = rec
			rows = append(rows, csvRow(mk, "MODEL", number))
		}
		return rows
	}

	t.Run("thirty percent aborts", func(t *testing.T) {
		backend := newFakeBackend()
		rows := seed(backend, 10)
		// Keep 7 of 10: 30% deletions against a 20% threshold.
		_, err := run(t, backend, csvFile(rows[:7]...))
		if !errors.Is(err, ErrDeleteThreshold) {
			t.Fatalf("Run = %v, want ErrDeleteThreshold", err)
		}
		for _, op := range []string{"PatchRecalls", "DeleteRecalls", "PatchMakes", "DeleteMakes"} {
			if backend.called(op) {
				t.Errorf("%s issued despite aborted run", op)
			}
		}
	})

	t.Run("ten percent proceeds", func(t *testing.T) {
		backend := newFakeBackend()
		rows := seed(backend, 10)
		_, err := run(t, backend, csvFile(rows[:9]...))
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if len(backend.deletedRecalls) != 1 {
			t.Errorf("deletedRecalls = %v, want one key", backend.deletedRecalls)
		}
	})
}

func TestRecallsFetchFailureYieldsEmptyChangeSets(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["GetRecalls"] = errors.New("store down")

	assets, err := run(t, backend, csvFile(csvRow("FORD", "FOCUS", "R/2020/001")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.patchedRecalls) != 0 || len(backend.deletedRecalls) != 0 {
		t.Errorf("change sets not empty: patched=%d deleted=%d",
			len(backend.patchedRecalls), len(backend.deletedRecalls))
	}
	// The run still archives: the file was processed, just with nothing
	// safe to write.
	if _, ok := assets.objects[archiveKey(testFilename)]; !ok {
		t.Error("source file was not archived")
	}
}

func TestMakesFetchFailureDegradesIndependently(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["GetMakes"] = errors.New("store down")

	_, err := run(t, backend, csvFile(csvRow("FORD", "FOCUS", "R/2020/001")))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.patchedRecalls) != 1 {
		t.Errorf("patchedRecalls = %d, want recalls unaffected", len(backend.patchedRecalls))
	}
	if len(backend.patchedMakes) != 0 {
		t.Errorf("patchedMakes = %+v, want skipped", backend.patchedMakes)
	}
	if len(backend.patchedModels) != 1 {
		t.Errorf("patchedModels = %d, want models unaffected", len(backend.patchedModels))
	}
}

func TestInsertFailureAttemptsAllTypes(t *testing.T) {
	backend := newFakeBackend()
	backend.errs["PatchMakes"] = errors.New("boom")

	_, err := run(t, backend, csvFile(csvRow("FORD", "FOCUS", "R/2020/001")))
	if err == nil {
		t.Fatal("Run = nil, want insert stage failure")
	}
	for _, op := range []string{"PatchRecalls", "PatchMakes", "PatchModels"} {
		if !backend.called(op) {
			t.Errorf("%s not attempted", op)
		}
	}
	if backend.called("DeleteRecalls") {
		t.Error("delete stage ran after failed insert stage")
	}
}

func TestInvalidRowWithoutPreviousIsDropped(t *testing.T) {
	backend := newFakeBackend()
	// Future launch date fails validation; no stored version exists.
	body := csvFile("01/04/2150,R/2020/001,FORD,brakes,hose wear,replace hose,10,FOCUS,,,,")
	_, err := run(t, backend, body)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(backend.patchedRecalls) != 0 {
		t.Errorf("patchedRecalls = %+v, want invalid record dropped", backend.patchedRecalls)
	}
	if len(backend.deletedRecalls) != 0 {
		t.Errorf("deletedRecalls = %v, want none", backend.deletedRecalls)
	}
}
