package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"recalls/internal/recall"
	"recalls/internal/remote"
	"recalls/internal/store/sqlite"
)

func newTestServer(t *testing.T, pageSize int) *httptest.Server {
	t.Helper()
	st, err := sqlite.Open(context.Background(), "file::memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	ts := httptest.NewServer(NewServer(st, pageSize).Routes())
	t.Cleanup(ts.Close)
	return ts
}

func rec(mk, model, number string) recall.Record {
	return recall.New(recall.Raw{
		LaunchDate:   "2023-04-01",
		RecallNumber: number,
		Make:         mk,
		Model:        model,
		Concern:      "brakes",
		Defect:       "hose wear",
		Remedy:       "replace hose",
		VehicleCount: "100",
	})
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestRecallsCRUD(t *testing.T) {
	ts := newTestServer(t, 500)

	a := rec("FORD", "FOCUS", "R/2023/001")
	b := rec("TOYOTA", "YARIS", "R/2023/002")
	resp := doJSON(t, http.MethodPatch, ts.URL+"/recalls", []recall.Record{a, b})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/recalls?make=FORD", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET status = %d", resp.StatusCode)
	}
	var page struct {
		Items            []recall.Record `json:"items"`
		LastEvaluatedKey string          `json:"lastEvaluatedKey"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Make != "FORD" {
		t.Fatalf("filtered items = %+v, want just FORD", page.Items)
	}
	if page.LastEvaluatedKey != "" {
		t.Errorf("lastEvaluatedKey = %q, want empty on final page", page.LastEvaluatedKey)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/recalls", []string{a.MakeModelRecallNumber})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}
	resp = doJSON(t, http.MethodGet, ts.URL+"/recalls", nil)
	page.Items = nil
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode after delete: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].Make != "TOYOTA" {
		t.Fatalf("items after delete = %+v, want just TOYOTA", page.Items)
	}
}

func TestModelsCRUD(t *testing.T) {
	ts := newTestServer(t, 500)

	seed := []recall.ModelRecord{
		{TypeMake: "vehicle-FORD", Models: []string{"FIESTA", "FOCUS"}},
		{TypeMake: "vehicle-TOYOTA", Models: []string{"YARIS"}},
	}
	if resp := doJSON(t, http.MethodPatch, ts.URL+"/models", seed); resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d", resp.StatusCode)
	}

	resp := doJSON(t, http.MethodDelete, ts.URL+"/models", []string{"vehicle-FORD"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("DELETE status = %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, ts.URL+"/models", nil)
	var page struct {
		Items []recall.ModelRecord `json:"items"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].TypeMake != "vehicle-TOYOTA" {
		t.Fatalf("items after delete = %+v, want just vehicle-TOYOTA", page.Items)
	}
}

func TestPagination(t *testing.T) {
	ts := newTestServer(t, 2)

	seed := []recall.Record{
		rec("A", "M", "R/2023/001"),
		rec("B", "M", "R/2023/002"),
		rec("C", "M", "R/2023/003"),
	}
	if resp := doJSON(t, http.MethodPatch, ts.URL+"/recalls", seed); resp.StatusCode != http.StatusOK {
		t.Fatalf("PATCH status = %d", resp.StatusCode)
	}

	var all []recall.Record
	url := ts.URL + "/recalls"
	for i := 0; ; i++ {
		resp := doJSON(t, http.MethodGet, url, nil)
		var page struct {
			Items            []recall.Record `json:"items"`
			LastEvaluatedKey string          `json:"lastEvaluatedKey"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
			t.Fatalf("decode page: %v", err)
		}
		all = append(all, page.Items...)
		if page.LastEvaluatedKey == "" {
			break
		}
		url = ts.URL + "/recalls?lastEvaluatedKey=" + page.LastEvaluatedKey
		if i > 5 {
			t.Fatal("pagination did not terminate")
		}
	}
	if len(all) != len(seed) {
		t.Fatalf("paged through %d items, want %d", len(all), len(seed))
	}
}

func TestMalformedBody(t *testing.T) {
	ts := newTestServer(t, 500)
	req, _ := http.NewRequest(http.MethodPatch, ts.URL+"/recalls", bytes.NewBufferString("{not json"))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	ts := newTestServer(t, 500)

	resp := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	if resp.Header.Get(remote.HeaderRequestID) == "" {
		t.Error("no request id generated for bare request")
	}

	req, _ := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	req.Header.Set(remote.HeaderRequestID, "abc123")
	resp2, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer resp2.Body.Close()
	if got := resp2.Header.Get(remote.HeaderRequestID); got != "abc123" {
		t.Errorf("request id = %q, want caller's id echoed", got)
	}
}

// TestRemoteClientAgainstServer drives the server through the same
// client the update job uses, pinning the wire contract between them.
func TestRemoteClientAgainstServer(t *testing.T) {
	ts := newTestServer(t, 2)
	client := remote.NewClient(remote.Config{BaseURL: ts.URL, Caller: "test", PageSize: 2})
	ctx := context.Background()

	seed := []recall.Record{
		rec("A", "M", "R/2023/001"),
		rec("B", "M", "R/2023/002"),
		rec("C", "M", "R/2023/003"),
	}
	if err := client.PatchRecalls(ctx, seed); err != nil {
		t.Fatalf("PatchRecalls: %v", err)
	}

	got, err := client.GetRecalls(ctx)
	if err != nil {
		t.Fatalf("GetRecalls: %v", err)
	}
	if len(got) != len(seed) {
		t.Fatalf("GetRecalls returned %d records, want %d across pages", len(got), len(seed))
	}

	mk := recall.MakeRecord{Type: "vehicle", Makes: []string{"A", "B", "C"}}
	if err := client.PatchMakes(ctx, []recall.MakeRecord{mk}); err != nil {
		t.Fatalf("PatchMakes: %v", err)
	}
	makes, err := client.GetMakes(ctx)
	if err != nil {
		t.Fatalf("GetMakes: %v", err)
	}
	if len(makes) != 1 || len(makes["vehicle"].Makes) != 3 {
		t.Fatalf("GetMakes = %+v", makes)
	}

	if err := client.DeleteRecalls(ctx, []string{seed[0].MakeModelRecallNumber}); err != nil {
		t.Fatalf("DeleteRecalls: %v", err)
	}
	got, err = client.GetRecalls(ctx)
	if err != nil {
		t.Fatalf("GetRecalls after delete: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("GetRecalls after delete = %d records, want 2", len(got))
	}
}
