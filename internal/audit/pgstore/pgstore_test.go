package pgstore_test

import (
	"context"
	"encoding/json"
	"os"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/audit/pgstore"
	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/postgres"
)

func openStore(t *testing.T) *pgstore.Store {
	t.Helper()
	dsn := os.Getenv("SOCTRIAGE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("SOCTRIAGE_TEST_DATABASE_URL not set, skipping integration test")
	}
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, dsn)
	if err != nil {
		t.Fatalf("postgres.NewPool: %v", err)
	}
	t.Cleanup(pool.Close)

	s, err := pgstore.New(ctx, pool)
	if err != nil {
		t.Fatalf("pgstore.New: %v", err)
	}
	return s
}

func jsonEqual(t *testing.T, field string, want, got []byte) {
	t.Helper()
	var w, g any
	if err := json.Unmarshal(want, &w); err != nil {
		t.Fatalf("%s: unmarshal want: %v", field, err)
	}
	if err := json.Unmarshal(got, &g); err != nil {
		t.Fatalf("%s: unmarshal got: %v", field, err)
	}
	if !reflect.DeepEqual(w, g) {
		t.Errorf("%s = %s, want %s", field, got, want)
	}
}

func TestAppendAndGetLatest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	score := 0.12
	trace := uuid.NewString()
	r := &audit.Record{
		TraceID:    trace,
		Source:     "siem",
		EventText:  "New device login success for user X",
		Category:   incident.CategoryAccountTakeover,
		Severity:   incident.SeverityP1,
		Confidence: 0.85,
		Route:      "rules:ato",
		LatencyMS:  3,
		RAGSources: []audit.SourceRef{{DocID: "account_takeover.md", ChunkID: "c00002", Score: &score}},
		Response:   json.RawMessage(`{"trace_id":"` + trace + `","summary":"Подозрение","rationale":["a","b"]}`),
	}
	if err := s.Append(ctx, r); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if r.ID == 0 {
		t.Error("Append did not assign an id")
	}

	got, ok, err := s.GetLatestByTrace(ctx, trace)
	if err != nil {
		t.Fatalf("GetLatestByTrace: %v", err)
	}
	if !ok {
		t.Fatal("GetLatestByTrace returned ok=false")
	}

	if got.ID != r.ID || got.Category != r.Category || got.Severity != r.Severity ||
		got.Confidence != r.Confidence || got.EventText != r.EventText || got.Source != r.Source {
		t.Errorf("record mismatch:\n got  %+v\n want %+v", got, r)
	}
	if !got.CreatedAt.Equal(r.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, r.CreatedAt)
	}
	jsonEqual(t, "Response", r.Response, got.Response)

	wantSources, _ := json.Marshal(r.RAGSources)
	gotSources, _ := json.Marshal(got.RAGSources)
	jsonEqual(t, "RAGSources", wantSources, gotSources)
}

func TestGetLatestByTrace_NewestWins(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	trace := uuid.NewString()

	for _, cat := range []incident.Category{incident.CategoryUnknown, incident.CategoryPhishing} {
		r := &audit.Record{TraceID: trace, EventText: "retry event", Category: cat, Severity: incident.SeverityP3}
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, ok, err := s.GetLatestByTrace(ctx, trace)
	if err != nil || !ok {
		t.Fatalf("GetLatestByTrace: ok=%v err=%v", ok, err)
	}
	if got.Category != incident.CategoryPhishing {
		t.Errorf("Category = %q, want phishing (newest)", got.Category)
	}
	if len(got.RAGSources) != 0 || string(got.Response) != "{}" {
		t.Errorf("empty payloads = (%v, %s), want ([], {})", got.RAGSources, got.Response)
	}
}

func TestGetLatestByTrace_Missing(t *testing.T) {
	s := openStore(t)

	_, ok, err := s.GetLatestByTrace(context.Background(), uuid.NewString())
	if err != nil {
		t.Fatalf("GetLatestByTrace: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false")
	}
}

func TestList_FilterAndPaging(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// a source label unique to this run keeps assertions independent of other rows
	src := "test-" + uuid.NewString()
	start := time.Now().UTC().Add(-time.Second)
	var traces []string
	for range 4 {
		tr := uuid.NewString()
		traces = append(traces, tr)
		r := &audit.Record{TraceID: tr, Source: src, EventText: "phishing email link", Category: incident.CategoryPhishing, Severity: incident.SeverityP4}
		if err := s.Append(ctx, r); err != nil {
			t.Fatalf("Append: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}

	got, err := s.List(ctx, audit.Filter{Category: incident.CategoryPhishing, Severity: incident.SeverityP4, From: start, Limit: audit.MaxLimit})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	var mine []string
	for _, r := range got {
		if r.Category != incident.CategoryPhishing || r.Severity != incident.SeverityP4 {
			t.Fatalf("filter leaked record %+v", r)
		}
		if r.Source == src {
			mine = append(mine, r.TraceID)
		}
	}
	want := []string{traces[3], traces[2], traces[1], traces[0]}
	if !reflect.DeepEqual(mine, want) {
		t.Errorf("order = %v, want %v", mine, want)
	}

	page, err := s.List(ctx, audit.Filter{Category: incident.CategoryPhishing, Severity: incident.SeverityP4, From: start, Limit: 1})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 1 {
		t.Errorf("len = %d, want 1", len(page))
	}
}
