package memstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
)

// stepClock returns base, base+1s, base+2s, ...
func stepClock(base time.Time) func() time.Time {
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t := base.Add(time.Duration(n) * time.Second)
		n++
		return t
	}
}

func newRecord(trace string, cat incident.Category, sev incident.Severity) *audit.Record {
	return &audit.Record{
		TraceID:    trace,
		Source:     "manual",
		EventText:  "event for " + trace,
		Category:   cat,
		Severity:   sev,
		Confidence: 0.5,
		Route:      "rules:test",
		Response:   json.RawMessage(`{"trace_id":"` + trace + `"}`),
	}
}

func TestStore_AppendAssignsIDAndTime(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.FixedZone("MSK", 3*3600))
	s := New(WithClock(stepClock(base)))
	ctx := context.Background()

	r1 := newRecord("t-1", incident.CategoryPhishing, incident.SeverityP2)
	r2 := newRecord("t-2", incident.CategoryPhishing, incident.SeverityP2)
	if err := s.Append(ctx, r1); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, r2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	if r1.ID != 1 || r2.ID != 2 {
		t.Errorf("ids = (%d, %d), want (1, 2)", r1.ID, r2.ID)
	}
	if r1.CreatedAt.Location() != time.UTC {
		t.Errorf("CreatedAt location = %v, want UTC", r1.CreatedAt.Location())
	}
	if !r1.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", r1.CreatedAt, base)
	}
}

func TestStore_AppendRejectsInvalid(t *testing.T) {
	t.Parallel()

	s := New()
	err := s.Append(context.Background(), &audit.Record{EventText: "no trace"})
	if !errors.Is(err, audit.ErrInvalidRecord) {
		t.Fatalf("err = %v, want ErrInvalidRecord", err)
	}
	got, _ := s.List(context.Background(), audit.Filter{})
	if len(got) != 0 {
		t.Errorf("List returned %d records after rejected append", len(got))
	}
}

func TestStore_GetLatestByTrace(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	first := newRecord("retry", incident.CategoryUnknown, incident.SeverityP3)
	second := newRecord("retry", incident.CategoryPhishing, incident.SeverityP2)
	_ = s.Append(ctx, first)
	_ = s.Append(ctx, newRecord("other", incident.CategoryBruteforce, incident.SeverityP2))
	_ = s.Append(ctx, second)

	got, ok, err := s.GetLatestByTrace(ctx, "retry")
	if err != nil {
		t.Fatalf("GetLatestByTrace: %v", err)
	}
	if !ok {
		t.Fatal("expected record to be found")
	}
	if got.ID != second.ID {
		t.Errorf("ID = %d, want %d (newest)", got.ID, second.ID)
	}
	if got.Category != incident.CategoryPhishing {
		t.Errorf("Category = %q, want phishing", got.Category)
	}
	if string(got.Response) != string(second.Response) {
		t.Errorf("Response = %s, want %s", got.Response, second.Response)
	}
}

func TestStore_GetLatestByTraceMissing(t *testing.T) {
	t.Parallel()

	_, ok, err := New().GetLatestByTrace(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetLatestByTrace: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for unknown trace")
	}
}

func TestStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	r := newRecord("copy", incident.CategoryPhishing, incident.SeverityP2)
	_ = s.Append(ctx, r)

	// mutate caller's record after append
	r.EventText = "changed"
	r.Response[0] = '['

	got, _, _ := s.GetLatestByTrace(ctx, "copy")
	if got.EventText != "event for copy" {
		t.Errorf("EventText = %q, store kept caller's pointer", got.EventText)
	}
	got.Category = incident.CategoryUnknown

	again, _, _ := s.GetLatestByTrace(ctx, "copy")
	if again.Category != incident.CategoryPhishing {
		t.Error("mutating a returned record changed the store")
	}
}

func TestStore_ListOrderingAndFilters(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(stepClock(base)))
	ctx := context.Background()

	// t-0 .. t-5 at base+0s .. base+5s
	cats := []incident.Category{
		incident.CategoryPhishing, incident.CategoryBruteforce, incident.CategoryPhishing,
		incident.CategoryAccountTakeover, incident.CategoryPhishing, incident.CategoryUnknown,
	}
	for i, c := range cats {
		sev := incident.SeverityP2
		if c == incident.CategoryAccountTakeover {
			sev = incident.SeverityP1
		}
		if err := s.Append(ctx, newRecord(fmt.Sprintf("t-%d", i), c, sev)); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	tests := []struct {
		name string
		f    audit.Filter
		want []string
	}{
		{"all newest first", audit.Filter{}, []string{"t-5", "t-4", "t-3", "t-2", "t-1", "t-0"}},
		{"category", audit.Filter{Category: incident.CategoryPhishing}, []string{"t-4", "t-2", "t-0"}},
		{"severity", audit.Filter{Severity: incident.SeverityP1}, []string{"t-3"}},
		{"limit", audit.Filter{Limit: 2}, []string{"t-5", "t-4"}},
		{"offset", audit.Filter{Limit: 2, Offset: 2}, []string{"t-3", "t-2"}},
		{"offset past end", audit.Filter{Offset: 10}, []string{}},
		{"category with paging", audit.Filter{Category: incident.CategoryPhishing, Limit: 1, Offset: 1}, []string{"t-2"}},
		{"time range inclusive", audit.Filter{From: base.Add(1 * time.Second), To: base.Add(3 * time.Second)}, []string{"t-3", "t-2", "t-1"}},
		{"time and category", audit.Filter{Category: incident.CategoryPhishing, From: base.Add(time.Second)}, []string{"t-4", "t-2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := s.List(ctx, tt.f)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			ids := make([]string, len(got))
			for i, r := range got {
				ids[i] = r.TraceID
			}
			if fmt.Sprint(ids) != fmt.Sprint(tt.want) {
				t.Errorf("List = %v, want %v", ids, tt.want)
			}
		})
	}
}

func TestStore_ListLimitCapped(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	for i := range audit.MaxLimit + 10 {
		_ = s.Append(ctx, newRecord(fmt.Sprintf("t-%d", i), incident.CategoryUnknown, incident.SeverityP3))
	}

	got, err := s.List(ctx, audit.Filter{Limit: 1000})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != audit.MaxLimit {
		t.Errorf("len = %d, want %d", len(got), audit.MaxLimit)
	}

	got, _ = s.List(ctx, audit.Filter{})
	if len(got) != audit.DefaultLimit {
		t.Errorf("len = %d, want default %d", len(got), audit.DefaultLimit)
	}
}

func TestStore_ListTiesBrokenByNewestID(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := New(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c"} {
		_ = s.Append(ctx, newRecord(id, incident.CategoryUnknown, incident.SeverityP3))
	}

	got, _ := s.List(ctx, audit.Filter{})
	if got[0].TraceID != "c" || got[2].TraceID != "a" {
		t.Errorf("order = %s,%s,%s, want c,b,a", got[0].TraceID, got[1].TraceID, got[2].TraceID)
	}
}

func TestStore_ConcurrentAppend(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Append(ctx, newRecord(fmt.Sprintf("c-%d", i), incident.CategoryUnknown, incident.SeverityP3))
		}()
	}
	wg.Wait()

	got, _ := s.List(ctx, audit.Filter{Limit: audit.MaxLimit})
	if len(got) != 50 {
		t.Fatalf("len = %d, want 50", len(got))
	}
	seen := make(map[int64]bool)
	for _, r := range got {
		if seen[r.ID] {
			t.Fatalf("duplicate id %d", r.ID)
		}
		seen[r.ID] = true
	}
}
