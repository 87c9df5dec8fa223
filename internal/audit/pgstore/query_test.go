package pgstore

import (
	"strings"
	"testing"
	"time"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
)

func TestBuildListQuery(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)

	tests := []struct {
		name      string
		f         audit.Filter
		wantWhere string
		wantArgs  int
	}{
		{"no filters", audit.Filter{}, "", 2},
		{"category", audit.Filter{Category: incident.CategoryPhishing}, " WHERE category = $1", 3},
		{"severity", audit.Filter{Severity: incident.SeverityP1}, " WHERE severity = $1", 3},
		{
			"all filters",
			audit.Filter{Category: incident.CategoryBruteforce, Severity: incident.SeverityP2, From: from, To: to},
			" WHERE category = $1 AND severity = $2 AND created_at >= $3 AND created_at <= $4",
			6,
		},
		{"time only", audit.Filter{To: to}, " WHERE created_at <= $1", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			q, args := buildListQuery(tt.f.Normalized())

			if len(args) != tt.wantArgs {
				t.Fatalf("args = %v, want %d values", args, tt.wantArgs)
			}
			if tt.wantWhere == "" && strings.Contains(q, "WHERE") {
				t.Errorf("unexpected WHERE in %q", q)
			}
			if tt.wantWhere != "" && !strings.Contains(q, tt.wantWhere+" ORDER BY") {
				t.Errorf("query %q does not contain %q", q, tt.wantWhere)
			}
			if !strings.Contains(q, "ORDER BY created_at DESC, id DESC") {
				t.Errorf("query %q missing ordering", q)
			}
			if args[len(args)-2] != audit.DefaultLimit || args[len(args)-1] != 0 {
				t.Errorf("paging args = %v, %v, want %d, 0", args[len(args)-2], args[len(args)-1], audit.DefaultLimit)
			}
		})
	}
}

func TestBuildListQuery_PagingPlaceholders(t *testing.T) {
	t.Parallel()

	q, args := buildListQuery(audit.Filter{Category: incident.CategoryUnknown, Limit: 500, Offset: 7}.Normalized())
	if !strings.HasSuffix(q, "LIMIT $2 OFFSET $3") {
		t.Errorf("query %q, want LIMIT $2 OFFSET $3 suffix", q)
	}
	if args[1] != audit.MaxLimit || args[2] != 7 {
		t.Errorf("args = %v, want limit %d offset 7", args, audit.MaxLimit)
	}
}
