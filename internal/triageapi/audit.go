package triageapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
)

func (a *API) handleGetAudit(w http.ResponseWriter, r *http.Request) {
	traceID := chi.URLParam(r, "trace_id")

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("soctriage.trace_id", traceID))

	rec, ok, err := a.svc.GetAudit(r.Context(), traceID)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to get audit record", "trace_id", traceID)
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "not found", "")
		return
	}

	span.SetAttributes(attribute.String("soctriage.category", string(rec.Category)))
	writeJSON(w, http.StatusOK, rec)
}

func (a *API) handleListAudit(w http.ResponseWriter, r *http.Request) {
	f, err := parseListFilter(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid query", err.Error())
		return
	}

	recs, err := a.svc.ListAudit(r.Context(), f)
	if err != nil {
		a.logger.Error(r.Context(), err, "failed to list audit records")
		writeError(w, http.StatusInternalServerError, "internal error", "")
		return
	}
	if recs == nil {
		recs = []audit.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// parseListFilter reads category, severity, time_from, time_to, limit and
// offset. Every malformed parameter is reported.
func parseListFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{Limit: audit.DefaultLimit}
	var errs []error

	if v := q.Get("category"); v != "" {
		c, err := incident.ParseCategory(v)
		if err != nil {
			errs = append(errs, err)
		}
		f.Category = c
	}
	if v := q.Get("severity"); v != "" {
		s, err := incident.ParseSeverity(v)
		if err != nil {
			errs = append(errs, err)
		}
		f.Severity = s
	}
	if v := q.Get("time_from"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("time_from: %w", err))
		}
		f.From = t
	}
	if v := q.Get("time_to"); v != "" {
		t, err := parseTime(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("time_to: %w", err))
		}
		f.To = t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > audit.MaxLimit {
			errs = append(errs, fmt.Errorf("limit must be an integer between 1 and %d", audit.MaxLimit))
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			errs = append(errs, errors.New("offset must be a non-negative integer"))
		}
		f.Offset = n
	}

	if err := errors.Join(errs...); err != nil {
		return audit.Filter{}, err
	}
	return f, nil
}

// timeLayouts are the ISO-8601 forms accepted for time filters. Fractional
// seconds are accepted after any layout with seconds.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// parseTime parses an ISO-8601 timestamp. Values without a zone are UTC.
func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid ISO-8601 time %q", s)
}
