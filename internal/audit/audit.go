// Package audit defines the append-only log of triage decisions.
//
// Records are written exactly once per triage request and never updated or
// deleted. Stores assign the numeric id and the UTC creation time; callers
// supply everything else, including the trace id. Several records may share
// a trace id, in which case the most recently appended one is authoritative.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/linnemanlabs/soctriage/internal/incident"
)

const (
	// DefaultLimit is used when a list filter does not set one.
	DefaultLimit = 50
	// MaxLimit caps a single list query.
	MaxLimit = 200
)

// ErrInvalidRecord is returned by Append when a record is missing required fields.
var ErrInvalidRecord = errors.New("invalid audit record")

// SourceRef points at one piece of retrieved evidence.
type SourceRef struct {
	DocID   string   `json:"doc_id"`
	ChunkID string   `json:"chunk_id,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

// Record is one audited triage decision.
type Record struct {
	ID         int64             `json:"id"`
	TraceID    string            `json:"trace_id"`
	CreatedAt  time.Time         `json:"created_at"`
	Source     string            `json:"source"`
	EventText  string            `json:"event_text"`
	Category   incident.Category `json:"category"`
	Severity   incident.Severity `json:"severity"`
	Confidence float64           `json:"confidence"`
	Route      string            `json:"route"`
	LatencyMS  int64             `json:"latency_ms"`
	RAGSources []SourceRef       `json:"rag_sources"`
	// Response is the full serialized triage response, kept for replay.
	Response json.RawMessage `json:"response"`
}

// Validate checks the fields every store requires.
func (r *Record) Validate() error {
	var errs []error
	if r.TraceID == "" {
		errs = append(errs, errors.New("trace_id is required"))
	}
	if r.EventText == "" {
		errs = append(errs, errors.New("event_text is required"))
	}
	if len(r.Response) > 0 && !json.Valid(r.Response) {
		errs = append(errs, errors.New("response is not valid JSON"))
	}
	if err := errors.Join(errs...); err != nil {
		return errors.Join(ErrInvalidRecord, err)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	cp := *r
	if r.RAGSources != nil {
		cp.RAGSources = make([]SourceRef, len(r.RAGSources))
		for i, s := range r.RAGSources {
			if s.Score != nil {
				score := *s.Score
				s.Score = &score
			}
			cp.RAGSources[i] = s
		}
	}
	if r.Response != nil {
		cp.Response = append(json.RawMessage(nil), r.Response...)
	}
	return &cp
}

// normalize fills the empty-payload defaults applied on write.
func (r *Record) normalize() {
	if r.RAGSources == nil {
		r.RAGSources = []SourceRef{}
	}
	if len(r.Response) == 0 {
		r.Response = json.RawMessage(`{}`)
	}
}

// Prepare validates r and fills empty payload defaults. Stores call it
// before writing.
func Prepare(r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	r.normalize()
	return nil
}

// Filter selects records for List. Zero-valued fields do not constrain.
// From and To are inclusive.
type Filter struct {
	Category incident.Category
	Severity incident.Severity
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

// Normalized returns f with Limit clamped to [1, MaxLimit] (0 meaning
// DefaultLimit) and a non-negative Offset.
func (f Filter) Normalized() Filter {
	switch {
	case f.Limit <= 0:
		f.Limit = DefaultLimit
	case f.Limit > MaxLimit:
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

// Matches reports whether r satisfies the filter's predicates. Paging is
// not considered.
func (f Filter) Matches(r *Record) bool {
	if f.Category != "" && r.Category != f.Category {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if !f.From.IsZero() && r.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.CreatedAt.After(f.To) {
		return false
	}
	return true
}

// Store is the persistence interface for the audit log.
type Store interface {
	// Append assigns r.ID and r.CreatedAt and writes the record. A failed
	// write is always returned to the caller.
	Append(ctx context.Context, r *Record) error
	// GetLatestByTrace returns the newest record with the given trace id.
	GetLatestByTrace(ctx context.Context, traceID string) (*Record, bool, error)
	// List returns matching records, newest first.
	List(ctx context.Context, f Filter) ([]Record, error)
}
