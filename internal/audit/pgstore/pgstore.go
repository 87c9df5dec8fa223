// Package pgstore provides a PostgreSQL implementation of audit.Store.
package pgstore

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/soctriage/internal/audit/pgstore")

//go:embed schema.sql
var schema string

// Store persists audit records in the audit_log table.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// New applies the schema on pool and returns a ready Store. The caller
// owns the pool.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool, now: time.Now}, nil
}

const auditColumns = `id, trace_id, created_at, COALESCE(source, ''), event_text,
	COALESCE(category, ''), COALESCE(severity, ''), COALESCE(confidence, 0), COALESCE(route, ''),
	COALESCE(latency_ms, 0), rag_sources, response`

func startSpan(ctx context.Context, name, op string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation.name", op),
		attribute.String("db.collection.name", "audit_log"),
	))
}

func fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

// Append inserts r and fills in the id and creation time assigned on write.
func (s *Store) Append(ctx context.Context, r *audit.Record) error {
	ctx, span := startSpan(ctx, "pgstore.Append", "INSERT")
	defer span.End()

	if err := audit.Prepare(r); err != nil {
		return fail(span, err)
	}
	sources, err := json.Marshal(r.RAGSources)
	if err != nil {
		return fail(span, fmt.Errorf("marshal rag_sources: %w", err))
	}

	// microsecond precision matches TIMESTAMPTZ so the returned record equals what is read back
	createdAt := s.now().UTC().Truncate(time.Microsecond)

	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO audit_log
			(trace_id, created_at, source, event_text, category, severity, confidence, route, latency_ms, rag_sources, response)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		r.TraceID, createdAt, r.Source, r.EventText, string(r.Category), string(r.Severity),
		r.Confidence, r.Route, r.LatencyMS, string(sources), string(r.Response),
	).Scan(&id)
	if err != nil {
		return fail(span, fmt.Errorf("insert audit record: %w", err))
	}

	r.ID = id
	r.CreatedAt = createdAt
	span.SetAttributes(attribute.Int64("audit.id", id), attribute.String("audit.trace_id", r.TraceID))
	return nil
}

// GetLatestByTrace returns the highest-id record for traceID.
func (s *Store) GetLatestByTrace(ctx context.Context, traceID string) (*audit.Record, bool, error) {
	ctx, span := startSpan(ctx, "pgstore.GetLatestByTrace", "SELECT")
	defer span.End()

	query := `SELECT ` + auditColumns + ` FROM audit_log WHERE trace_id = $1 ORDER BY id DESC LIMIT 1`
	r, err := scanRecord(s.pool.QueryRow(ctx, query, traceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fail(span, err)
	}
	return r, true, nil
}

// List returns matching records ordered by created_at descending.
func (s *Store) List(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	ctx, span := startSpan(ctx, "pgstore.List", "SELECT")
	defer span.End()

	query, args := buildListQuery(f.Normalized())
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fail(span, fmt.Errorf("query audit_log: %w", err))
	}
	defer rows.Close()

	out := []audit.Record{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fail(span, err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fail(span, fmt.Errorf("iterate audit_log: %w", err))
	}
	span.SetAttributes(attribute.Int("db.response.returned_rows", len(out)))
	return out, nil
}

// buildListQuery renders the filtered list query. f must be normalized.
func buildListQuery(f audit.Filter) (string, []any) {
	var (
		sb    strings.Builder
		args  []any
		conds []string
	)
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if f.Category != "" {
		conds = append(conds, "category = "+arg(string(f.Category)))
	}
	if f.Severity != "" {
		conds = append(conds, "severity = "+arg(string(f.Severity)))
	}
	if !f.From.IsZero() {
		conds = append(conds, "created_at >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		conds = append(conds, "created_at <= "+arg(f.To))
	}

	sb.WriteString(`SELECT ` + auditColumns + ` FROM audit_log`)
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC, id DESC")
	sb.WriteString(" LIMIT " + arg(f.Limit) + " OFFSET " + arg(f.Offset))
	return sb.String(), args
}

func scanRecord(row pgx.Row) (*audit.Record, error) {
	var (
		r                 audit.Record
		category          string
		severity          string
		sources, response []byte
	)
	err := row.Scan(
		&r.ID, &r.TraceID, &r.CreatedAt, &r.Source, &r.EventText,
		&category, &severity, &r.Confidence, &r.Route,
		&r.LatencyMS, &sources, &response,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan: %w", err)
	}

	r.CreatedAt = r.CreatedAt.UTC()
	r.Category = incident.Category(category)
	r.Severity = incident.Severity(severity)

	r.RAGSources = []audit.SourceRef{}
	if len(sources) > 0 {
		if err := json.Unmarshal(sources, &r.RAGSources); err != nil {
			return nil, fmt.Errorf("unmarshal rag_sources: %w", err)
		}
	}
	r.Response = json.RawMessage(`{}`)
	if len(response) > 0 {
		r.Response = json.RawMessage(response)
	}
	return &r, nil
}
