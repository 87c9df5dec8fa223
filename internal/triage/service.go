package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/rag"
	"github.com/linnemanlabs/soctriage/internal/router"
)

var tracer = otel.Tracer("github.com/linnemanlabs/soctriage/internal/triage")

// Retriever finds playbook evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int, category incident.Category) ([]rag.Hit, error)
}

// Notifier delivers triage results to people.
type Notifier interface {
	Send(ctx context.Context, r *Result) error
}

// Option configures a Service.
type Option func(*Service)

// WithRetriever enables evidence lookups.
func WithRetriever(r Retriever) Option {
	return func(s *Service) { s.retriever = r }
}

// WithEvidenceTopK sets the number of hits returned when an evidence request
// omits k. Values outside 1..MaxEvidenceK are ignored.
func WithEvidenceTopK(k int) Option {
	return func(s *Service) {
		if k >= 1 && k <= MaxEvidenceK {
			s.defaultK = k
		}
	}
}

// WithNotifier sends every result at or above minSeverity to n. An invalid
// minSeverity means P1.
func WithNotifier(n Notifier, minSeverity incident.Severity) Option {
	return func(s *Service) {
		s.notifier = n
		if minSeverity.Valid() {
			s.notifyMin = minSeverity
		}
	}
}

// WithHooks installs metric callbacks.
func WithHooks(h Hooks) Option {
	return func(s *Service) { s.hooks = h }
}

// WithClock overrides the time source used for latency.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service is the business boundary for triage operations.
type Service struct {
	router    *router.Router
	store     audit.Store
	retriever Retriever
	defaultK  int
	notifier  Notifier
	notifyMin incident.Severity
	hooks     Hooks
	logger    log.Logger
	now       func() time.Time

	// pending tracks in-flight notifications.
	pending sync.WaitGroup
}

// NewService creates a triage service.
func NewService(r *router.Router, store audit.Store, logger log.Logger, opts ...Option) *Service {
	if r == nil {
		panic(xerrors.New("triage.NewService: router is nil"))
	}
	if store == nil {
		panic(xerrors.New("triage.NewService: audit store is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	s := &Service{
		router:    r,
		store:     store,
		logger:    logger,
		now:       time.Now,
		defaultK:  rag.DefaultTopK,
		notifyMin: incident.SeverityP1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Triage classifies req, records the decision in the audit log and returns
// the rendered result. Invalid requests return ErrInvalidRequest and leave
// no audit record. A failed audit write fails the request.
func (s *Service) Triage(ctx context.Context, req Request) (*Result, error) {
	ctx, span := tracer.Start(ctx, "triage.Triage")
	defer span.End()
	start := s.now()

	if err := req.Validate(); err != nil {
		if s.hooks.OnRejected != nil {
			s.hooks.OnRejected()
		}
		return nil, spanFail(span, err)
	}
	source := req.Source
	if source == "" {
		source = DefaultSource
	}

	d := s.router.Route(req.EventText)
	tpl := TemplateFor(d.Category)
	traceID := uuid.NewString()

	span.SetAttributes(
		attribute.String("soctriage.trace_id", traceID),
		attribute.String("soctriage.category", string(d.Category)),
		attribute.String("soctriage.severity", string(d.Severity)),
		attribute.String("soctriage.route", d.RuleTag),
	)

	res := &Result{
		TraceID:            traceID,
		Category:           d.Category,
		Severity:           d.Severity,
		Confidence:         d.Confidence,
		Summary:            tpl.Summary,
		Rationale:          tpl.Rationale,
		RecommendedActions: tpl.RecommendedActions,
		EvidenceToCollect:  tpl.EvidenceToCollect,
		Sources:            []audit.SourceRef{},
		LatencyMS:          s.now().Sub(start).Milliseconds(),
	}

	if err := s.record(ctx, res, source, req.EventText, d.RuleTag); err != nil {
		if s.hooks.OnAuditError != nil {
			s.hooks.OnAuditError()
		}
		s.logger.Error(ctx, err, "audit write failed", "trace_id", traceID)
		return nil, spanFail(span, err)
	}

	s.logger.Info(ctx, "triage complete",
		"trace_id", traceID,
		"category", d.Category,
		"severity", d.Severity,
		"route", d.RuleTag,
		"latency_ms", res.LatencyMS,
	)

	if s.notifier != nil && d.Severity.AtLeast(s.notifyMin) {
		cp := *res
		s.pending.Add(1)
		go s.notify(context.WithoutCancel(ctx), &cp)
	}

	if s.hooks.OnTriage != nil {
		s.hooks.OnTriage(d, s.now().Sub(start))
	}
	return res, nil
}

// record appends the audit entry for res. The write is detached from the
// caller's cancellation so an aborted request does not interrupt it.
func (s *Service) record(ctx context.Context, res *Result, source, eventText, route string) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	rec := &audit.Record{
		TraceID:    res.TraceID,
		Source:     source,
		EventText:  eventText,
		Category:   res.Category,
		Severity:   res.Severity,
		Confidence: res.Confidence,
		Route:      route,
		LatencyMS:  res.LatencyMS,
		RAGSources: res.Sources,
		Response:   payload,
	}
	if err := s.store.Append(context.WithoutCancel(ctx), rec); err != nil {
		return fmt.Errorf("write audit: %w", err)
	}
	return nil
}

func (s *Service) notify(ctx context.Context, res *Result) {
	defer s.pending.Done()

	outcome := "sent"
	if err := s.notifier.Send(ctx, res); err != nil {
		outcome = "error"
		s.logger.Error(ctx, err, "notification failed", "trace_id", res.TraceID)
	}
	if s.hooks.OnNotify != nil {
		s.hooks.OnNotify(outcome)
	}
}

// Wait blocks until in-flight notifications finish or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetAudit returns the newest audit record for traceID.
func (s *Service) GetAudit(ctx context.Context, traceID string) (*audit.Record, bool, error) {
	return s.store.GetLatestByTrace(ctx, traceID)
}

// ListAudit returns audit records matching f, newest first.
func (s *Service) ListAudit(ctx context.Context, f audit.Filter) ([]audit.Record, error) {
	return s.store.List(ctx, f)
}

// Evidence returns playbook chunks relevant to req. Retrieval failures are
// logged and answered with an empty result; only invalid requests error.
func (s *Service) Evidence(ctx context.Context, req EvidenceRequest) (*Evidence, error) {
	ctx, span := tracer.Start(ctx, "triage.Evidence")
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, spanFail(span, err)
	}
	if strings.TrimSpace(req.Query) == "" {
		return nil, spanFail(span, fmt.Errorf("%w: query is blank", ErrInvalidRequest))
	}
	k := req.K
	if k <= 0 {
		k = s.defaultK
	}

	empty := &Evidence{Hits: []rag.Hit{}, Sources: []audit.SourceRef{}}
	if s.retriever == nil {
		s.evidenceOutcome("disabled", 0)
		return empty, nil
	}

	hits, err := s.retriever.Retrieve(ctx, req.Query, k, req.Category)
	if err != nil {
		outcome := "error"
		if errors.Is(err, rag.ErrCollectionNotFound) {
			outcome = "no_collection"
		}
		s.logger.Warn(ctx, "evidence retrieval failed, returning no hits",
			"err", err,
			"category", req.Category,
			"k", k,
		)
		span.RecordError(err)
		s.evidenceOutcome(outcome, 0)
		return empty, nil
	}

	span.SetAttributes(attribute.Int("rag.hits", len(hits)))
	s.evidenceOutcome("ok", len(hits))
	if hits == nil {
		hits = []rag.Hit{}
	}
	return &Evidence{Hits: hits, Sources: SourceRefs(hits)}, nil
}

func (s *Service) evidenceOutcome(outcome string, hits int) {
	if s.hooks.OnEvidence != nil {
		s.hooks.OnEvidence(outcome, hits)
	}
}

func spanFail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
