package triage

import (
	"github.com/linnemanlabs/soctriage/internal/audit"
	"github.com/linnemanlabs/soctriage/internal/incident"
	"github.com/linnemanlabs/soctriage/internal/rag"
)

// DefaultSource is recorded when a request does not name its origin.
const DefaultSource = "manual"

// Request is one triage submission.
type Request struct {
	EventText string `json:"event_text"`
	Source    string `json:"source,omitempty"`
	// Artifacts are accepted and validated as an object but not used for routing.
	Artifacts map[string]any `json:"artifacts,omitempty"`
}

// Result is the triage response. It is also stored verbatim in the audit
// record's response field.
type Result struct {
	TraceID            string            `json:"trace_id"`
	Category           incident.Category `json:"category"`
	Severity           incident.Severity `json:"severity"`
	Confidence         float64           `json:"confidence"`
	Summary            string            `json:"summary"`
	Rationale          []string          `json:"rationale"`
	RecommendedActions []string          `json:"recommended_actions"`
	EvidenceToCollect  []string          `json:"evidence_to_collect"`
	Sources            []audit.SourceRef `json:"sources"`
	LatencyMS          int64             `json:"latency_ms"`
}

// EvidenceRequest asks for playbook chunks relevant to a query.
type EvidenceRequest struct {
	Query    string            `json:"query"`
	K        int               `json:"k,omitempty"`
	Category incident.Category `json:"category,omitempty"`
}

// Evidence is the answer to an EvidenceRequest.
type Evidence struct {
	Hits    []rag.Hit         `json:"hits"`
	Sources []audit.SourceRef `json:"sources"`
}

// SourceRefs converts retrieval hits into audit references.
func SourceRefs(hits []rag.Hit) []audit.SourceRef {
	refs := make([]audit.SourceRef, len(hits))
	for i, h := range hits {
		score := h.Score
		refs[i] = audit.SourceRef{DocID: h.DocID, ChunkID: h.ChunkID, Score: &score}
	}
	return refs
}
