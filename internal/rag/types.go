// Package rag turns a playbook corpus into searchable chunks and answers
// filtered nearest-neighbour queries against it.
//
// Ingestion (Ingestor) is an offline batch job: it walks the corpus, splits
// every document, infers classification metadata from the file name, embeds
// every chunk and replaces the named collection in one write. Retrieval
// (Retriever) embeds a query and searches the same collection, always
// restricted to playbooks and optionally to one category.
//
// Scores are cosine distances (1 - cosine similarity): lower is closer,
// and hits are returned closest first.
package rag

import (
	"context"
	"errors"
	"time"
)

// Metadata keys written on every chunk.
const (
	KeyDocID       = "doc_id"
	KeyChunkID     = "chunk_id"
	KeyDocType     = "doc_type"
	KeyCategory    = "category_primary"
	KeySource      = "source"
	KeyTitle       = "title"
	KeyContentHash = "content_hash"
)

// Document types assigned by metadata inference.
const (
	DocTypePlaybook    = "playbook"
	DocTypePolicy      = "policy"
	DocTypeMethodology = "methodology"
)

// ErrCollectionNotFound is returned when searching a collection that has
// never been ingested.
var ErrCollectionNotFound = errors.New("collection not found")

// Metadata holds scalar chunk attributes (string, bool, integer or float).
type Metadata map[string]any

// String returns the value under key if it is a string.
func (m Metadata) String(key string) string {
	s, _ := m[key].(string)
	return s
}

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (m Metadata) Clone() Metadata {
	cp := make(Metadata, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// Record is one chunk as written to an index.
type Record struct {
	ChunkID   string
	Text      string
	Metadata  Metadata
	Embedding []float64
}

// Hit is one search result.
type Hit struct {
	DocID    string   `json:"doc_id"`
	ChunkID  string   `json:"chunk_id,omitempty"`
	Score    float64  `json:"score"`
	Text     string   `json:"text"`
	Metadata Metadata `json:"metadata"`
}

// CollectionInfo describes the ingestion run that produced a collection.
type CollectionInfo struct {
	Name           string    `json:"name"`
	RunID          string    `json:"run_id"`
	EmbeddingModel string    `json:"embedding_model"`
	Dimensions     int       `json:"dimensions"`
	Documents      int       `json:"documents"`
	Chunks         int       `json:"chunks"`
	CreatedAt      time.Time `json:"created_at"`
}

// Filter is a conjunction of metadata equality constraints.
type Filter map[string]string

// Matches reports whether every constrained key in f has the same string
// value in m.
func (f Filter) Matches(m Metadata) bool {
	for k, want := range f {
		if m.String(k) != want {
			return false
		}
	}
	return true
}

// Index stores embedded chunks grouped into named collections.
type Index interface {
	// Replace atomically supersedes the whole collection info.Name.
	Replace(ctx context.Context, info CollectionInfo, records []Record) error
	// Search returns at most k hits from collection that match filter,
	// closest first. Equal scores keep insertion order.
	Search(ctx context.Context, collection string, query []float64, filter Filter, k int) ([]Hit, error)
	// Collection returns the info stored by the last Replace.
	Collection(ctx context.Context, name string) (CollectionInfo, bool, error)
}
