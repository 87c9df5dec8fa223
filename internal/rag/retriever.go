package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/soctriage/internal/incident"
)

var tracer = otel.Tracer("github.com/linnemanlabs/soctriage/internal/rag")

// DefaultTopK is the number of hits returned when k is not positive.
const DefaultTopK = 4

// Retriever answers evidence queries against one collection.
type Retriever struct {
	embedder   Embedder
	index      Index
	collection string
	logger     log.Logger

	// warned latches after the first embedding model mismatch is logged.
	warned atomic.Bool
}

// NewRetriever returns a Retriever over collection in index.
func NewRetriever(embedder Embedder, index Index, collection string, logger log.Logger) *Retriever {
	if embedder == nil {
		panic(xerrors.New("rag.NewRetriever: embedder is nil"))
	}
	if index == nil {
		panic(xerrors.New("rag.NewRetriever: index is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	if collection == "" {
		collection = DefaultCollection
	}
	return &Retriever{embedder: embedder, index: index, collection: collection, logger: logger}
}

// Collection returns the name of the searched collection.
func (r *Retriever) Collection() string { return r.collection }

// Retrieve embeds query and returns up to k playbook chunks, closest first.
// A non-empty category further restricts hits to that category_primary.
// Fewer than k matching chunks is not an error.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int, category incident.Category) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "rag.Retrieve")
	defer span.End()

	if k <= 0 {
		k = DefaultTopK
	}
	span.SetAttributes(
		attribute.String("rag.collection", r.collection),
		attribute.Int("rag.k", k),
		attribute.String("rag.category", string(category)),
	)

	hits, err := r.retrieve(ctx, query, k, category)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rag.hits", len(hits)))
	return hits, nil
}

func (r *Retriever) retrieve(ctx context.Context, query string, k int, category incident.Category) ([]Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("query is empty")
	}

	info, ok, err := r.index.Collection(ctx, r.collection)
	if err != nil {
		return nil, fmt.Errorf("load collection %s: %w", r.collection, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, r.collection)
	}
	if info.EmbeddingModel != r.embedder.Model() && r.warned.CompareAndSwap(false, true) {
		r.logger.Warn(ctx, "embedding model differs from the one used at ingestion",
			"collection", r.collection,
			"index_model", info.EmbeddingModel,
			"query_model", r.embedder.Model(),
		)
	}

	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	filter := Filter{KeyDocType: DocTypePlaybook}
	if category != "" {
		filter[KeyCategory] = string(category)
	}
	hits, err := r.index.Search(ctx, r.collection, vec, filter, k)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", r.collection, err)
	}
	return hits, nil
}
