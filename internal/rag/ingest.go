package rag

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/zeebo/blake3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

// DefaultCollection is the collection name used when none is configured.
const DefaultCollection = "soc_playbooks"

// ErrCorpusNotFound is returned when the corpus root does not exist or is
// not a directory. Nothing is written in that case.
var ErrCorpusNotFound = errors.New("corpus root not found")

// Report summarizes one ingestion run.
type Report struct {
	RunID          string        `json:"run_id"`
	Collection     string        `json:"collection"`
	DocumentsRead  int           `json:"documents_loaded"`
	ChunksIndexed  int           `json:"chunks_indexed"`
	EmbeddingModel string        `json:"embedding_model"`
	Duration       time.Duration `json:"duration"`
}

// Ingestor builds a collection from a corpus directory.
type Ingestor struct {
	embedder   Embedder
	index      Index
	splitter   *Splitter
	extensions []string
	logger     log.Logger
	now        func() time.Time
}

// NewIngestor returns an Ingestor that reads markdown files, splits them
// with the default splitter and writes to index.
func NewIngestor(embedder Embedder, index Index, logger log.Logger) *Ingestor {
	if embedder == nil {
		panic(xerrors.New("rag.NewIngestor: embedder is nil"))
	}
	if index == nil {
		panic(xerrors.New("rag.NewIngestor: index is nil"))
	}
	if logger == nil {
		logger = log.Nop()
	}
	return &Ingestor{
		embedder:   embedder,
		index:      index,
		splitter:   NewSplitter(),
		extensions: []string{".md"},
		logger:     logger,
		now:        time.Now,
	}
}

// document is one corpus file after metadata inference.
type document struct {
	text     string
	metadata Metadata
}

// Ingest reads every document under root, embeds all chunks and replaces
// collection with the result. Any failure before the final write leaves
// the existing collection untouched.
func (in *Ingestor) Ingest(ctx context.Context, root, collection string) (Report, error) {
	ctx, span := tracer.Start(ctx, "rag.Ingest")
	defer span.End()
	start := in.now()

	rep, err := in.ingest(ctx, root, collection)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Report{}, err
	}
	rep.Duration = in.now().Sub(start)
	span.SetAttributes(
		attribute.String("rag.collection", collection),
		attribute.String("rag.run_id", rep.RunID),
		attribute.Int("rag.documents", rep.DocumentsRead),
		attribute.Int("rag.chunks", rep.ChunksIndexed),
	)
	in.logger.Info(ctx, "ingestion complete",
		"collection", collection,
		"run_id", rep.RunID,
		"documents", rep.DocumentsRead,
		"chunks", rep.ChunksIndexed,
		"duration_s", rep.Duration.Seconds(),
	)
	return rep, nil
}

func (in *Ingestor) ingest(ctx context.Context, root, collection string) (Report, error) {
	if collection == "" {
		return Report{}, errors.New("collection name is empty")
	}
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		return Report{}, fmt.Errorf("%w: %s", ErrCorpusNotFound, root)
	}

	docs, err := in.load(root)
	if err != nil {
		return Report{}, err
	}

	var records []Record
	for _, d := range docs {
		for _, text := range in.splitter.Split(d.text) {
			meta := d.metadata.Clone()
			id := fmt.Sprintf("c%05d", len(records))
			meta[KeyChunkID] = id
			records = append(records, Record{ChunkID: id, Text: text, Metadata: meta})
		}
	}

	dims := 0
	for i := range records {
		vec, err := in.embedder.Embed(ctx, records[i].Text)
		if err != nil {
			return Report{}, fmt.Errorf("embed %s %s: %w", records[i].Metadata.String(KeyDocID), records[i].ChunkID, err)
		}
		if dims == 0 {
			dims = len(vec)
		} else if len(vec) != dims {
			return Report{}, fmt.Errorf("embed %s: dimension %d differs from %d", records[i].ChunkID, len(vec), dims)
		}
		records[i].Embedding = vec
	}

	info := CollectionInfo{
		Name:           collection,
		RunID:          ulid.Make().String(),
		EmbeddingModel: in.embedder.Model(),
		Dimensions:     dims,
		Documents:      len(docs),
		Chunks:         len(records),
		CreatedAt:      in.now().UTC(),
	}
	if err := in.index.Replace(ctx, info, records); err != nil {
		return Report{}, fmt.Errorf("write collection %s: %w", collection, err)
	}

	return Report{
		RunID:          info.RunID,
		Collection:     collection,
		DocumentsRead:  len(docs),
		ChunksIndexed:  len(records),
		EmbeddingModel: info.EmbeddingModel,
	}, nil
}

// load walks root in lexical order and returns every document with an
// accepted extension, with its scalar metadata attached.
func (in *Ingestor) load(root string) ([]document, error) {
	var docs []document
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !in.accepts(path) {
			return nil
		}

		raw, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			rel = path
		}

		docType, category := InferClass(path)
		hash := blake3.Sum256(raw)
		meta, err := FlattenMetadata(Metadata{
			KeyDocID:       filepath.Base(path),
			KeySource:      filepath.ToSlash(rel),
			KeyDocType:     docType,
			KeyCategory:    string(category),
			KeyTitle:       Title(raw),
			KeyContentHash: hex.EncodeToString(hash[:]),
		})
		if err != nil {
			return fmt.Errorf("metadata for %s: %w", path, err)
		}

		docs = append(docs, document{text: string(raw), metadata: meta})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus: %w", err)
	}
	return docs, nil
}

func (in *Ingestor) accepts(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, want := range in.extensions {
		if ext == want {
			return true
		}
	}
	return false
}
