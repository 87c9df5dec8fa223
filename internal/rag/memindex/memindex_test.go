package memindex

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/soctriage/internal/rag"
)

func record(id, category string, emb ...float64) rag.Record {
	return rag.Record{
		ChunkID: id,
		Text:    "text " + id,
		Metadata: rag.Metadata{
			rag.KeyDocID:    id + ".md",
			rag.KeyDocType:  rag.DocTypePlaybook,
			rag.KeyCategory: category,
		},
		Embedding: emb,
	}
}

func TestIndex(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ix := New()
	if _, ok, err := ix.Collection(ctx, "c"); ok || err != nil {
		t.Fatalf("Collection on empty index: ok=%v err=%v", ok, err)
	}
	if _, err := ix.Search(ctx, "c", []float64{1, 0}, nil, 4); !errors.Is(err, rag.ErrCollectionNotFound) {
		t.Fatalf("Search missing: err = %v", err)
	}

	records := []rag.Record{
		record("a", "phishing", 1, 0),
		record("b", "bruteforce", 1, 0),
		record("c", "phishing", 0, 1),
	}
	if err := ix.Replace(ctx, rag.CollectionInfo{Name: "c", RunID: "r1", Chunks: 3}, records); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	// mutating the caller's slice must not leak into the index
	records[0].Metadata[rag.KeyCategory] = "bruteforce"
	records[0].Embedding[0] = 0

	hits, err := ix.Search(ctx, "c", []float64{1, 0}, rag.Filter{rag.KeyCategory: "phishing"}, 4)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 || hits[0].ChunkID != "a" || hits[1].ChunkID != "c" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Score != 0 {
		t.Errorf("score = %v, want 0", hits[0].Score)
	}

	info, ok, err := ix.Collection(ctx, "c")
	if err != nil || !ok || info.RunID != "r1" {
		t.Errorf("Collection = %+v ok=%v err=%v", info, ok, err)
	}
}

func TestIndex_ReplaceSupersedes(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ix := New()
	_ = ix.Replace(ctx, rag.CollectionInfo{Name: "c", RunID: "r1"}, []rag.Record{record("old", "phishing", 1)})
	_ = ix.Replace(ctx, rag.CollectionInfo{Name: "other", RunID: "x"}, []rag.Record{record("keep", "phishing", 1)})
	_ = ix.Replace(ctx, rag.CollectionInfo{Name: "c", RunID: "r2"}, []rag.Record{record("new", "phishing", 1)})

	hits, _ := ix.Search(ctx, "c", []float64{1}, nil, 10)
	if len(hits) != 1 || hits[0].ChunkID != "new" {
		t.Errorf("hits = %+v", hits)
	}
	hits, _ = ix.Search(ctx, "other", []float64{1}, nil, 10)
	if len(hits) != 1 || hits[0].ChunkID != "keep" {
		t.Errorf("other collection changed: %+v", hits)
	}
}

func TestIndex_TiesKeepInsertionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ix := New()
	var records []rag.Record
	for _, id := range []string{"c00000", "c00001", "c00002", "c00003"} {
		records = append(records, record(id, "phishing", 1, 1))
	}
	_ = ix.Replace(ctx, rag.CollectionInfo{Name: "c"}, records)

	hits, _ := ix.Search(ctx, "c", []float64{2, 2}, nil, 3)
	for i, want := range []string{"c00000", "c00001", "c00002"} {
		if hits[i].ChunkID != want {
			t.Errorf("hit %d = %s, want %s", i, hits[i].ChunkID, want)
		}
	}
}
