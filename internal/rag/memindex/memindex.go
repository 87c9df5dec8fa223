// Package memindex provides an in-memory implementation of rag.Index.
package memindex

import (
	"context"
	"sync"

	"github.com/linnemanlabs/soctriage/internal/rag"
)

type collection struct {
	info    rag.CollectionInfo
	records []rag.Record
}

// Index holds collections in memory. Suitable for dev/testing.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

// New initializes an empty Index.
func New() *Index {
	return &Index{collections: make(map[string]*collection)}
}

// Replace swaps in a copy of records as the whole collection.
func (ix *Index) Replace(_ context.Context, info rag.CollectionInfo, records []rag.Record) error {
	cp := make([]rag.Record, len(records))
	for i, r := range records {
		r.Metadata = r.Metadata.Clone()
		r.Embedding = append([]float64(nil), r.Embedding...)
		cp[i] = r
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.collections[info.Name] = &collection{info: info, records: cp}
	return nil
}

// Search ranks the collection's records against query.
func (ix *Index) Search(_ context.Context, name string, query []float64, filter rag.Filter, k int) ([]rag.Hit, error) {
	ix.mu.RLock()
	c, ok := ix.collections[name]
	ix.mu.RUnlock()
	if !ok {
		return nil, rag.ErrCollectionNotFound
	}
	return rag.RankRecords(c.records, query, filter, k), nil
}

// Collection returns the stored info for name.
func (ix *Index) Collection(_ context.Context, name string) (rag.CollectionInfo, bool, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	c, ok := ix.collections[name]
	if !ok {
		return rag.CollectionInfo{}, false, nil
	}
	return c.info, true, nil
}
