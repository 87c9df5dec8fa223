// Package memstore provides an in-memory implementation of audit.Store.
package memstore

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/linnemanlabs/soctriage/internal/audit"
)

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for CreatedAt.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// Store keeps audit records in memory, in append order. Suitable for dev/testing.
type Store struct {
	mu      sync.RWMutex
	records []*audit.Record
	nextID  int64
	now     func() time.Time
}

// New initializes an empty Store.
func New(opts ...Option) *Store {
	s := &Store{nextID: 1, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Append stores a copy of r after assigning its id and creation time.
func (s *Store) Append(_ context.Context, r *audit.Record) error {
	if err := audit.Prepare(r); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	r.CreatedAt = s.now().UTC()
	s.nextID++
	s.records = append(s.records, r.Clone())
	return nil
}

// GetLatestByTrace returns a copy of the newest record for traceID.
func (s *Store) GetLatestByTrace(_ context.Context, traceID string) (*audit.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].TraceID == traceID {
			return s.records[i].Clone(), true, nil
		}
	}
	return nil, false, nil
}

// List returns copies of matching records ordered by creation time
// descending, newest id first on equal timestamps.
func (s *Store) List(_ context.Context, f audit.Filter) ([]audit.Record, error) {
	f = f.Normalized()

	s.mu.RLock()
	matched := make([]*audit.Record, 0, len(s.records))
	for _, r := range s.records {
		if f.Matches(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	slices.SortStableFunc(matched, func(a, b *audit.Record) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		switch {
		case a.ID > b.ID:
			return -1
		case a.ID < b.ID:
			return 1
		}
		return 0
	})

	if f.Offset >= len(matched) {
		return []audit.Record{}, nil
	}
	matched = matched[f.Offset:min(f.Offset+f.Limit, len(matched))]

	out := make([]audit.Record, len(matched))
	for i, r := range matched {
		out[i] = *r.Clone()
	}
	return out, nil
}
