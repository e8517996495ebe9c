// Package inmem provides an in-memory implementation of the run store.
//
// Records are retained for the lifetime of the process; there is no
// eviction. Readers always receive deep snapshots so a record can be
// inspected safely while its run is still executing.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/loomwork/loom/run"
)

// Store is an in-memory implementation of run.Store. It is safe for
// concurrent use.
type Store struct {
	mu   sync.RWMutex
	runs map[string]*run.Record
}

// Compile-time check that Store implements run.Store.
var _ run.Store = (*Store)(nil)

// New creates an empty in-memory run store.
func New() *Store {
	return &Store{runs: make(map[string]*run.Record)}
}

// Upsert stores a deep copy of record keyed by its id.
func (s *Store) Upsert(ctx context.Context, record *run.Record) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	cp := record.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[cp.ID] = cp
	return nil
}

// Get returns a deep snapshot of the record with the given id.
func (s *Store) Get(ctx context.Context, id string) (*run.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[id]
	if !ok {
		return nil, run.ErrNotFound
	}
	return record.Clone(), nil
}

// List returns deep snapshots of all records ordered by start time, oldest
// first, with the run id as tie-breaker.
func (s *Store) List(ctx context.Context) ([]*run.Record, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	records := make([]*run.Record, 0, len(s.runs))
	for _, record := range s.runs {
		records = append(records, record.Clone())
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].StartedAt.Equal(records[j].StartedAt) {
			return records[i].StartedAt.Before(records[j].StartedAt)
		}
		return records[i].ID < records[j].ID
	})
	return records, nil
}

// Reset removes all stored records. Intended for tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string]*run.Record)
}
