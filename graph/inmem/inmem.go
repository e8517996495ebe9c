// Package inmem provides an in-memory implementation of the graph store.
//
// Definitions are retained for the lifetime of the process; there is no
// eviction. The store is suitable for single-node deployments and tests.
package inmem

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/loomwork/loom/graph"
)

// Store is an in-memory implementation of graph.Store. It is safe for
// concurrent use.
type Store struct {
	mu     sync.RWMutex
	graphs map[string]*graph.Definition
}

// Compile-time check that Store implements graph.Store.
var _ graph.Store = (*Store)(nil)

// New creates an empty in-memory graph store.
func New() *Store {
	return &Store{graphs: make(map[string]*graph.Definition)}
}

// Create validates def, assigns it a fresh id and stores a deep copy.
func (s *Store) Create(ctx context.Context, def *graph.Definition) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if err := def.Validate(); err != nil {
		return "", err
	}
	cp := def.Clone()
	cp.ID = uuid.NewString()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs[cp.ID] = cp
	return cp.ID, nil
}

// Get returns a deep copy of the definition with the given id.
func (s *Store) Get(ctx context.Context, id string) (*graph.Definition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.graphs[id]
	if !ok {
		return nil, graph.ErrNotFound
	}
	return def.Clone(), nil
}

// List returns deep copies of all stored definitions ordered by name, then
// by id for stability.
func (s *Store) List(ctx context.Context) ([]*graph.Definition, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	defs := make([]*graph.Definition, 0, len(s.graphs))
	for _, def := range s.graphs {
		defs = append(defs, def.Clone())
	}
	sort.Slice(defs, func(i, j int) bool {
		if defs[i].Name != defs[j].Name {
			return defs[i].Name < defs[j].Name
		}
		return defs[i].ID < defs[j].ID
	})
	return defs, nil
}

// Reset removes all stored definitions. Intended for tests.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.graphs = make(map[string]*graph.Definition)
}
