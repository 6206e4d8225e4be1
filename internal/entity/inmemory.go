package entity

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Repository with in-process concurrency safety. Used in
// tests and DSN-less runs; production uses the Postgres repository.
type InMemory struct {
	mu    sync.RWMutex
	items map[string]Snapshot
}

// NewInMemory creates an empty repository.
func NewInMemory() *InMemory {
	return &InMemory{items: make(map[string]Snapshot)}
}

// Put inserts or replaces a snapshot keyed by (type, id).
func (r *InMemory) Put(s Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[string(s.Type)+"/"+s.ID] = s
}

func (r *InMemory) ListForEvaluation(ctx context.Context, entityType Type) ([]Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var res []Snapshot
	for _, s := range r.items {
		if s.Type != entityType || !s.Evaluable() {
			continue
		}
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}
