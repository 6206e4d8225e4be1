package alert

import (
	"context"
	"sort"
	"sync"
)

// InMemory implements Store with in-process concurrency safety. It enforces
// the same dedup invariant as the Postgres store's partial unique index.
type InMemory struct {
	mu   sync.RWMutex
	byID map[string]*Alert
	live map[Key]string // dedup key -> live alert id
}

// NewInMemory creates an empty ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		byID: make(map[string]*Alert),
		live: make(map[Key]string),
	}
}

func (s *InMemory) FindLive(ctx context.Context, key Key) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.live[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := *s.byID[id]
	return &out, nil
}

func (s *InMemory) Insert(ctx context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := a.Key()
	if _, ok := s.live[key]; ok {
		return ErrDedupConflict
	}
	cp := *a
	s.byID[cp.ID] = &cp
	if cp.Status.Live() {
		s.live[key] = cp.ID
	}
	return nil
}

func (s *InMemory) Update(ctx context.Context, a *Alert, expected Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.byID[a.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected {
		return ErrInvalidTransition
	}
	cp := *a
	s.byID[cp.ID] = &cp
	key := cp.Key()
	if cp.Status.Live() {
		s.live[key] = cp.ID
	} else if s.live[key] == cp.ID {
		delete(s.live, key)
	}
	return nil
}

func (s *InMemory) Find(ctx context.Context, id string) (*Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *a
	return &out, nil
}

func (s *InMemory) List(ctx context.Context, f Filter) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Alert
	for _, a := range s.byID {
		if !matchStatus(f.Statuses, a.Status) {
			continue
		}
		if !f.AllFirms && !containsString(f.Firms, a.FirmID) {
			continue
		}
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})
	if f.Limit > 0 && len(res) > f.Limit {
		res = res[:f.Limit]
	}
	return res, nil
}

func matchStatus(want []Status, got Status) bool {
	if len(want) == 0 {
		return true
	}
	for _, s := range want {
		if s == got {
			return true
		}
	}
	return false
}

func containsString(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}
