package incident

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryRepository is an in-memory implementation of Repository, used by
// tests and by the navsim CLI.
type InMemoryRepository struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewInMemoryRepository creates an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		incidents: make(map[string]*Incident),
	}
}

// Get retrieves an incident by ID.
func (r *InMemoryRepository) Get(_ context.Context, id string) (*Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	cpy := *i
	return &cpy, nil
}

// Active returns unexpired incidents ordered by report time.
func (r *InMemoryRepository) Active(_ context.Context, now time.Time) ([]Incident, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Incident
	for _, i := range r.incidents {
		if i.ActiveAt(now) {
			out = append(out, *i)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].ReportedAt.Equal(out[b].ReportedAt) {
			return out[a].ID < out[b].ID
		}
		return out[a].ReportedAt.Before(out[b].ReportedAt)
	})
	return out, nil
}

// Upsert creates or replaces an incident.
func (r *InMemoryRepository) Upsert(_ context.Context, i *Incident) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cpy := *i
	r.incidents[i.ID] = &cpy
	return nil
}

// Delete removes an incident.
func (r *InMemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.incidents, id)
	return nil
}

// DeleteExpired removes incidents that are no longer active at now.
func (r *InMemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, i := range r.incidents {
		if !i.ActiveAt(now) {
			delete(r.incidents, id)
			removed++
		}
	}
	return removed, nil
}

var _ Repository = (*InMemoryRepository)(nil)
