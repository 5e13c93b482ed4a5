// Package seat keeps the set of seats announced by the host environment.
package seat

import (
	"sort"
	"sync"

	"github.com/nkkko/idled/internal/domain"
)

// Ensure Registry implements domain.SeatRegistry
var _ domain.SeatRegistry = (*Registry)(nil)

// Registry is a concurrency-safe set of seats
type Registry struct {
	mu    sync.RWMutex
	seats map[domain.SeatID]struct{}
}

// NewRegistry creates a registry pre-populated with the given seats
func NewRegistry(seats ...domain.SeatID) *Registry {
	r := &Registry{seats: make(map[domain.SeatID]struct{}, len(seats))}
	for _, s := range seats {
		if s != "" {
			r.seats[s] = struct{}{}
		}
	}
	return r
}

// Add announces a seat. It reports false if the seat was already present.
func (r *Registry) Add(seat domain.SeatID) bool {
	if seat == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seats[seat]; ok {
		return false
	}
	r.seats[seat] = struct{}{}
	return true
}

// Remove withdraws a seat. It reports false if the seat was unknown.
func (r *Registry) Remove(seat domain.SeatID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seats[seat]; !ok {
		return false
	}
	delete(r.seats, seat)
	return true
}

// Exists reports whether the seat is present
func (r *Registry) Exists(seat domain.SeatID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.seats[seat]
	return ok
}

// List returns the seats in lexical order
func (r *Registry) List() []domain.SeatID {
	r.mu.RLock()
	out := make([]domain.SeatID, 0, len(r.seats))
	for s := range r.seats {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
