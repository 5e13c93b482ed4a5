package journal

import (
	"context"
	"sync"
	"time"

	"github.com/nkkko/idled/internal/domain"
)

// Ensure Memory implements Journal
var _ Journal = (*Memory)(nil)

// Memory keeps the most recent records of every seat in memory
type Memory struct {
	mu       sync.RWMutex
	capacity int
	seq      uint64
	bySeat   map[domain.SeatID][]Record
}

// NewMemory creates a journal keeping up to capacity records per seat
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = DefaultConfig().MemoryCapacity
	}
	return &Memory{
		capacity: capacity,
		bySeat:   make(map[domain.SeatID][]Record),
	}
}

// Observe appends event to its seat's history
func (m *Memory) Observe(event domain.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	records := append(m.bySeat[event.Seat], newRecord(m.seq, event, time.Now()))
	if len(records) > m.capacity {
		records = records[len(records)-m.capacity:]
	}
	m.bySeat[event.Seat] = records
}

// Start does nothing; the memory journal has no background work
func (m *Memory) Start(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

// List returns up to limit records of seat, newest first
func (m *Memory) List(_ context.Context, seat domain.SeatID, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.bySeat[seat]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}
	out := make([]Record, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

// Shutdown does nothing
func (m *Memory) Shutdown(context.Context) error {
	return nil
}
