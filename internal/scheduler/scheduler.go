// Package scheduler keeps pending idle deadlines ordered so the tracker loop
// only ever has to wait for the earliest one.
package scheduler

import (
	"container/heap"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
)

// Entry is a scheduled deadline. The scheduler does not own the subscription.
type Entry struct {
	ID       domain.SubscriptionID
	Deadline clock.Timestamp

	seq   uint64
	index int
}

// Scheduler is a min-heap of deadlines keyed by (deadline, insertion order).
// It is not safe for concurrent use; the tracker loop owns it.
type Scheduler struct {
	entries entryHeap
	byID    map[domain.SubscriptionID]*Entry
	seq     uint64
}

// New creates an empty scheduler
func New() *Scheduler {
	return &Scheduler{byID: make(map[domain.SubscriptionID]*Entry)}
}

// Schedule sets the deadline of id, replacing any earlier schedule
func (s *Scheduler) Schedule(id domain.SubscriptionID, deadline clock.Timestamp) {
	s.seq++
	if e, ok := s.byID[id]; ok {
		e.Deadline = deadline
		e.seq = s.seq
		heap.Fix(&s.entries, e.index)
		return
	}
	e := &Entry{ID: id, Deadline: deadline, seq: s.seq}
	heap.Push(&s.entries, e)
	s.byID[id] = e
}

// Cancel removes id. It reports whether id was scheduled.
func (s *Scheduler) Cancel(id domain.SubscriptionID) bool {
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	heap.Remove(&s.entries, e.index)
	delete(s.byID, id)
	return true
}

// Scheduled reports whether id has a pending deadline
func (s *Scheduler) Scheduled(id domain.SubscriptionID) bool {
	_, ok := s.byID[id]
	return ok
}

// Deadline returns the pending deadline of id
func (s *Scheduler) Deadline(id domain.SubscriptionID) (clock.Timestamp, bool) {
	e, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	return e.Deadline, true
}

// NextWake returns the earliest pending deadline, or false if none is pending
func (s *Scheduler) NextWake() (clock.Timestamp, bool) {
	if len(s.entries) == 0 {
		return 0, false
	}
	return s.entries[0].Deadline, true
}

// PopDue removes and returns the earliest entry if its deadline is at or
// before now.
func (s *Scheduler) PopDue(now clock.Timestamp) (Entry, bool) {
	if len(s.entries) == 0 || s.entries[0].Deadline > now {
		return Entry{}, false
	}
	e := heap.Pop(&s.entries).(*Entry)
	delete(s.byID, e.ID)
	return *e, true
}

// Len returns the number of pending deadlines
func (s *Scheduler) Len() int {
	return len(s.entries)
}

type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].Deadline != h[j].Deadline {
		return h[i].Deadline < h[j].Deadline
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*Entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}
