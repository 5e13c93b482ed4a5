// Package activity turns discrete input events into one last-activity
// timestamp per seat.
package activity

import (
	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
)

// Monitor holds the activity record of every seat that has seen input.
// It is not safe for concurrent use; the tracker loop owns it.
type Monitor struct {
	last map[domain.SeatID]clock.Timestamp
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{last: make(map[domain.SeatID]clock.Timestamp)}
}

// Record sets the seat's last activity to now unless it is already at or
// past now, and returns the resulting record.
func (m *Monitor) Record(seat domain.SeatID, now clock.Timestamp) clock.Timestamp {
	if prev, ok := m.last[seat]; ok && prev >= now {
		return prev
	}
	m.last[seat] = now
	return now
}

// Last returns the seat's last activity, if any was ever recorded
func (m *Monitor) Last(seat domain.SeatID) (clock.Timestamp, bool) {
	ts, ok := m.last[seat]
	return ts, ok
}

// Forget drops the record of a removed seat
func (m *Monitor) Forget(seat domain.SeatID) {
	delete(m.last, seat)
}
