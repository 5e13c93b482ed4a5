// Package clock provides the monotonic timeline every idle deadline is measured on.
package clock

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// Timestamp is a point on the daemon's monotonic timeline, measured from an
// arbitrary origin fixed when the clock was created.
type Timestamp time.Duration

// MaxTimestamp is the latest representable instant. Deadlines that would
// overflow saturate here and never fire.
const MaxTimestamp = Timestamp(math.MaxInt64)

// Add returns t+d, saturating at MaxTimestamp and at zero.
func (t Timestamp) Add(d time.Duration) Timestamp {
	if d > 0 && t > MaxTimestamp-Timestamp(d) {
		return MaxTimestamp
	}
	if d < 0 && t < Timestamp(-d) {
		return 0
	}
	return t + Timestamp(d)
}

// Sub returns the duration t-u.
func (t Timestamp) Sub(u Timestamp) time.Duration {
	return time.Duration(t - u)
}

// Milliseconds returns the timestamp as whole milliseconds since the origin.
func (t Timestamp) Milliseconds() int64 {
	return time.Duration(t).Milliseconds()
}

func (t Timestamp) String() string {
	if t == MaxTimestamp {
		return "never"
	}
	return fmt.Sprintf("+%s", time.Duration(t))
}

// Clock supplies strictly non-decreasing timestamps.
type Clock interface {
	Now() Timestamp
}

// Monotonic reads the operating system's monotonic clock. It is immune to
// wall-clock adjustments (NTP, time zone changes, leap seconds).
type Monotonic struct {
	mu     sync.Mutex
	origin Timestamp
	last   Timestamp
	read   func() (Timestamp, error)
}

// NewMonotonic returns a clock whose origin is the current instant. It fails
// when the platform's monotonic source cannot be read; callers treat that as
// fatal at startup.
func NewMonotonic() (*Monotonic, error) {
	origin, err := readMonotonic()
	if err != nil {
		return nil, fmt.Errorf("monotonic clock unavailable: %w", err)
	}
	return &Monotonic{origin: origin, read: readMonotonic}, nil
}

// Now returns the time elapsed since the clock was created.
func (m *Monotonic) Now() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()

	raw, err := m.read()
	if err != nil {
		// The source worked at startup; a transient failure must not move time backwards.
		return m.last
	}
	now := raw - m.origin
	if now < m.last {
		now = m.last
	}
	m.last = now
	return now
}

// Manual is a clock that only moves when told to. Tests use it to drive the
// registry deterministically.
type Manual struct {
	mu  sync.Mutex
	now Timestamp
}

// NewManual returns a manual clock positioned at start.
func NewManual(start Timestamp) *Manual {
	return &Manual{now: start}
}

// Now returns the current manual time.
func (m *Manual) Now() Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Advance moves the clock forward by d and returns the new time. Negative
// durations are ignored.
func (m *Manual) Advance(d time.Duration) Timestamp {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d > 0 {
		m.now = m.now.Add(d)
	}
	return m.now
}

// Set moves the clock to t if t is not in the past.
func (m *Manual) Set(t Timestamp) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t > m.now {
		m.now = t
	}
}
