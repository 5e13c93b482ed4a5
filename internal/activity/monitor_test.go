package activity

import (
	"testing"

	"github.com/nkkko/idled/internal/clock"
	"github.com/stretchr/testify/assert"
)

func TestMonitorRecord(t *testing.T) {
	m := NewMonitor()

	_, ok := m.Last("seat0")
	assert.False(t, ok)

	assert.Equal(t, clock.Timestamp(100), m.Record("seat0", 100))
	assert.Equal(t, clock.Timestamp(200), m.Record("seat0", 200))

	// Older or equal timestamps leave the record untouched.
	assert.Equal(t, clock.Timestamp(200), m.Record("seat0", 150))
	assert.Equal(t, clock.Timestamp(200), m.Record("seat0", 200))

	last, ok := m.Last("seat0")
	assert.True(t, ok)
	assert.Equal(t, clock.Timestamp(200), last)

	// Seats are independent.
	_, ok = m.Last("seat1")
	assert.False(t, ok)

	m.Forget("seat0")
	_, ok = m.Last("seat0")
	assert.False(t, ok)
}
