package clock

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonotonicNonDecreasing(t *testing.T) {
	c, err := NewMonotonic()
	require.NoError(t, err)

	prev := c.Now()
	for i := 0; i < 1000; i++ {
		now := c.Now()
		assert.GreaterOrEqual(t, int64(now), int64(prev))
		prev = now
	}

	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, c.Now().Sub(prev), 5*time.Millisecond)
}

func TestMonotonicNeverGoesBackwards(t *testing.T) {
	readings := []Timestamp{100, 200, 150, 0}
	var readErr error
	c := &Monotonic{
		origin: 50,
		read: func() (Timestamp, error) {
			if readErr != nil {
				return 0, readErr
			}
			v := readings[0]
			readings = readings[1:]
			return v, nil
		},
	}

	assert.Equal(t, Timestamp(50), c.Now())
	assert.Equal(t, Timestamp(150), c.Now())
	// Source jumped back; the clock holds its last value.
	assert.Equal(t, Timestamp(150), c.Now())

	readErr = errors.New("source gone")
	assert.Equal(t, Timestamp(150), c.Now())
}

func TestTimestampAddSaturates(t *testing.T) {
	assert.Equal(t, MaxTimestamp, Timestamp(10).Add(time.Duration(MaxTimestamp)))
	assert.Equal(t, MaxTimestamp, MaxTimestamp.Add(time.Nanosecond))
	assert.Equal(t, Timestamp(0), Timestamp(10).Add(-time.Second))
	assert.Equal(t, Timestamp(1500*time.Millisecond), Timestamp(time.Second).Add(500*time.Millisecond))
	assert.Equal(t, "never", MaxTimestamp.String())
}

func TestManualClock(t *testing.T) {
	c := NewManual(0)
	assert.Equal(t, Timestamp(0), c.Now())

	assert.Equal(t, Timestamp(time.Second), c.Advance(time.Second))
	c.Advance(-time.Hour)
	assert.Equal(t, Timestamp(time.Second), c.Now())

	c.Set(Timestamp(500 * time.Millisecond))
	assert.Equal(t, Timestamp(time.Second), c.Now(), "Set must not move backwards")

	c.Set(Timestamp(3 * time.Second))
	assert.Equal(t, int64(3000), c.Now().Milliseconds())
}
