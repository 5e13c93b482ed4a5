package scheduler

import (
	"testing"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(s *Scheduler, now clock.Timestamp) []domain.SubscriptionID {
	var ids []domain.SubscriptionID
	for {
		e, ok := s.PopDue(now)
		if !ok {
			return ids
		}
		ids = append(ids, e.ID)
	}
}

func TestSchedulerOrdersByDeadline(t *testing.T) {
	s := New()
	s.Schedule("c", 300)
	s.Schedule("a", 100)
	s.Schedule("b", 200)

	next, ok := s.NextWake()
	require.True(t, ok)
	assert.Equal(t, clock.Timestamp(100), next)

	assert.Empty(t, drain(s, 99))
	assert.Equal(t, []domain.SubscriptionID{"a", "b"}, drain(s, 200))
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, []domain.SubscriptionID{"c"}, drain(s, 1000))

	_, ok = s.NextWake()
	assert.False(t, ok)
}

func TestSchedulerTiesKeepInsertionOrder(t *testing.T) {
	s := New()
	s.Schedule("first", 100)
	s.Schedule("second", 100)
	s.Schedule("third", 100)

	assert.Equal(t, []domain.SubscriptionID{"first", "second", "third"}, drain(s, 100))
}

func TestSchedulerReschedule(t *testing.T) {
	s := New()
	s.Schedule("a", 100)
	s.Schedule("b", 200)

	s.Schedule("a", 300)
	assert.Equal(t, 2, s.Len())

	d, ok := s.Deadline("a")
	require.True(t, ok)
	assert.Equal(t, clock.Timestamp(300), d)

	assert.Equal(t, []domain.SubscriptionID{"b", "a"}, drain(s, 300))
}

func TestSchedulerCancel(t *testing.T) {
	s := New()
	s.Schedule("a", 100)
	s.Schedule("b", 200)
	s.Schedule("c", 300)

	assert.True(t, s.Cancel("b"))
	assert.False(t, s.Cancel("b"))
	assert.False(t, s.Scheduled("b"))
	assert.True(t, s.Scheduled("a"))

	assert.Equal(t, []domain.SubscriptionID{"a", "c"}, drain(s, 1000))
	assert.False(t, s.Cancel("a"))
}

func TestSchedulerManyEntries(t *testing.T) {
	s := New()
	for i := 100; i > 0; i-- {
		s.Schedule(domain.SubscriptionID(rune('A'+i%26))+domain.SubscriptionID(rune('0'+i/26)), clock.Timestamp(i))
	}
	var last clock.Timestamp
	for {
		e, ok := s.PopDue(clock.MaxTimestamp)
		if !ok {
			break
		}
		assert.GreaterOrEqual(t, int64(e.Deadline), int64(last))
		last = e.Deadline
	}
	assert.Equal(t, 0, s.Len())
}
