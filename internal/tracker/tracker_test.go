package tracker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/dispatcher"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/seat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTracker(t *testing.T) (*Tracker, *dispatcher.Dispatcher) {
	t.Helper()

	clk, err := clock.NewMonotonic()
	require.NoError(t, err)
	return startTrackerWithClock(t, clk)
}

func startTrackerWithClock(t *testing.T, clk clock.Clock) (*Tracker, *dispatcher.Dispatcher) {
	t.Helper()

	d := dispatcher.New()
	tr, err := NewTracker(DefaultConfig(), clk, seat.NewRegistry("seat0", "seat1"), d)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("tracker did not stop")
		}
	})

	require.Eventually(t, tr.Ready, time.Second, time.Millisecond)
	return tr, d
}

func nextEvent(t *testing.T, m *dispatcher.Mailbox, within time.Duration) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	event, err := m.Next(ctx)
	require.NoError(t, err, "no event within %s", within)
	return event
}

func assertNoEvent(t *testing.T, m *dispatcher.Mailbox, within time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), within)
	defer cancel()
	event, err := m.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "unexpected event %+v", event)
}

func TestIdledAfterTimeout(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	start := time.Now()
	id, err := tr.CreateNotification(ctx, "alice", "seat0", 50*time.Millisecond)
	require.NoError(t, err)

	event := nextEvent(t, m, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, domain.EventIdled, event.Kind)
	assert.Equal(t, id, event.Subscription)

	assertNoEvent(t, m, 100*time.Millisecond)
}

func TestActivityResumes(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	id, err := tr.CreateNotification(ctx, "alice", "seat0", 30*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, domain.EventIdled, nextEvent(t, m, time.Second).Kind)

	require.NoError(t, tr.RecordActivity("seat0"))
	event := nextEvent(t, m, time.Second)
	assert.Equal(t, domain.EventResumed, event.Kind)
	assert.Equal(t, id, event.Subscription)

	// Re-armed from the activity
	event = nextEvent(t, m, time.Second)
	assert.Equal(t, domain.EventIdled, event.Kind)
}

func TestContinuousActivityKeepsActive(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")

	_, err := tr.CreateNotification(context.Background(), "alice", "seat0", 80*time.Millisecond)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, tr.RecordActivity("seat0"))
		time.Sleep(20 * time.Millisecond)
	}
	assert.Equal(t, 0, m.Len())

	assert.Equal(t, domain.EventIdled, nextEvent(t, m, time.Second).Kind)
}

func TestDestroyBeforeDeadline(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	id, err := tr.CreateNotification(ctx, "alice", "seat0", 40*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, tr.DestroyNotification(ctx, "alice", id))
	require.NoError(t, tr.DestroyNotification(ctx, "alice", id))

	assertNoEvent(t, m, 120*time.Millisecond)
	assert.ErrorIs(t, tr.DestroyNotification(ctx, "alice", "bogus"), domain.ErrUnknownSubscription)
}

func TestErrorsAreReturned(t *testing.T) {
	tr, _ := startTracker(t)
	ctx := context.Background()

	_, err := tr.CreateNotification(ctx, "alice", "nope", time.Second)
	assert.ErrorIs(t, err, domain.ErrUnknownSeat)

	_, err = tr.CreateNotification(ctx, "alice", "seat0", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidTimeout)

	assert.ErrorIs(t, tr.SetTimeout(ctx, "alice", "nope", time.Second), domain.ErrUnknownSubscription)
	assert.ErrorIs(t, tr.RecordActivity("nope"), domain.ErrUnknownSeat)
	assert.ErrorIs(t, tr.Uninhibit(ctx, "alice", 42), domain.ErrUnknownInhibitor)

	_, err = tr.Inhibit(ctx, "alice", "nope", "app", "")
	assert.ErrorIs(t, err, domain.ErrUnknownSeat)
}

func TestSetTimeoutOnIdle(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	id, err := tr.CreateNotification(ctx, "alice", "seat0", 20*time.Millisecond)
	require.NoError(t, err)
	nextEvent(t, m, time.Second)

	assert.ErrorIs(t, tr.SetTimeout(ctx, "alice", id, time.Second), domain.ErrSubscriptionIdle)
}

func TestSetTimeoutShortensDeadline(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	id, err := tr.CreateNotification(ctx, "alice", "seat0", time.Hour)
	require.NoError(t, err)
	require.NoError(t, tr.SetTimeout(ctx, "alice", id, 30*time.Millisecond))

	event := nextEvent(t, m, time.Second)
	assert.Equal(t, id, event.Subscription)
}

func TestEndSession(t *testing.T) {
	tr, d := startTracker(t)
	alice := d.Attach("alice")
	bob := d.Attach("bob")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tr.CreateNotification(ctx, "alice", "seat0", 40*time.Millisecond)
		require.NoError(t, err)
	}
	kept, err := tr.CreateNotification(ctx, "bob", "seat0", 40*time.Millisecond)
	require.NoError(t, err)

	_, err = tr.Inhibit(ctx, "alice", "seat1", "player", "video")
	require.NoError(t, err)

	require.NoError(t, tr.EndSession(ctx, "alice"))

	snap, err := tr.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	assert.Equal(t, kept, snap[0].ID)

	inhibitors, err := tr.Inhibitors(ctx)
	require.NoError(t, err)
	assert.Empty(t, inhibitors)

	assert.Equal(t, kept, nextEvent(t, bob, time.Second).Subscription)
	assertNoEvent(t, alice, 80*time.Millisecond)
}

func TestInhibitorHoldsIdle(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	info, err := tr.Inhibit(ctx, "alice", "seat0", "player", "video")
	require.NoError(t, err)
	assert.NotZero(t, info.Cookie)

	_, err = tr.CreateNotification(ctx, "alice", "seat0", 30*time.Millisecond)
	require.NoError(t, err)
	assertNoEvent(t, m, 120*time.Millisecond)

	seats, err := tr.Seats(ctx)
	require.NoError(t, err)
	require.Len(t, seats, 2)
	assert.True(t, seats[0].Inhibited)
	assert.Equal(t, 1, seats[0].Subscriptions)

	released := time.Now()
	require.NoError(t, tr.Uninhibit(ctx, "alice", info.Cookie))
	event := nextEvent(t, m, time.Second)
	assert.Equal(t, domain.EventIdled, event.Kind)
	assert.GreaterOrEqual(t, time.Since(released), 30*time.Millisecond)
}

func TestRemoveSeatDestroysSilently(t *testing.T) {
	tr, d := startTracker(t)
	m := d.Attach("alice")
	ctx := context.Background()

	_, err := tr.CreateNotification(ctx, "alice", "seat1", 30*time.Millisecond)
	require.NoError(t, err)

	removed, err := tr.RemoveSeat(ctx, "seat1")
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = tr.RemoveSeat(ctx, "seat1")
	require.NoError(t, err)
	assert.False(t, removed)

	assertNoEvent(t, m, 80*time.Millisecond)
	assert.ErrorIs(t, tr.RecordActivity("seat1"), domain.ErrUnknownSeat)

	added, err := tr.AddSeat(ctx, "seat1")
	require.NoError(t, err)
	assert.True(t, added)
	assert.NoError(t, tr.RecordActivity("seat1"))
}

func TestConcurrentClients(t *testing.T) {
	tr, d := startTracker(t)
	ctx := context.Background()

	const clients = 20
	var wg sync.WaitGroup
	for i := 0; i < clients; i++ {
		owner := domain.OwnerID(string(rune('a' + i)))
		m := d.Attach(owner)
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := tr.CreateNotification(ctx, owner, "seat0", 30*time.Millisecond)
			if !assert.NoError(t, err) {
				return
			}
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			event, err := m.Next(waitCtx)
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, id, event.Subscription)
			assert.Equal(t, domain.EventIdled, event.Kind)
		}()
	}
	wg.Wait()
}

func TestStoppedTracker(t *testing.T) {
	clk, err := clock.NewMonotonic()
	require.NoError(t, err)
	tr, err := NewTracker(DefaultConfig(), clk, seat.NewRegistry("seat0"), dispatcher.New())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()
	require.Eventually(t, tr.Ready, time.Second, time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.False(t, tr.Ready())

	_, err = tr.CreateNotification(context.Background(), "alice", "seat0", time.Second)
	assert.ErrorIs(t, err, ErrStopped)
}

// stallingClock wraps a manual clock. Once armed, the next Now call signals
// read and then stalls before returning the value it read.
type stallingClock struct {
	*clock.Manual
	armed atomic.Bool
	read  chan struct{}
	stall time.Duration
}

func (c *stallingClock) Now() clock.Timestamp {
	now := c.Manual.Now()
	if c.armed.CompareAndSwap(true, false) {
		close(c.read)
		time.Sleep(c.stall)
	}
	return now
}

func TestActivityStampedBeforeDeadlineIsNotLost(t *testing.T) {
	clk := &stallingClock{
		Manual: clock.NewManual(0),
		read:   make(chan struct{}),
		stall:  50 * time.Millisecond,
	}
	tr, d := startTrackerWithClock(t, clk)
	m := d.Attach("alice")
	ctx := context.Background()

	_, err := tr.CreateNotification(ctx, "alice", "seat0", time.Hour)
	require.NoError(t, err)

	// Activity is stamped one millisecond before the deadline, then the clock
	// passes the deadline while the stamp is still on its way to the loop
	clk.Set(clock.Timestamp(time.Hour - time.Millisecond))
	clk.armed.Store(true)
	recorded := make(chan error, 1)
	go func() { recorded <- tr.RecordActivity("seat0") }()

	<-clk.read
	clk.Set(clock.Timestamp(time.Hour))
	_, err = tr.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, <-recorded)
	subs, err := tr.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, domain.StateActive, subs[0].State)

	assertNoEvent(t, m, 50*time.Millisecond)
}
