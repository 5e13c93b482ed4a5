package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nkkko/idled/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordingSink) Observe(event domain.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func idled(owner domain.OwnerID, id domain.SubscriptionID) domain.Event {
	return domain.Event{Kind: domain.EventIdled, Owner: owner, Subscription: id, Seat: "seat0"}
}

func next(t *testing.T, m *Mailbox) domain.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	event, err := m.Next(ctx)
	require.NoError(t, err)
	return event
}

func TestEmitRoutesByOwner(t *testing.T) {
	d := New()
	alice := d.Attach("alice")
	bob := d.Attach("bob")

	d.Emit(idled("alice", "a1"))
	d.Emit(idled("bob", "b1"))
	d.Emit(idled("alice", "a2"))

	assert.Equal(t, 2, alice.Len())
	assert.Equal(t, 1, bob.Len())

	assert.Equal(t, domain.SubscriptionID("a1"), next(t, alice).Subscription)
	assert.Equal(t, domain.SubscriptionID("a2"), next(t, alice).Subscription)
	assert.Equal(t, domain.SubscriptionID("b1"), next(t, bob).Subscription)
}

func TestEmitNeverBlocksOrDrops(t *testing.T) {
	d := New()
	m := d.Attach("alice")

	const n = 10000
	done := make(chan struct{})
	go func() {
		for i := 0; i < n; i++ {
			d.Emit(idled("alice", "a"))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Emit blocked with no reader")
	}
	assert.Equal(t, n, m.Len())
}

func TestNextWaitsForEvent(t *testing.T) {
	d := New()
	m := d.Attach("alice")

	got := make(chan domain.Event, 1)
	go func() {
		event, err := m.Next(context.Background())
		if err == nil {
			got <- event
		}
	}()

	time.Sleep(20 * time.Millisecond)
	d.Emit(idled("alice", "late"))

	select {
	case event := <-got:
		assert.Equal(t, domain.SubscriptionID("late"), event.Subscription)
	case <-time.After(time.Second):
		t.Fatal("Next did not wake up")
	}
}

func TestNextHonoursContext(t *testing.T) {
	d := New()
	m := d.Attach("alice")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDetachUnblocksReader(t *testing.T) {
	d := New()
	m := d.Attach("alice")
	d.Emit(idled("alice", "a1"))

	errs := make(chan error, 1)
	go func() {
		// First call returns the queued event, second blocks
		_, _ = m.Next(context.Background())
		_, err := m.Next(context.Background())
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	d.Detach("alice")

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, ErrDetached)
	case <-time.After(time.Second):
		t.Fatal("Detach did not unblock Next")
	}

	// Events for a detached owner go nowhere
	d.Emit(idled("alice", "a2"))
	assert.Equal(t, 0, m.Len())
}

func TestDiscard(t *testing.T) {
	d := New()
	m := d.Attach("alice")

	d.Emit(idled("alice", "keep"))
	d.Emit(idled("alice", "drop"))
	d.Emit(domain.Event{Kind: domain.EventResumed, Owner: "alice", Subscription: "drop"})
	d.Emit(idled("alice", "keep2"))

	d.Discard("alice", "drop")
	d.Discard("nobody", "drop")

	require.Equal(t, 2, m.Len())
	assert.Equal(t, domain.SubscriptionID("keep"), next(t, m).Subscription)
	assert.Equal(t, domain.SubscriptionID("keep2"), next(t, m).Subscription)
}

func TestSinksObserveEveryEvent(t *testing.T) {
	sink := &recordingSink{}
	d := New(sink)
	d.Attach("alice")

	d.Emit(idled("alice", "a1"))
	d.Emit(idled("nobody", "n1"))

	other := &recordingSink{}
	d.AddSink(other)
	d.Emit(idled("alice", "a2"))

	assert.Len(t, sink.events, 3)
	assert.Len(t, other.events, 1)
}

func TestAttachReplacesMailbox(t *testing.T) {
	d := New()
	old := d.Attach("alice")
	d.Emit(idled("alice", "a1"))

	fresh := d.Attach("alice")
	_, err := old.Next(context.Background())
	assert.ErrorIs(t, err, ErrDetached)
	assert.Equal(t, 0, fresh.Len())

	d.Close()
	_, err = fresh.Next(context.Background())
	assert.ErrorIs(t, err, ErrDetached)
}
