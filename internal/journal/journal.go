// Package journal records every idle transition so that the history of a
// seat can be inspected after the fact.
package journal

import (
	"context"
	"time"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
)

// Record is one journaled transition
type Record struct {
	Seq          uint64                `json:"seq"`
	Kind         string                `json:"kind"`
	Subscription domain.SubscriptionID `json:"subscription_id"`
	Seat         domain.SeatID         `json:"seat"`
	Owner        domain.OwnerID        `json:"owner"`
	Monotonic    clock.Timestamp       `json:"monotonic_ns"`
	Time         time.Time             `json:"time"`
}

// Journal stores transitions. Observe must not block the caller.
type Journal interface {
	domain.Sink

	// Start runs background work until ctx is done
	Start(ctx context.Context) error

	// List returns up to limit records of seat, newest first
	List(ctx context.Context, seat domain.SeatID, limit int) ([]Record, error)

	// Shutdown flushes pending records and releases resources
	Shutdown(ctx context.Context) error
}

func newRecord(seq uint64, event domain.Event, now time.Time) Record {
	return Record{
		Seq:          seq,
		Kind:         event.Kind.String(),
		Subscription: event.Subscription,
		Seat:         event.Seat,
		Owner:        event.Owner,
		Monotonic:    event.At,
		Time:         now,
	}
}
