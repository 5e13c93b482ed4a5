package domain

import (
	"context"
	"time"
)

// SeatRegistry answers whether a seat currently exists
type SeatRegistry interface {
	// Exists reports whether the host has announced the seat
	Exists(seat SeatID) bool
}

// InputSource delivers raw activity from the host environment
type InputSource interface {
	// Run calls onActivity for every input event until ctx is done or the
	// source is exhausted
	Run(ctx context.Context, onActivity func(seat SeatID)) error
}

// Emitter receives transitions from the registry. Implementations must not block.
type Emitter interface {
	// Emit queues an event for the subscription's owner
	Emit(event Event)

	// Discard drops every queued, undelivered event of a destroyed subscription
	Discard(owner OwnerID, id SubscriptionID)
}

// Sink observes every emitted event after it has been queued
type Sink interface {
	Observe(event Event)
}

// Tracker is the single control path that serialises every idle state
// transition. The transport layers talk to it only through this interface.
type Tracker interface {
	CreateNotification(ctx context.Context, owner OwnerID, seat SeatID, timeout time.Duration) (SubscriptionID, error)
	SetTimeout(ctx context.Context, owner OwnerID, id SubscriptionID, timeout time.Duration) error
	DestroyNotification(ctx context.Context, owner OwnerID, id SubscriptionID) error
	Inhibit(ctx context.Context, owner OwnerID, seat SeatID, application, reason string) (InhibitorInfo, error)
	Uninhibit(ctx context.Context, owner OwnerID, cookie uint32) error

	// EndSession destroys every notification and releases every inhibitor
	// of owner in a single loop turn
	EndSession(ctx context.Context, owner OwnerID) error

	// RecordActivity reports input on seat. It does not wait for the loop.
	RecordActivity(seat SeatID) error

	AddSeat(ctx context.Context, seat SeatID) (bool, error)
	RemoveSeat(ctx context.Context, seat SeatID) (bool, error)
	Seats(ctx context.Context) ([]SeatInfo, error)
	Snapshot(ctx context.Context) ([]SubscriptionInfo, error)
	Inhibitors(ctx context.Context) ([]InhibitorInfo, error)
	Ready() bool
}
