package domain

import "errors"

// Client-input errors. None of them is fatal to the daemon.
var (
	ErrUnknownSeat         = errors.New("unknown seat")
	ErrInvalidTimeout      = errors.New("timeout must be positive")
	ErrUnknownSubscription = errors.New("unknown subscription")
	ErrSubscriptionIdle    = errors.New("subscription is idle")
	ErrUnknownInhibitor    = errors.New("unknown inhibitor")
	ErrTooManyInhibitors   = errors.New("too many inhibitors held by session")
)
