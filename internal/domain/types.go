package domain

import (
	"time"

	"github.com/nkkko/idled/internal/clock"
)

// SeatID identifies an input-capable session (a keyboard/pointer grouping)
type SeatID string

// SubscriptionID identifies one idle notification registration
type SubscriptionID string

// OwnerID identifies the client session that owns subscriptions and inhibitors
type OwnerID string

// State is the idle state of a subscription
type State int

const (
	// StateActive means the subscription is waiting for its deadline
	StateActive State = iota

	// StateIdle means the deadline elapsed with no activity since
	StateIdle
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateIdle:
		return "idle"
	default:
		return "unknown"
	}
}

// EventKind is the kind of transition reported to a client
type EventKind int

const (
	// EventIdled is emitted once per Active→Idle transition
	EventIdled EventKind = iota + 1

	// EventResumed is emitted once per Idle→Active transition
	EventResumed
)

func (k EventKind) String() string {
	switch k {
	case EventIdled:
		return "idled"
	case EventResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// Event is a state transition of a single subscription
type Event struct {
	Kind         EventKind
	Subscription SubscriptionID
	Seat         SeatID
	Owner        OwnerID
	At           clock.Timestamp
}

// SubscriptionInfo is a read-only view of a subscription
type SubscriptionInfo struct {
	ID       SubscriptionID
	Seat     SeatID
	Owner    OwnerID
	Timeout  time.Duration
	State    State
	Deadline clock.Timestamp // zero while idle
}

// InhibitorInfo is a read-only view of an idle inhibitor
type InhibitorInfo struct {
	Cookie      uint32
	Seat        SeatID
	Owner       OwnerID
	Application string
	Reason      string
	Since       clock.Timestamp
}

// SeatInfo is a read-only view of a seat
type SeatInfo struct {
	ID            SeatID
	LastActivity  clock.Timestamp
	HasActivity   bool
	Inhibited     bool
	Subscriptions int
}
