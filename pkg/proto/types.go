package proto

import (
	"fmt"

	"google.golang.org/protobuf/types/known/timestamppb"
)

// Operations a client can request over the stream
const (
	OpCreateNotification  = "create_notification"
	OpSetTimeout          = "set_timeout"
	OpDestroyNotification = "destroy_notification"
	OpInhibit             = "inhibit"
	OpUninhibit           = "uninhibit"
	OpPing                = "ping"
)

// Message types sent by the server
const (
	MessageHello     = "hello"
	MessageResponse  = "response"
	MessageEvent     = "event"
	MessageHeartbeat = "heartbeat"
)

// Event kinds
const (
	EventIdled   = "idled"
	EventResumed = "resumed"
)

// Error codes
const (
	CodeUnknownSeat         = "unknown_seat"
	CodeInvalidTimeout      = "invalid_timeout"
	CodeUnknownSubscription = "unknown_subscription"
	CodeSubscriptionIdle    = "subscription_idle"
	CodeUnknownInhibitor    = "unknown_inhibitor"
	CodeTooManyInhibitors   = "too_many_inhibitors"
	CodeBadRequest          = "bad_request"
	CodeUnknownOp           = "unknown_op"
	CodeInternal            = "internal"
)

// Request is a client request. Only the fields of Op are read.
type Request struct {
	Id             uint64 `json:"id"`
	Op             string `json:"op"`
	Seat           string `json:"seat,omitempty"`
	TimeoutMs      int64  `json:"timeout_ms,omitempty"`
	SubscriptionId string `json:"subscription_id,omitempty"`
	Application    string `json:"application,omitempty"`
	Reason         string `json:"reason,omitempty"`
	Cookie         uint32 `json:"cookie,omitempty"`
}

// Message is everything the server writes to a session
type Message struct {
	Type string `json:"type"`

	// Set on responses; Id echoes the request
	Id             uint64 `json:"id,omitempty"`
	Ok             bool   `json:"ok,omitempty"`
	Error          *Error `json:"error,omitempty"`
	SubscriptionId string `json:"subscription_id,omitempty"`
	Cookie         uint32 `json:"cookie,omitempty"`

	// Set on events
	Event *Event `json:"event,omitempty"`

	// Set on hello
	SessionId string `json:"session_id,omitempty"`

	Ts *timestamppb.Timestamp `json:"ts,omitempty"`
}

// Event is an idle state transition of one subscription
type Event struct {
	Kind           string                 `json:"kind"`
	SubscriptionId string                 `json:"subscription_id"`
	Seat           string                 `json:"seat"`
	MonotonicMs    int64                  `json:"monotonic_ms"`
	Ts             *timestamppb.Timestamp `json:"ts,omitempty"`
}

// Subscription describes an idle notification
type Subscription struct {
	Id         string `json:"id"`
	Seat       string `json:"seat"`
	Owner      string `json:"owner"`
	TimeoutMs  int64  `json:"timeout_ms"`
	State      string `json:"state"`
	DeadlineMs int64  `json:"deadline_ms,omitempty"`
}

// Inhibitor describes an idle inhibitor
type Inhibitor struct {
	Cookie      uint32 `json:"cookie"`
	Seat        string `json:"seat"`
	Owner       string `json:"owner"`
	Application string `json:"application,omitempty"`
	Reason      string `json:"reason,omitempty"`
	SinceMs     int64  `json:"since_ms"`
}

// Seat describes a seat and its idle state
type Seat struct {
	Id             string `json:"id"`
	LastActivityMs *int64 `json:"last_activity_ms,omitempty"`
	Inhibited      bool   `json:"inhibited"`
	Subscriptions  int    `json:"subscriptions"`
}

// Transition is a journaled transition
type Transition struct {
	Seq            uint64                 `json:"seq"`
	Kind           string                 `json:"kind"`
	SubscriptionId string                 `json:"subscription_id"`
	Seat           string                 `json:"seat"`
	Owner          string                 `json:"owner"`
	MonotonicMs    int64                  `json:"monotonic_ms"`
	Ts             *timestamppb.Timestamp `json:"ts"`
}

// Error is a protocol error
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewError creates a new Error
func NewError(code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Error implements the error interface
func (e *Error) Error() string {
	return fmt.Sprintf("idled: %s: %s", e.Code, e.Message)
}
