package models

import (
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/journal"
	"github.com/nkkko/idled/pkg/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// ListMeta describes a list response
type ListMeta struct {
	Count int `json:"count"`
	Limit int `json:"limit,omitempty"`
}

// SeatChange reports the outcome of adding or removing a seat
type SeatChange struct {
	Seat    string `json:"seat"`
	Changed bool   `json:"changed"`
}

// ActivityAccepted acknowledges an activity report
type ActivityAccepted struct {
	Seat string `json:"seat"`
}

// Health is returned by the health endpoints
type Health struct {
	Status string `json:"status"`
}

// SeatFromDomain converts seat state to its wire form
func SeatFromDomain(info domain.SeatInfo) proto.Seat {
	seat := proto.Seat{
		Id:            string(info.ID),
		Inhibited:     info.Inhibited,
		Subscriptions: info.Subscriptions,
	}
	if info.HasActivity {
		ms := info.LastActivity.Milliseconds()
		seat.LastActivityMs = &ms
	}
	return seat
}

// SubscriptionFromDomain converts a subscription snapshot to its wire form
func SubscriptionFromDomain(info domain.SubscriptionInfo) proto.Subscription {
	sub := proto.Subscription{
		Id:        string(info.ID),
		Seat:      string(info.Seat),
		Owner:     string(info.Owner),
		TimeoutMs: info.Timeout.Milliseconds(),
		State:     info.State.String(),
	}
	if info.State == domain.StateActive {
		sub.DeadlineMs = info.Deadline.Milliseconds()
	}
	return sub
}

// InhibitorFromDomain converts an inhibitor to its wire form
func InhibitorFromDomain(info domain.InhibitorInfo) proto.Inhibitor {
	return proto.Inhibitor{
		Cookie:      info.Cookie,
		Seat:        string(info.Seat),
		Owner:       string(info.Owner),
		Application: info.Application,
		Reason:      info.Reason,
		SinceMs:     info.Since.Milliseconds(),
	}
}

// TransitionFromRecord converts a journal record to its wire form
func TransitionFromRecord(record journal.Record) proto.Transition {
	return proto.Transition{
		Seq:            record.Seq,
		Kind:           record.Kind,
		SubscriptionId: string(record.Subscription),
		Seat:           string(record.Seat),
		Owner:          string(record.Owner),
		MonotonicMs:    record.Monotonic.Milliseconds(),
		Ts:             timestamppb.New(record.Time),
	}
}
