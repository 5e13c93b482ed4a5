// Package source provides the input sources that report activity to the
// tracker. Physical input capture lives in the host; these sources only
// carry its signal.
package source

import (
	"context"

	"github.com/nkkko/idled/internal/domain"
)

// Ensure the sources implement domain.InputSource
var (
	_ domain.InputSource = (*Channel)(nil)
	_ domain.InputSource = (*Lines)(nil)
)

// Channel is an in-process source fed through Send
type Channel struct {
	events chan domain.SeatID
}

// NewChannel creates a channel source with the given buffer
func NewChannel(buffer int) *Channel {
	return &Channel{events: make(chan domain.SeatID, buffer)}
}

// Send reports activity on seat. It blocks while the buffer is full and ctx
// is live.
func (c *Channel) Send(ctx context.Context, seat domain.SeatID) error {
	select {
	case c.events <- seat:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards every sent seat to onActivity until ctx is done
func (c *Channel) Run(ctx context.Context, onActivity func(seat domain.SeatID)) error {
	for {
		select {
		case seat := <-c.events:
			onActivity(seat)
		case <-ctx.Done():
			return nil
		}
	}
}
