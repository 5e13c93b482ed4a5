package api

import (
	"context"

	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/journal"
)

// TransitionLister reads the transition history of a seat
type TransitionLister interface {
	List(ctx context.Context, seat domain.SeatID, limit int) ([]journal.Record, error)
}
