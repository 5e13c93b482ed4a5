// Package tracker runs the event loop that owns every piece of idle state.
//
// A single goroutine (Run) owns the registry, its scheduler and activity
// monitor, and the inhibitor table. Client requests arrive as commands with
// a reply, activity arrives through a coalescing per-seat queue, and a single
// timer is armed to the earliest pending deadline. After every wake-up the
// loop applies pending activity first and only then evaluates expiry.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/inhibit"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/nkkko/idled/internal/registry"
	"github.com/nkkko/idled/internal/seat"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ensure Tracker implements domain.Tracker
var _ domain.Tracker = (*Tracker)(nil)

// ErrStopped is returned for requests made after the loop has exited
var ErrStopped = errors.New("tracker stopped")

// Config contains tracker configuration
type Config struct {
	// CommandBuffer is the capacity of the command channel
	CommandBuffer int

	Registry registry.Config
	Inhibit  inhibit.Config
}

// DefaultConfig returns a default tracker configuration
func DefaultConfig() Config {
	return Config{
		CommandBuffer: 64,
		Registry:      registry.DefaultConfig(),
		Inhibit:       inhibit.DefaultConfig(),
	}
}

type command struct {
	name string
	fn   func(now clock.Timestamp)
	done chan struct{}
}

// Tracker serialises notifications, activity and inhibitors through one loop
type Tracker struct {
	config     Config
	clock      clock.Clock
	seats      *seat.Registry
	registry   *registry.Registry
	inhibitors *inhibit.Manager
	commands   chan command

	activityMu sync.Mutex
	pending    map[domain.SeatID]clock.Timestamp
	wake       chan struct{}

	running atomic.Bool
	stopped chan struct{}
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewTracker creates a tracker. Transitions are handed to emitter.
func NewTracker(config Config, clk clock.Clock, seats *seat.Registry, emitter domain.Emitter) (*Tracker, error) {
	if config.CommandBuffer <= 0 {
		config.CommandBuffer = DefaultConfig().CommandBuffer
	}

	reg, err := registry.New(config.Registry, seats, emitter)
	if err != nil {
		return nil, fmt.Errorf("failed to create registry: %w", err)
	}

	return &Tracker{
		config:     config,
		clock:      clk,
		seats:      seats,
		registry:   reg,
		inhibitors: inhibit.NewManager(config.Inhibit),
		commands:   make(chan command, config.CommandBuffer),
		pending:    make(map[domain.SeatID]clock.Timestamp),
		wake:       make(chan struct{}, 1),
		stopped:    make(chan struct{}),
		metrics:    metrics.GetMetrics(),
		logger:     log.With().Str("component", "tracker").Logger(),
	}, nil
}

// Run processes commands, activity and deadlines until ctx is canceled
func (t *Tracker) Run(ctx context.Context) error {
	t.logger.Info().Msg("Starting idle tracker")
	t.running.Store(true)
	t.metrics.Seats.Set(float64(len(t.seats.List())))
	defer func() {
		t.running.Store(false)
		close(t.stopped)
	}()

	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		now := t.drainActivity()
		t.registry.Expire(now)

		if next, ok := t.registry.NextWake(); ok {
			wait := next.Sub(now)
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
		} else {
			timer.Stop()
		}

		select {
		case cmd := <-t.commands:
			start := time.Now()
			cmd.fn(t.clock.Now())
			close(cmd.done)
			t.metrics.CommandsTotal.WithLabelValues(cmd.name).Inc()
			t.metrics.CommandDuration.Observe(time.Since(start).Seconds())

		case <-t.wake:

		case <-timer.C:

		case <-ctx.Done():
			t.logger.Info().Msg("Context canceled, stopping idle tracker")
			return nil
		}
	}
}

// Ready reports whether the loop is running
func (t *Tracker) Ready() bool {
	return t.running.Load()
}

// CreateNotification registers an idle notification for owner
func (t *Tracker) CreateNotification(ctx context.Context, owner domain.OwnerID, seat domain.SeatID, timeout time.Duration) (domain.SubscriptionID, error) {
	var (
		id  domain.SubscriptionID
		err error
	)
	if cerr := t.do(ctx, "create_notification", func(now clock.Timestamp) {
		id, err = t.registry.Create(owner, seat, timeout, now)
	}); cerr != nil {
		return "", cerr
	}
	return id, err
}

// SetTimeout changes the timeout of an active notification
func (t *Tracker) SetTimeout(ctx context.Context, owner domain.OwnerID, id domain.SubscriptionID, timeout time.Duration) error {
	var err error
	if cerr := t.do(ctx, "set_timeout", func(clock.Timestamp) {
		err = t.registry.SetTimeout(owner, id, timeout)
	}); cerr != nil {
		return cerr
	}
	return err
}

// DestroyNotification removes a notification of owner
func (t *Tracker) DestroyNotification(ctx context.Context, owner domain.OwnerID, id domain.SubscriptionID) error {
	var err error
	if cerr := t.do(ctx, "destroy_notification", func(clock.Timestamp) {
		err = t.registry.Destroy(owner, id)
	}); cerr != nil {
		return cerr
	}
	return err
}

// EndSession destroys every notification and releases every inhibitor of owner
func (t *Tracker) EndSession(ctx context.Context, owner domain.OwnerID) error {
	return t.do(ctx, "end_session", func(now clock.Timestamp) {
		destroyed := t.registry.DestroyOwner(owner)
		lifted := t.inhibitors.ReleaseOwner(owner)
		for _, s := range lifted {
			t.registry.SetInhibited(s, false, now)
		}
		t.logger.Debug().
			Str("owner", string(owner)).
			Int("destroyed", destroyed).
			Int("seats_uninhibited", len(lifted)).
			Msg("Session ended")
	})
}

// Inhibit prevents seat from going idle until the returned cookie is released
func (t *Tracker) Inhibit(ctx context.Context, owner domain.OwnerID, seat domain.SeatID, application, reason string) (domain.InhibitorInfo, error) {
	var (
		info domain.InhibitorInfo
		err  error
	)
	if cerr := t.do(ctx, "inhibit", func(now clock.Timestamp) {
		if !t.seats.Exists(seat) {
			err = fmt.Errorf("inhibit %q: %w", seat, domain.ErrUnknownSeat)
			return
		}
		var started bool
		info, started, err = t.inhibitors.Inhibit(owner, seat, application, reason, now)
		if err == nil && started {
			t.registry.SetInhibited(seat, true, now)
		}
	}); cerr != nil {
		return domain.InhibitorInfo{}, cerr
	}
	return info, err
}

// Uninhibit releases an inhibitor of owner
func (t *Tracker) Uninhibit(ctx context.Context, owner domain.OwnerID, cookie uint32) error {
	var err error
	if cerr := t.do(ctx, "uninhibit", func(now clock.Timestamp) {
		var (
			info   domain.InhibitorInfo
			lifted bool
		)
		info, lifted, err = t.inhibitors.Release(owner, cookie)
		if err == nil && lifted {
			t.registry.SetInhibited(info.Seat, false, now)
		}
	}); cerr != nil {
		return cerr
	}
	return err
}

// RecordActivity queues input on seat. Only the latest timestamp per seat is
// kept until the loop picks it up.
func (t *Tracker) RecordActivity(seat domain.SeatID) error {
	if !t.seats.Exists(seat) {
		t.metrics.ActivityEventsTotal.WithLabelValues("unknown_seat").Inc()
		return fmt.Errorf("activity on %q: %w", seat, domain.ErrUnknownSeat)
	}
	// Stamped under the lock so the loop never evaluates a deadline at a time
	// later than activity it has not yet seen
	t.activityMu.Lock()
	now := t.clock.Now()
	if prev, ok := t.pending[seat]; !ok || now > prev {
		t.pending[seat] = now
	}
	t.activityMu.Unlock()

	select {
	case t.wake <- struct{}{}:
	default:
	}
	t.metrics.ActivityEventsTotal.WithLabelValues("accepted").Inc()
	return nil
}

// AddSeat announces a seat. It reports false if the seat already existed.
func (t *Tracker) AddSeat(ctx context.Context, s domain.SeatID) (bool, error) {
	var added bool
	if err := t.do(ctx, "add_seat", func(clock.Timestamp) {
		added = t.seats.Add(s)
		t.metrics.Seats.Set(float64(len(t.seats.List())))
	}); err != nil {
		return false, err
	}
	if added {
		t.logger.Info().Str("seat", string(s)).Msg("Seat added")
	}
	return added, nil
}

// RemoveSeat withdraws a seat, silently destroying its notifications and
// inhibitors. It reports false if the seat was unknown.
func (t *Tracker) RemoveSeat(ctx context.Context, s domain.SeatID) (bool, error) {
	var (
		removed   bool
		destroyed int
	)
	if err := t.do(ctx, "remove_seat", func(clock.Timestamp) {
		if removed = t.seats.Remove(s); !removed {
			return
		}
		t.activityMu.Lock()
		delete(t.pending, s)
		t.activityMu.Unlock()

		t.inhibitors.ReleaseSeat(s)
		destroyed = t.registry.DestroySeat(s)
		t.metrics.Seats.Set(float64(len(t.seats.List())))
	}); err != nil {
		return false, err
	}
	if removed {
		t.logger.Info().Str("seat", string(s)).Int("destroyed", destroyed).Msg("Seat removed")
	}
	return removed, nil
}

// Seats returns every seat with its activity and inhibition state
func (t *Tracker) Seats(ctx context.Context) ([]domain.SeatInfo, error) {
	var infos []domain.SeatInfo
	err := t.do(ctx, "seats", func(clock.Timestamp) {
		for _, s := range t.seats.List() {
			info := domain.SeatInfo{
				ID:            s,
				Inhibited:     t.inhibitors.Inhibited(s),
				Subscriptions: t.registry.SeatLen(s),
			}
			info.LastActivity, info.HasActivity = t.registry.LastActivity(s)
			infos = append(infos, info)
		}
	})
	return infos, err
}

// Snapshot lists every notification
func (t *Tracker) Snapshot(ctx context.Context) ([]domain.SubscriptionInfo, error) {
	var infos []domain.SubscriptionInfo
	err := t.do(ctx, "snapshot", func(clock.Timestamp) {
		infos = t.registry.Snapshot()
	})
	return infos, err
}

// Inhibitors lists every held inhibitor
func (t *Tracker) Inhibitors(ctx context.Context) ([]domain.InhibitorInfo, error) {
	var infos []domain.InhibitorInfo
	err := t.do(ctx, "inhibitors", func(clock.Timestamp) {
		infos = t.inhibitors.List()
	})
	return infos, err
}

// do runs fn inside the loop and waits for it to finish. Once a command has
// been accepted it always runs to completion, even if ctx is canceled.
func (t *Tracker) do(ctx context.Context, name string, fn func(now clock.Timestamp)) error {
	cmd := command{name: name, fn: fn, done: make(chan struct{})}

	select {
	case t.commands <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	case <-t.stopped:
		return ErrStopped
	}

	select {
	case <-cmd.done:
		return nil
	case <-t.stopped:
		select {
		case <-cmd.done:
			return nil
		default:
			return ErrStopped
		}
	}
}

// drainActivity applies queued activity in seat order and returns the time to
// evaluate deadlines at. Every activity stamped before that time is applied.
func (t *Tracker) drainActivity() clock.Timestamp {
	t.activityMu.Lock()
	now := t.clock.Now()
	if len(t.pending) == 0 {
		t.activityMu.Unlock()
		return now
	}
	pending := t.pending
	t.pending = make(map[domain.SeatID]clock.Timestamp, len(pending))
	t.activityMu.Unlock()

	seats := make([]domain.SeatID, 0, len(pending))
	for s := range pending {
		seats = append(seats, s)
	}
	sort.Slice(seats, func(i, j int) bool { return seats[i] < seats[j] })

	for _, s := range seats {
		resumed, err := t.registry.RecordActivity(s, pending[s])
		if err != nil {
			// The seat was removed after the activity was queued
			t.logger.Debug().Err(err).Str("seat", string(s)).Msg("Dropped queued activity")
			continue
		}
		if resumed > 0 {
			t.logger.Debug().Str("seat", string(s)).Int("resumed", resumed).Msg("Activity resumed notifications")
		}
	}
	return now
}
