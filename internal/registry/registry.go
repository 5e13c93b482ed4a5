// Package registry owns idle notifications and their Active/Idle state.
//
// The registry is driven by a single goroutine (the tracker loop) and is not
// safe for concurrent use. Deadlines are evaluated lazily: activity only
// touches idle subscriptions, and an active subscription whose heap entry
// comes due is re-validated against the seat's latest activity before it is
// allowed to fire.
package registry

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/nkkko/idled/internal/activity"
	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/nkkko/idled/internal/scheduler"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// generateID is replaceable in tests
var generateID = func() string {
	return uuid.New().String()
}

// Destroy reasons, used as metric labels
const (
	ReasonRequest     = "request"
	ReasonSessionEnd  = "session_end"
	ReasonSeatRemoved = "seat_removed"
)

// Config contains registry configuration
type Config struct {
	// TombstoneCapacity bounds how many destroyed ids are remembered so that a
	// repeated destroy succeeds instead of reporting an unknown id
	TombstoneCapacity int
}

// DefaultConfig returns default registry configuration
func DefaultConfig() Config {
	return Config{
		TombstoneCapacity: 4096,
	}
}

type subscription struct {
	id      domain.SubscriptionID
	seat    domain.SeatID
	owner   domain.OwnerID
	timeout time.Duration
	state   domain.State
	armedAt clock.Timestamp
	seq     uint64
}

type seatState struct {
	subs      map[domain.SubscriptionID]*subscription
	idle      map[domain.SubscriptionID]*subscription
	inhibited bool
	// releasedAt is when the seat's last inhibitor went away
	releasedAt clock.Timestamp
}

// Registry tracks every idle notification
type Registry struct {
	config     Config
	seats      domain.SeatRegistry
	monitor    *activity.Monitor
	scheduler  *scheduler.Scheduler
	emitter    domain.Emitter
	tombstones *lru.Cache
	metrics    *metrics.Metrics
	logger     zerolog.Logger

	subs    map[domain.SubscriptionID]*subscription
	bySeat  map[domain.SeatID]*seatState
	byOwner map[domain.OwnerID]map[domain.SubscriptionID]*subscription
	seq     uint64

	// lastEval is the latest instant expiry was evaluated at. Activity
	// reported with an older timestamp is treated as happening at lastEval so
	// that a resume never precedes the idle it undoes.
	lastEval clock.Timestamp
}

// New creates a registry. seats answers seat existence and emitter receives
// every transition.
func New(config Config, seats domain.SeatRegistry, emitter domain.Emitter) (*Registry, error) {
	if config.TombstoneCapacity <= 0 {
		config.TombstoneCapacity = DefaultConfig().TombstoneCapacity
	}

	tombstones, err := lru.New(config.TombstoneCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create tombstone cache: %w", err)
	}

	return &Registry{
		config:     config,
		seats:      seats,
		monitor:    activity.NewMonitor(),
		scheduler:  scheduler.New(),
		emitter:    emitter,
		tombstones: tombstones,
		metrics:    metrics.GetMetrics(),
		logger:     log.With().Str("component", "registry").Logger(),
		subs:       make(map[domain.SubscriptionID]*subscription),
		bySeat:     make(map[domain.SeatID]*seatState),
		byOwner:    make(map[domain.OwnerID]map[domain.SubscriptionID]*subscription),
	}, nil
}

// Create registers an idle notification for owner on seat. The first
// deadline is now+timeout.
func (r *Registry) Create(owner domain.OwnerID, seat domain.SeatID, timeout time.Duration, now clock.Timestamp) (domain.SubscriptionID, error) {
	if !r.seats.Exists(seat) {
		return "", fmt.Errorf("create notification on %q: %w", seat, domain.ErrUnknownSeat)
	}
	if timeout <= 0 {
		return "", fmt.Errorf("create notification with timeout %s: %w", timeout, domain.ErrInvalidTimeout)
	}

	r.seq++
	sub := &subscription{
		id:      domain.SubscriptionID(generateID()),
		seat:    seat,
		owner:   owner,
		timeout: timeout,
		state:   domain.StateActive,
		armedAt: now,
		seq:     r.seq,
	}

	r.subs[sub.id] = sub
	r.seatState(seat).subs[sub.id] = sub
	owned, ok := r.byOwner[owner]
	if !ok {
		owned = make(map[domain.SubscriptionID]*subscription)
		r.byOwner[owner] = owned
	}
	owned[sub.id] = sub

	r.scheduler.Schedule(sub.id, r.deadline(sub))

	r.metrics.SubscriptionsCreated.Inc()
	r.metrics.Subscriptions.WithLabelValues(domain.StateActive.String()).Inc()
	r.updateDepth()

	r.logger.Debug().
		Str("subscription", string(sub.id)).
		Str("seat", string(seat)).
		Str("owner", string(owner)).
		Dur("timeout", timeout).
		Msg("Notification created")

	return sub.id, nil
}

// SetTimeout changes the timeout of an active notification. The idle period
// keeps its start, so a shorter timeout that has already elapsed fires on the
// next evaluation.
func (r *Registry) SetTimeout(owner domain.OwnerID, id domain.SubscriptionID, timeout time.Duration) error {
	sub, ok := r.subs[id]
	if !ok || sub.owner != owner {
		return fmt.Errorf("set timeout of %s: %w", id, domain.ErrUnknownSubscription)
	}
	if timeout <= 0 {
		return fmt.Errorf("set timeout of %s to %s: %w", id, timeout, domain.ErrInvalidTimeout)
	}
	if sub.state == domain.StateIdle {
		return fmt.Errorf("set timeout of %s: %w", id, domain.ErrSubscriptionIdle)
	}

	sub.timeout = timeout
	r.scheduler.Schedule(id, r.deadline(sub))
	return nil
}

// Destroy removes owner's notification id. Destroying an id that was already
// destroyed succeeds; an id that was never issued to owner is an error.
func (r *Registry) Destroy(owner domain.OwnerID, id domain.SubscriptionID) error {
	sub, ok := r.subs[id]
	if ok && sub.owner == owner {
		r.remove(sub, ReasonRequest)
		return nil
	}
	if !ok {
		if prev, found := r.tombstones.Get(id); found && prev.(domain.OwnerID) == owner {
			return nil
		}
	}
	return fmt.Errorf("destroy %s: %w", id, domain.ErrUnknownSubscription)
}

// DestroyOwner removes every notification of owner and returns how many
// were removed.
func (r *Registry) DestroyOwner(owner domain.OwnerID) int {
	subs := sortedBySeq(r.byOwner[owner])
	for _, sub := range subs {
		r.remove(sub, ReasonSessionEnd)
	}
	return len(subs)
}

// DestroySeat removes every notification on seat and forgets the seat's
// activity and inhibition state.
func (r *Registry) DestroySeat(seat domain.SeatID) int {
	st, ok := r.bySeat[seat]
	if !ok {
		r.monitor.Forget(seat)
		return 0
	}
	subs := sortedBySeq(st.subs)
	for _, sub := range subs {
		r.remove(sub, ReasonSeatRemoved)
	}
	delete(r.bySeat, seat)
	r.monitor.Forget(seat)
	return len(subs)
}

// RecordActivity notes input on seat at now and resumes every idle
// notification on it. It returns the number of resumed notifications.
func (r *Registry) RecordActivity(seat domain.SeatID, now clock.Timestamp) (int, error) {
	if !r.seats.Exists(seat) {
		return 0, fmt.Errorf("activity on %q: %w", seat, domain.ErrUnknownSeat)
	}
	if now < r.lastEval {
		now = r.lastEval
	}

	at := r.monitor.Record(seat, now)

	st, ok := r.bySeat[seat]
	if !ok || len(st.idle) == 0 {
		return 0, nil
	}

	resumed := sortedBySeq(st.idle)
	for _, sub := range resumed {
		delete(st.idle, sub.id)
		sub.state = domain.StateActive
		sub.armedAt = at
		r.scheduler.Schedule(sub.id, r.deadline(sub))
		r.transition(sub, domain.EventResumed, at)
	}
	r.updateDepth()
	return len(resumed), nil
}

// SetInhibited marks seat as inhibited or not. While inhibited, due
// notifications on the seat are re-armed instead of firing. Lifting the
// inhibition restarts the idle period of every active notification on the
// seat at now.
func (r *Registry) SetInhibited(seat domain.SeatID, inhibited bool, now clock.Timestamp) {
	st := r.seatState(seat)
	if st.inhibited == inhibited {
		return
	}
	st.inhibited = inhibited
	if inhibited {
		return
	}

	st.releasedAt = now
	for _, sub := range st.subs {
		if sub.state == domain.StateActive {
			r.scheduler.Schedule(sub.id, r.deadline(sub))
		}
	}
}

// Expire fires every notification whose deadline is at or before now and
// returns how many went idle.
func (r *Registry) Expire(now clock.Timestamp) int {
	if now > r.lastEval {
		r.lastEval = now
	}

	fired := 0
	for {
		entry, ok := r.scheduler.PopDue(now)
		if !ok {
			break
		}

		sub, ok := r.subs[entry.ID]
		if !ok || sub.state != domain.StateActive {
			continue
		}

		st := r.seatState(sub.seat)
		if st.inhibited {
			sub.armedAt = now
			r.scheduler.Schedule(sub.id, r.deadline(sub))
			continue
		}

		deadline := r.deadline(sub)
		if deadline > now {
			// Activity moved the deadline since this entry was scheduled.
			r.scheduler.Schedule(sub.id, deadline)
			continue
		}

		sub.state = domain.StateIdle
		st.idle[sub.id] = sub
		r.metrics.FireLateness.Observe(now.Sub(deadline).Seconds())
		r.transition(sub, domain.EventIdled, now)
		fired++
	}

	r.updateDepth()
	return fired
}

// NextWake returns when Expire next has work to do
func (r *Registry) NextWake() (clock.Timestamp, bool) {
	return r.scheduler.NextWake()
}

// Get returns a view of a single notification
func (r *Registry) Get(id domain.SubscriptionID) (domain.SubscriptionInfo, bool) {
	sub, ok := r.subs[id]
	if !ok {
		return domain.SubscriptionInfo{}, false
	}
	return r.info(sub), true
}

// Snapshot returns every notification in creation order
func (r *Registry) Snapshot() []domain.SubscriptionInfo {
	subs := sortedBySeq(r.subs)
	infos := make([]domain.SubscriptionInfo, 0, len(subs))
	for _, sub := range subs {
		infos = append(infos, r.info(sub))
	}
	return infos
}

// LastActivity returns the last recorded activity of seat
func (r *Registry) LastActivity(seat domain.SeatID) (clock.Timestamp, bool) {
	return r.monitor.Last(seat)
}

// SeatLen returns the number of live notifications on seat
func (r *Registry) SeatLen(seat domain.SeatID) int {
	if st, ok := r.bySeat[seat]; ok {
		return len(st.subs)
	}
	return 0
}

// Len returns the number of live notifications
func (r *Registry) Len() int {
	return len(r.subs)
}

func (r *Registry) info(sub *subscription) domain.SubscriptionInfo {
	info := domain.SubscriptionInfo{
		ID:      sub.id,
		Seat:    sub.seat,
		Owner:   sub.owner,
		Timeout: sub.timeout,
		State:   sub.state,
	}
	if sub.state == domain.StateActive {
		info.Deadline = r.deadline(sub)
	}
	return info
}

// deadline is the latest of the seat's last activity, the arming time and
// the last inhibitor release, plus the timeout.
func (r *Registry) deadline(sub *subscription) clock.Timestamp {
	base := sub.armedAt
	if last, ok := r.monitor.Last(sub.seat); ok && last > base {
		base = last
	}
	if st, ok := r.bySeat[sub.seat]; ok && st.releasedAt > base {
		base = st.releasedAt
	}
	return base.Add(sub.timeout)
}

func (r *Registry) remove(sub *subscription, reason string) {
	r.scheduler.Cancel(sub.id)
	delete(r.subs, sub.id)
	if st, ok := r.bySeat[sub.seat]; ok {
		delete(st.subs, sub.id)
		delete(st.idle, sub.id)
	}
	if owned, ok := r.byOwner[sub.owner]; ok {
		delete(owned, sub.id)
		if len(owned) == 0 {
			delete(r.byOwner, sub.owner)
		}
	}
	r.tombstones.Add(sub.id, sub.owner)
	r.emitter.Discard(sub.owner, sub.id)

	r.metrics.SubscriptionsDeleted.WithLabelValues(reason).Inc()
	r.metrics.Subscriptions.WithLabelValues(sub.state.String()).Dec()
	r.updateDepth()

	r.logger.Debug().
		Str("subscription", string(sub.id)).
		Str("reason", reason).
		Msg("Notification destroyed")
}

func (r *Registry) transition(sub *subscription, kind domain.EventKind, at clock.Timestamp) {
	from, to := domain.StateIdle, domain.StateActive
	if kind == domain.EventIdled {
		from, to = domain.StateActive, domain.StateIdle
	}
	r.metrics.Subscriptions.WithLabelValues(from.String()).Dec()
	r.metrics.Subscriptions.WithLabelValues(to.String()).Inc()
	r.metrics.TransitionsTotal.WithLabelValues(kind.String()).Inc()

	r.emitter.Emit(domain.Event{
		Kind:         kind,
		Subscription: sub.id,
		Seat:         sub.seat,
		Owner:        sub.owner,
		At:           at,
	})
}

func (r *Registry) seatState(seat domain.SeatID) *seatState {
	st, ok := r.bySeat[seat]
	if !ok {
		st = &seatState{
			subs: make(map[domain.SubscriptionID]*subscription),
			idle: make(map[domain.SubscriptionID]*subscription),
		}
		r.bySeat[seat] = st
	}
	return st
}

func (r *Registry) updateDepth() {
	r.metrics.SchedulerDepth.Set(float64(r.scheduler.Len()))
}

func sortedBySeq(m map[domain.SubscriptionID]*subscription) []*subscription {
	out := make([]*subscription, 0, len(m))
	for _, sub := range m {
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}
