// Package dispatcher hands registry transitions to the sessions that own
// them. Every owner has an unbounded mailbox so the tracker loop never waits
// on a slow client and no transition is ever dropped.
package dispatcher

import (
	"context"
	"errors"
	"sync"

	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Ensure Dispatcher implements domain.Emitter
var _ domain.Emitter = (*Dispatcher)(nil)

// ErrDetached is returned by Mailbox.Next once the owner has been detached
var ErrDetached = errors.New("mailbox detached")

// Mailbox is the FIFO of undelivered events of one owner
type Mailbox struct {
	owner  domain.OwnerID
	mu     sync.Mutex
	queue  []domain.Event
	signal chan struct{}
	done   chan struct{}
	closed bool
}

func newMailbox(owner domain.OwnerID) *Mailbox {
	return &Mailbox{
		owner:  owner,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Owner returns the session the mailbox belongs to
func (m *Mailbox) Owner() domain.OwnerID {
	return m.owner
}

// Next blocks until an event is available, the mailbox is detached or ctx
// is done.
func (m *Mailbox) Next(ctx context.Context) (domain.Event, error) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return domain.Event{}, ErrDetached
		}
		if len(m.queue) > 0 {
			event := m.queue[0]
			m.queue[0] = domain.Event{}
			m.queue = m.queue[1:]
			m.mu.Unlock()
			metrics.GetMetrics().DispatcherQueueSize.Dec()
			return event, nil
		}
		m.mu.Unlock()

		select {
		case <-m.signal:
		case <-m.done:
		case <-ctx.Done():
			return domain.Event{}, ctx.Err()
		}
	}
}

// Len returns the number of queued events
func (m *Mailbox) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queue)
}

func (m *Mailbox) push(event domain.Event) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.queue = append(m.queue, event)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *Mailbox) discard(id domain.SubscriptionID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.queue[:0]
	for _, event := range m.queue {
		if event.Subscription != id {
			kept = append(kept, event)
		}
	}
	removed := len(m.queue) - len(kept)
	for i := len(kept); i < len(m.queue); i++ {
		m.queue[i] = domain.Event{}
	}
	m.queue = kept
	return removed
}

func (m *Mailbox) close() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0
	}
	m.closed = true
	pending := len(m.queue)
	m.queue = nil
	close(m.done)
	return pending
}

// Dispatcher routes events to mailboxes by owner and notifies sinks
type Dispatcher struct {
	mu        sync.RWMutex
	mailboxes map[domain.OwnerID]*Mailbox
	sinks     []domain.Sink
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New creates a dispatcher. Sinks observe every event before it is queued.
func New(sinks ...domain.Sink) *Dispatcher {
	return &Dispatcher{
		mailboxes: make(map[domain.OwnerID]*Mailbox),
		sinks:     sinks,
		metrics:   metrics.GetMetrics(),
		logger:    log.With().Str("component", "dispatcher").Logger(),
	}
}

// AddSink registers another observer. It must be called before the tracker
// starts emitting.
func (d *Dispatcher) AddSink(sink domain.Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks = append(d.sinks, sink)
}

// Attach creates the mailbox of owner, replacing a previous one
func (d *Dispatcher) Attach(owner domain.OwnerID) *Mailbox {
	mailbox := newMailbox(owner)

	d.mu.Lock()
	previous := d.mailboxes[owner]
	d.mailboxes[owner] = mailbox
	d.mu.Unlock()

	if previous != nil {
		d.metrics.DispatcherQueueSize.Sub(float64(previous.close()))
	}
	return mailbox
}

// Detach closes the mailbox of owner and drops its undelivered events
func (d *Dispatcher) Detach(owner domain.OwnerID) {
	d.mu.Lock()
	mailbox, ok := d.mailboxes[owner]
	delete(d.mailboxes, owner)
	d.mu.Unlock()

	if ok {
		d.metrics.DispatcherQueueSize.Sub(float64(mailbox.close()))
	}
}

// Emit queues event for its owner. It never blocks.
func (d *Dispatcher) Emit(event domain.Event) {
	d.mu.RLock()
	mailbox, ok := d.mailboxes[event.Owner]
	sinks := d.sinks
	d.mu.RUnlock()

	// Sinks see the event before its owner can
	for _, sink := range sinks {
		sink.Observe(event)
	}

	if ok && mailbox.push(event) {
		d.metrics.DispatcherQueueSize.Inc()
	} else {
		d.logger.Debug().
			Str("owner", string(event.Owner)).
			Str("subscription", string(event.Subscription)).
			Str("kind", event.Kind.String()).
			Msg("No mailbox for event owner")
	}
}

// Discard removes every queued event of subscription id
func (d *Dispatcher) Discard(owner domain.OwnerID, id domain.SubscriptionID) {
	d.mu.RLock()
	mailbox, ok := d.mailboxes[owner]
	d.mu.RUnlock()

	if !ok {
		return
	}
	if n := mailbox.discard(id); n > 0 {
		d.metrics.DispatcherQueueSize.Sub(float64(n))
		d.logger.Debug().
			Str("owner", string(owner)).
			Str("subscription", string(id)).
			Int("discarded", n).
			Msg("Discarded undelivered events")
	}
}

// Close detaches every mailbox
func (d *Dispatcher) Close() {
	d.mu.Lock()
	mailboxes := d.mailboxes
	d.mailboxes = make(map[domain.OwnerID]*Mailbox)
	d.mu.Unlock()

	for _, mailbox := range mailboxes {
		d.metrics.DispatcherQueueSize.Sub(float64(mailbox.close()))
	}
}
