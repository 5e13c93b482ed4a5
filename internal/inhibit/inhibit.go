// Package inhibit tracks idle inhibitors: cookies held by client sessions
// that keep a seat from going idle, for example during video playback.
package inhibit

import (
	"fmt"
	"sort"

	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains inhibitor configuration
type Config struct {
	// MaxPerOwner caps the inhibitors one session may hold. Zero means no limit.
	MaxPerOwner int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		MaxPerOwner: 64,
	}
}

// Manager holds inhibitors by cookie. Like the registry it is owned by the
// tracker loop and not safe for concurrent use.
type Manager struct {
	config     Config
	inhibitors map[uint32]domain.InhibitorInfo
	perSeat    map[domain.SeatID]int
	perOwner   map[domain.OwnerID]int
	nextCookie uint32
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewManager creates a new inhibitor manager
func NewManager(config Config) *Manager {
	return &Manager{
		config:     config,
		inhibitors: make(map[uint32]domain.InhibitorInfo),
		perSeat:    make(map[domain.SeatID]int),
		perOwner:   make(map[domain.OwnerID]int),
		metrics:    metrics.GetMetrics(),
		logger:     log.With().Str("component", "inhibit").Logger(),
	}
}

// Inhibit registers an inhibitor on seat. started reports whether the seat
// was not inhibited before.
func (m *Manager) Inhibit(owner domain.OwnerID, seat domain.SeatID, application, reason string, now clock.Timestamp) (info domain.InhibitorInfo, started bool, err error) {
	if m.config.MaxPerOwner > 0 && m.perOwner[owner] >= m.config.MaxPerOwner {
		return domain.InhibitorInfo{}, false, fmt.Errorf("inhibit %q for %s: %w", seat, owner, domain.ErrTooManyInhibitors)
	}

	info = domain.InhibitorInfo{
		Cookie:      m.allocateCookie(),
		Seat:        seat,
		Owner:       owner,
		Application: application,
		Reason:      reason,
		Since:       now,
	}
	m.inhibitors[info.Cookie] = info
	m.perOwner[owner]++
	m.perSeat[seat]++

	m.metrics.InhibitorsAcquired.Inc()
	m.metrics.InhibitorsActive.Inc()

	m.logger.Debug().
		Uint32("cookie", info.Cookie).
		Str("seat", string(seat)).
		Str("owner", string(owner)).
		Str("application", application).
		Str("reason", reason).
		Msg("Inhibitor acquired")

	return info, m.perSeat[seat] == 1, nil
}

// Release removes the inhibitor identified by cookie. lifted reports whether
// it was the seat's last one.
func (m *Manager) Release(owner domain.OwnerID, cookie uint32) (info domain.InhibitorInfo, lifted bool, err error) {
	info, ok := m.inhibitors[cookie]
	if !ok || info.Owner != owner {
		return domain.InhibitorInfo{}, false, fmt.Errorf("release inhibitor %d: %w", cookie, domain.ErrUnknownInhibitor)
	}
	return info, m.drop(info), nil
}

// ReleaseOwner removes every inhibitor held by owner and returns the seats
// that are no longer inhibited.
func (m *Manager) ReleaseOwner(owner domain.OwnerID) []domain.SeatID {
	var lifted []domain.SeatID
	for _, info := range m.List() {
		if info.Owner == owner && m.drop(info) {
			lifted = append(lifted, info.Seat)
		}
	}
	return lifted
}

// ReleaseSeat removes every inhibitor on seat and returns how many there were
func (m *Manager) ReleaseSeat(seat domain.SeatID) int {
	n := 0
	for _, info := range m.List() {
		if info.Seat == seat {
			m.drop(info)
			n++
		}
	}
	return n
}

// Inhibited reports whether seat has at least one inhibitor
func (m *Manager) Inhibited(seat domain.SeatID) bool {
	return m.perSeat[seat] > 0
}

// List returns every inhibitor ordered by cookie
func (m *Manager) List() []domain.InhibitorInfo {
	out := make([]domain.InhibitorInfo, 0, len(m.inhibitors))
	for _, info := range m.inhibitors {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cookie < out[j].Cookie })
	return out
}

func (m *Manager) drop(info domain.InhibitorInfo) bool {
	delete(m.inhibitors, info.Cookie)

	if m.perOwner[info.Owner]--; m.perOwner[info.Owner] <= 0 {
		delete(m.perOwner, info.Owner)
	}
	lifted := false
	if m.perSeat[info.Seat]--; m.perSeat[info.Seat] <= 0 {
		delete(m.perSeat, info.Seat)
		lifted = true
	}

	m.metrics.InhibitorsReleased.Inc()
	m.metrics.InhibitorsActive.Dec()

	m.logger.Debug().
		Uint32("cookie", info.Cookie).
		Str("seat", string(info.Seat)).
		Str("owner", string(info.Owner)).
		Msg("Inhibitor released")

	return lifted
}

// allocateCookie returns the next free non-zero cookie
func (m *Manager) allocateCookie() uint32 {
	for {
		m.nextCookie++
		if m.nextCookie == 0 {
			continue
		}
		if _, taken := m.inhibitors[m.nextCookie]; !taken {
			return m.nextCookie
		}
	}
}
