package inhibit

import (
	"math"
	"testing"

	"github.com/nkkko/idled/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInhibitAndRelease(t *testing.T) {
	m := NewManager(DefaultConfig())

	first, started, err := m.Inhibit("alice", "seat0", "mpv", "playing video", 10)
	require.NoError(t, err)
	assert.True(t, started)
	assert.NotZero(t, first.Cookie)
	assert.True(t, m.Inhibited("seat0"))
	assert.False(t, m.Inhibited("seat1"))

	second, started, err := m.Inhibit("bob", "seat0", "firefox", "call", 20)
	require.NoError(t, err)
	assert.False(t, started)
	assert.NotEqual(t, first.Cookie, second.Cookie)

	_, lifted, err := m.Release("alice", first.Cookie)
	require.NoError(t, err)
	assert.False(t, lifted)
	assert.True(t, m.Inhibited("seat0"))

	info, lifted, err := m.Release("bob", second.Cookie)
	require.NoError(t, err)
	assert.True(t, lifted)
	assert.Equal(t, "firefox", info.Application)
	assert.False(t, m.Inhibited("seat0"))
}

func TestReleaseErrors(t *testing.T) {
	m := NewManager(DefaultConfig())

	info, _, err := m.Inhibit("alice", "seat0", "mpv", "", 0)
	require.NoError(t, err)

	_, _, err = m.Release("bob", info.Cookie)
	assert.ErrorIs(t, err, domain.ErrUnknownInhibitor)

	_, _, err = m.Release("alice", info.Cookie+1)
	assert.ErrorIs(t, err, domain.ErrUnknownInhibitor)

	_, _, err = m.Release("alice", info.Cookie)
	require.NoError(t, err)
	_, _, err = m.Release("alice", info.Cookie)
	assert.ErrorIs(t, err, domain.ErrUnknownInhibitor)
}

func TestReleaseOwner(t *testing.T) {
	m := NewManager(DefaultConfig())

	_, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	require.NoError(t, err)
	_, _, err = m.Inhibit("alice", "seat1", "a", "", 0)
	require.NoError(t, err)
	_, _, err = m.Inhibit("bob", "seat1", "b", "", 0)
	require.NoError(t, err)

	lifted := m.ReleaseOwner("alice")
	assert.Equal(t, []domain.SeatID{"seat0"}, lifted)
	assert.False(t, m.Inhibited("seat0"))
	assert.True(t, m.Inhibited("seat1"))

	list := m.List()
	require.Len(t, list, 1)
	assert.Equal(t, domain.OwnerID("bob"), list[0].Owner)
}

func TestReleaseSeat(t *testing.T) {
	m := NewManager(DefaultConfig())

	for i := 0; i < 3; i++ {
		_, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
		require.NoError(t, err)
	}
	assert.Equal(t, 3, m.ReleaseSeat("seat0"))
	assert.False(t, m.Inhibited("seat0"))
	assert.Empty(t, m.List())

	// Per-owner accounting is released too
	m.config.MaxPerOwner = 1
	_, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	assert.NoError(t, err)
}

func TestMaxPerOwner(t *testing.T) {
	m := NewManager(Config{MaxPerOwner: 2})

	for i := 0; i < 2; i++ {
		_, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
		require.NoError(t, err)
	}
	_, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	assert.ErrorIs(t, err, domain.ErrTooManyInhibitors)

	_, _, err = m.Inhibit("bob", "seat0", "b", "", 0)
	assert.NoError(t, err)
}

func TestCookieWrapSkipsZeroAndTaken(t *testing.T) {
	m := NewManager(Config{})

	held, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	require.NoError(t, err)
	require.Equal(t, uint32(1), held.Cookie)

	m.nextCookie = math.MaxUint32 - 1
	last, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(math.MaxUint32), last.Cookie)

	wrapped, _, err := m.Inhibit("alice", "seat0", "a", "", 0)
	require.NoError(t, err)
	assert.Equal(t, uint32(2), wrapped.Cookie)
}
