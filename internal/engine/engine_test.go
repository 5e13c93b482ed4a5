package engine

import (
	"context"
	"testing"
	"time"

	"github.com/nkkko/idled/internal/config"
	"github.com/nkkko/idled/internal/journal"
	"github.com/nkkko/idled/internal/source"
	"github.com/nkkko/idled/pkg/client"
	"github.com/nkkko/idled/pkg/proto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Seats = []string{"seat0", "seat1"}
	cfg.Journal.Type = "badger"
	cfg.Journal.DataDir = t.TempDir()
	cfg.Journal.SyncIntervalMs = 5
	cfg.Notifier.HeartbeatIntervalMs = 100
	cfg.Notifier.ReadTimeoutMs = 1000
	require.NoError(t, cfg.Validate())
	return cfg
}

func nextEvent(t *testing.T, s *client.Session) proto.Event {
	t.Helper()
	select {
	case event, ok := <-s.Events():
		require.True(t, ok, "events closed")
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("no event")
		return proto.Event{}
	}
}

func TestEngineEndToEnd(t *testing.T) {
	cfg := testConfig(t)

	e, err := CreateEngine(cfg)
	require.NoError(t, err)

	input := source.NewChannel(16)
	e.AddInput(input)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Start(ctx) }()

	require.Eventually(t, func() bool {
		return e.API().Addr() != nil && e.Tracker().Ready()
	}, 2*time.Second, 5*time.Millisecond)

	c, err := client.New("http://" + e.API().Addr().String())
	require.NoError(t, err)

	s, err := c.Dial(ctx)
	require.NoError(t, err)

	// Two timeouts on one seat fire in order, once each
	short, err := s.CreateNotification(ctx, "seat0", 40*time.Millisecond)
	require.NoError(t, err)
	long, err := s.CreateNotification(ctx, "seat0", 120*time.Millisecond)
	require.NoError(t, err)

	first := nextEvent(t, s)
	assert.Equal(t, proto.EventIdled, first.Kind)
	assert.Equal(t, short, first.SubscriptionId)
	second := nextEvent(t, s)
	assert.Equal(t, proto.EventIdled, second.Kind)
	assert.Equal(t, long, second.SubscriptionId)

	// Activity from an input source resumes both
	require.NoError(t, input.Send(ctx, "seat0"))
	resumed := map[string]bool{}
	for i := 0; i < 2; i++ {
		event := nextEvent(t, s)
		assert.Equal(t, proto.EventResumed, event.Kind)
		resumed[event.SubscriptionId] = true
	}
	assert.True(t, resumed[short] && resumed[long])

	require.NoError(t, s.Close())
	assert.Eventually(t, func() bool {
		subs, err := c.Notifications(ctx, "")
		return err == nil && len(subs) == 0
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine did not stop")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	require.NoError(t, e.Shutdown(shutdownCtx))

	// The journal survives a restart
	j, err := journal.NewBadger(cfg.ToJournalConfig())
	require.NoError(t, err)
	defer j.Shutdown(context.Background())

	records, err := j.List(context.Background(), "seat0", 10)
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, "resumed", records[0].Kind)
	assert.Equal(t, "idled", records[3].Kind)
}

func TestCreateEngineRejectsUnknownJournal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Type = "sqlite"

	_, err := CreateEngine(cfg)
	assert.Error(t, err)
}

func TestEngineStopsOnInputFailure(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Type = "memory"
	cfg.Input.FIFOPath = t.TempDir() + "/missing.fifo"

	e, err := CreateEngine(cfg)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.Start(context.Background()) }()

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("engine kept running without its input")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, e.Shutdown(shutdownCtx))
}
