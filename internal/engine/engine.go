package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/nkkko/idled/internal/api"
	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/config"
	"github.com/nkkko/idled/internal/dispatcher"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/journal"
	"github.com/nkkko/idled/internal/logging"
	"github.com/nkkko/idled/internal/notifier"
	"github.com/nkkko/idled/internal/seat"
	"github.com/nkkko/idled/internal/source"
	"github.com/nkkko/idled/internal/telemetry"
	"github.com/nkkko/idled/internal/tracker"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Engine is the main coordinator of all idled components
type Engine struct {
	config     *config.Config
	journal    journal.Journal
	dispatcher *dispatcher.Dispatcher
	tracker    *tracker.Tracker
	notifier   *notifier.Notifier
	api        *api.API
	inputs     []domain.InputSource
	logger     zerolog.Logger

	telemetryFn func(context.Context) error
}

// CreateEngine creates a new Engine with every component built from cfg.
// It fails when the monotonic clock is unavailable.
func CreateEngine(cfg *config.Config) (*Engine, error) {
	clk, err := clock.NewMonotonic()
	if err != nil {
		return nil, err
	}

	j, err := journal.New(cfg.ToJournalConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize journal: %w", err)
	}

	d := dispatcher.New(j)
	seats := seat.NewRegistry(cfg.SeatIDs()...)

	tr, err := tracker.NewTracker(cfg.ToTrackerConfig(), clk, seats, d)
	if err != nil {
		j.Shutdown(context.Background())
		return nil, fmt.Errorf("failed to initialize tracker: %w", err)
	}

	n := notifier.NewNotifier(cfg.ToNotifierConfig(), tr, d, clk)
	a := api.NewAPI(cfg.ToAPIConfig(), tr, n, j)

	e := NewEngine(cfg, j, d, tr, n, a)
	if linesConfig, ok := cfg.ToLinesConfig(); ok {
		e.AddInput(source.NewLines(linesConfig))
	}
	return e, nil
}

// NewEngine creates a new Engine from already constructed components
func NewEngine(
	cfg *config.Config,
	j journal.Journal,
	d *dispatcher.Dispatcher,
	tr *tracker.Tracker,
	n *notifier.Notifier,
	a *api.API,
) *Engine {
	return &Engine{
		config:     cfg,
		journal:    j,
		dispatcher: d,
		tracker:    tr,
		notifier:   n,
		api:        a,
		logger:     logging.Component("engine"),
	}
}

// AddInput registers an activity source. Call before Start.
func (e *Engine) AddInput(src domain.InputSource) {
	e.inputs = append(e.inputs, src)
}

// Tracker returns the idle tracker
func (e *Engine) Tracker() domain.Tracker {
	return e.tracker
}

// Handler returns the HTTP handler of the API
func (e *Engine) Handler() http.Handler {
	return e.api.Handler()
}

// API returns the HTTP API
func (e *Engine) API() *api.API {
	return e.api
}

// Start runs every component until ctx is canceled or one of them fails
func (e *Engine) Start(ctx context.Context) error {
	e.logger.Info().
		Strs("seats", e.config.Seats).
		Str("journal", e.config.Journal.Type).
		Int("inputs", len(e.inputs)).
		Msg("Starting idled engine")

	telShutdown, err := telemetry.Setup(ctx, e.config.ToTelemetryConfig())
	if err != nil {
		e.logger.Warn().Err(err).Msg("Failed to set up telemetry, continuing without it")
	} else {
		e.telemetryFn = telShutdown
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return e.tracker.Run(ctx)
	})

	g.Go(func() error {
		return e.journal.Start(ctx)
	})

	g.Go(func() error {
		return e.notifier.Start(ctx)
	})

	g.Go(func() error {
		return e.api.Start(ctx)
	})

	for _, input := range e.inputs {
		input := input
		g.Go(func() error {
			return input.Run(ctx, e.onActivity)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running engine: %w", err)
	}

	e.logger.Info().Msg("idled engine stopped")
	return nil
}

func (e *Engine) onActivity(s domain.SeatID) {
	if err := e.tracker.RecordActivity(s); err != nil {
		e.logger.Debug().Err(err).Str("seat", string(s)).Msg("Dropped activity")
	}
}

// Shutdown stops the engine. Sessions are closed before the journal is
// flushed so that their final transitions are recorded.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.logger.Info().Msg("Shutting down idled engine")

	if err := e.api.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down API")
	}

	if err := e.notifier.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down notifier")
	}

	e.dispatcher.Close()

	if err := e.journal.Shutdown(ctx); err != nil {
		e.logger.Error().Err(err).Msg("Failed to shut down journal")
		return err
	}

	if e.telemetryFn != nil {
		if err := e.telemetryFn(ctx); err != nil {
			e.logger.Error().Err(err).Msg("Failed to shut down telemetry")
		}
	}

	return nil
}
