package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	apierrors "github.com/nkkko/idled/internal/api/errors"
	"github.com/nkkko/idled/internal/api/models"
	"github.com/nkkko/idled/internal/api/response"
	"github.com/nkkko/idled/internal/api/validation"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/logging"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/nkkko/idled/internal/telemetry"
	"github.com/nkkko/idled/pkg/proto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config contains API configuration
type Config struct {
	// Server address
	Addr string

	// Timeouts
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration

	// CORS origins; empty allows any
	AllowedOrigins []string

	// Expose /metrics
	EnableMetrics bool

	// Default and maximum number of transitions returned
	DefaultTransitionLimit int
	MaxTransitionLimit     int
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		Addr:                   "127.0.0.1:7411",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		RequestTimeout:         10 * time.Second,
		EnableMetrics:          true,
		DefaultTransitionLimit: 100,
		MaxTransitionLimit:     1000,
	}
}

// API serves the REST surface and mounts the session stream
type API struct {
	config  Config
	router  *chi.Mux
	tracker domain.Tracker
	stream  http.Handler
	journal TransitionLister
	metrics *metrics.Metrics
	logger  zerolog.Logger

	mu     sync.Mutex
	server *http.Server
	addr   net.Addr
}

// NewAPI creates a new API instance
func NewAPI(config Config, tracker domain.Tracker, stream http.Handler, journal TransitionLister) *API {
	defaults := DefaultConfig()
	if config.Addr == "" {
		config.Addr = defaults.Addr
	}
	if config.ReadTimeout == 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout == 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.IdleTimeout == 0 {
		config.IdleTimeout = defaults.IdleTimeout
	}
	if config.RequestTimeout == 0 {
		config.RequestTimeout = defaults.RequestTimeout
	}
	if config.DefaultTransitionLimit <= 0 {
		config.DefaultTransitionLimit = defaults.DefaultTransitionLimit
	}
	if config.MaxTransitionLimit < config.DefaultTransitionLimit {
		config.MaxTransitionLimit = config.DefaultTransitionLimit
	}

	a := &API{
		config:  config,
		tracker: tracker,
		stream:  stream,
		journal: journal,
		metrics: metrics.GetMetrics(),
		logger:  log.With().Str("component", "api").Logger(),
	}
	a.router = a.newRouter()
	return a
}

// Handler returns the HTTP handler serving every route
func (a *API) Handler() http.Handler {
	return a.router
}

// Start listens on the configured address and serves until ctx is done
func (a *API) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return err
	}
	return a.Serve(ctx, listener)
}

// Serve serves on listener until ctx is done
func (a *API) Serve(ctx context.Context, listener net.Listener) error {
	server := &http.Server{
		Handler:      a.router,
		ReadTimeout:  a.config.ReadTimeout,
		WriteTimeout: a.config.WriteTimeout,
		IdleTimeout:  a.config.IdleTimeout,
	}
	a.mu.Lock()
	a.server = server
	a.addr = listener.Addr()
	a.mu.Unlock()

	a.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		return nil
	}
}

// Shutdown gracefully stops the server
func (a *API) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	server := a.server
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	a.logger.Info().Msg("Shutting down API server")
	return server.Shutdown(ctx)
}

// Addr returns the address being served, or nil before Serve
func (a *API) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

func (a *API) newRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(telemetry.HTTPMiddleware(telemetry.ServiceName))
	r.Use(logging.HTTPMiddleware())
	r.Use(a.metricsMiddleware)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.allowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))

	r.Get("/healthz", a.handleHealth)
	r.Get("/readyz", a.handleReady)
	if a.config.EnableMetrics {
		r.Handle("/metrics", promhttp.Handler())
	}

	// Long-lived; kept out of the request timeout
	if a.stream != nil {
		r.Get("/stream", a.stream.ServeHTTP)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(a.config.RequestTimeout))

		r.Route("/seats", func(r chi.Router) {
			r.Get("/", a.handleListSeats)
			r.Route("/{seat}", func(r chi.Router) {
				r.Put("/", a.handleAddSeat)
				r.Delete("/", a.handleRemoveSeat)
				r.Post("/activity", a.handleActivity)
				r.Get("/transitions", a.handleTransitions)
			})
		})
		r.Get("/notifications", a.handleNotifications)
		r.Get("/inhibitors", a.handleInhibitors)
	})

	return r
}

func (a *API) allowedOrigins() []string {
	if len(a.config.AllowedOrigins) == 0 {
		return []string{"*"}
	}
	return a.config.AllowedOrigins
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{Status: "ok"})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	if !a.tracker.Ready() {
		response.Error(w, r, apierrors.UnavailableError("not_ready", "idle tracker is not running"))
		return
	}
	response.JSON(w, r, http.StatusOK, models.Health{Status: "ready"})
}

func seatParam(r *http.Request) (domain.SeatID, error) {
	seat := chi.URLParam(r, "seat")
	if err := validation.SeatName(seat); err != nil {
		return "", err
	}
	return domain.SeatID(seat), nil
}

func (a *API) handleListSeats(w http.ResponseWriter, r *http.Request) {
	seats, err := a.tracker.Seats(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	data := make([]proto.Seat, 0, len(seats))
	for _, info := range seats {
		data = append(data, models.SeatFromDomain(info))
	}
	response.WithMeta(w, r, http.StatusOK, data, models.ListMeta{Count: len(data)})
}

func (a *API) handleAddSeat(w http.ResponseWriter, r *http.Request) {
	seat, err := seatParam(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	added, err := a.tracker.AddSeat(r.Context(), seat)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	status := http.StatusOK
	if added {
		status = http.StatusCreated
		logger := logging.FromContext(r.Context())
		logger.Info().Str("seat", string(seat)).Msg("Seat added")
	}
	response.JSON(w, r, status, models.SeatChange{Seat: string(seat), Changed: added})
}

func (a *API) handleRemoveSeat(w http.ResponseWriter, r *http.Request) {
	seat, err := seatParam(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	removed, err := a.tracker.RemoveSeat(r.Context(), seat)
	if err != nil {
		response.Error(w, r, err)
		return
	}
	if !removed {
		response.Error(w, r, domain.ErrUnknownSeat)
		return
	}

	logger := logging.FromContext(r.Context())
	logger.Info().Str("seat", string(seat)).Msg("Seat removed")
	response.JSON(w, r, http.StatusOK, models.SeatChange{Seat: string(seat), Changed: true})
}

func (a *API) handleActivity(w http.ResponseWriter, r *http.Request) {
	seat, err := seatParam(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if err := a.tracker.RecordActivity(seat); err != nil {
		response.Error(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusAccepted, models.ActivityAccepted{Seat: string(seat)})
}

func (a *API) handleTransitions(w http.ResponseWriter, r *http.Request) {
	seat, err := seatParam(r)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	limit, err := validation.Limit(r.URL.Query().Get("limit"), a.config.DefaultTransitionLimit, a.config.MaxTransitionLimit)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	if a.journal == nil {
		response.Error(w, r, apierrors.UnavailableError("journal_disabled", "transition journal is not configured"))
		return
	}

	records, err := a.journal.List(r.Context(), seat, limit)
	if err != nil {
		response.Error(w, r, err)
		return
	}

	data := make([]proto.Transition, 0, len(records))
	for _, record := range records {
		data = append(data, models.TransitionFromRecord(record))
	}
	response.WithMeta(w, r, http.StatusOK, data, models.ListMeta{Count: len(data), Limit: limit})
}

func (a *API) handleNotifications(w http.ResponseWriter, r *http.Request) {
	subs, err := a.tracker.Snapshot(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	seat := r.URL.Query().Get("seat")
	owner := r.URL.Query().Get("owner")

	data := make([]proto.Subscription, 0, len(subs))
	for _, info := range subs {
		if seat != "" && string(info.Seat) != seat {
			continue
		}
		if owner != "" && string(info.Owner) != owner {
			continue
		}
		data = append(data, models.SubscriptionFromDomain(info))
	}
	response.WithMeta(w, r, http.StatusOK, data, models.ListMeta{Count: len(data)})
}

func (a *API) handleInhibitors(w http.ResponseWriter, r *http.Request) {
	inhibitors, err := a.tracker.Inhibitors(r.Context())
	if err != nil {
		response.Error(w, r, err)
		return
	}

	data := make([]proto.Inhibitor, 0, len(inhibitors))
	for _, info := range inhibitors {
		data = append(data, models.InhibitorFromDomain(info))
	}
	response.WithMeta(w, r, http.StatusOK, data, models.ListMeta{Count: len(data)})
}
