package notifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nkkko/idled/internal/clock"
	"github.com/nkkko/idled/internal/dispatcher"
	"github.com/nkkko/idled/internal/domain"
	"github.com/nkkko/idled/internal/metrics"
	"github.com/nkkko/idled/internal/telemetry"
	"github.com/nkkko/idled/pkg/proto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Config contains notifier configuration
type Config struct {
	// Interval between heartbeat messages and pings
	HeartbeatInterval time.Duration

	// Maximum time without any frame from the client, pongs included
	ReadTimeout time.Duration

	// Maximum time to write a single message
	WriteTimeout time.Duration

	// Largest accepted client message
	MaxMessageSize int64

	// Maximum number of concurrent sessions, zero for no limit
	MaxSessions int

	// Timeout for ending a session in the tracker after disconnect
	EndSessionTimeout time.Duration
}

// DefaultConfig returns a default configuration
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      10 * time.Second,
		MaxMessageSize:    4096,
		MaxSessions:       10000,
		EndSessionTimeout: 5 * time.Second,
	}
}

// Notifier serves the session protocol over WebSocket. Each connection is one
// session: it owns the notifications and inhibitors it creates, and they are
// released when the connection goes away.
type Notifier struct {
	config     Config
	tracker    domain.Tracker
	dispatcher *dispatcher.Dispatcher
	clock      clock.Clock
	upgrader   websocket.Upgrader

	sessions map[domain.OwnerID]*session
	mu       sync.RWMutex
	wg       sync.WaitGroup

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewNotifier creates a new session server
func NewNotifier(config Config, tracker domain.Tracker, d *dispatcher.Dispatcher, clk clock.Clock) *Notifier {
	defaults := DefaultConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaults.ReadTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaults.WriteTimeout
	}
	if config.MaxMessageSize <= 0 {
		config.MaxMessageSize = defaults.MaxMessageSize
	}
	if config.EndSessionTimeout <= 0 {
		config.EndSessionTimeout = defaults.EndSessionTimeout
	}

	return &Notifier{
		config:     config,
		tracker:    tracker,
		dispatcher: d,
		clock:      clk,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		sessions: make(map[domain.OwnerID]*session),
		metrics:  metrics.GetMetrics(),
		logger:   log.With().Str("component", "notifier").Logger(),
	}
}

// Start blocks until ctx is done and then closes every session
func (n *Notifier) Start(ctx context.Context) error {
	n.logger.Info().Msg("Starting session notifier")
	<-ctx.Done()
	n.closeAll()
	return nil
}

// Sessions returns the number of connected sessions
func (n *Notifier) Sessions() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sessions)
}

// ServeHTTP upgrades the request and runs the session until disconnect
func (n *Notifier) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if n.config.MaxSessions > 0 && n.Sessions() >= n.config.MaxSessions {
		http.Error(w, "too many sessions", http.StatusServiceUnavailable)
		return
	}

	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error
		n.logger.Debug().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	s := n.register(conn)
	n.wg.Add(1)
	defer n.wg.Done()

	s.run()
	n.unregister(s)
}

// Shutdown closes every session and waits for them to end
func (n *Notifier) Shutdown(ctx context.Context) error {
	n.logger.Info().Msg("Shutting down notifier")
	n.closeAll()

	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (n *Notifier) register(conn *websocket.Conn) *session {
	id := domain.OwnerID(generateID())
	logger := n.logger.With().Str("session", string(id)).Logger()
	ctx, cancel := context.WithCancel(logger.WithContext(context.Background()))

	s := &session{
		id:        id,
		notifier:  n,
		conn:      conn,
		mailbox:   n.dispatcher.Attach(id),
		requests:  make(chan inbound, 16),
		events:    make(chan domain.Event),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		destroyed: make(map[domain.SubscriptionID]struct{}),
	}

	n.mu.Lock()
	n.sessions[id] = s
	n.mu.Unlock()

	n.metrics.SessionsActive.Inc()
	s.logger.Debug().Str("remote_addr", conn.RemoteAddr().String()).Msg("Session started")
	return s
}

func (n *Notifier) unregister(s *session) {
	n.mu.Lock()
	delete(n.sessions, s.id)
	n.mu.Unlock()

	// Disconnect is an implicit destroy of everything the session owns
	ctx, cancel := context.WithTimeout(context.Background(), n.config.EndSessionTimeout)
	defer cancel()
	if err := n.tracker.EndSession(ctx, s.id); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to end session")
	}
	n.dispatcher.Detach(s.id)

	n.metrics.SessionsActive.Dec()
	s.logger.Debug().Msg("Session ended")
}

func (n *Notifier) closeAll() {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, s := range n.sessions {
		s.cancel()
		s.conn.Close()
	}
}

// handle executes one request on behalf of owner
func (n *Notifier) handle(ctx context.Context, owner domain.OwnerID, req proto.Request) proto.Message {
	ctx, span := telemetry.StartSpan(ctx, "idled."+req.Op)
	defer span.End()
	telemetry.AddSpanAttributes(ctx,
		telemetry.SessionKey.String(string(owner)),
		telemetry.RequestIDKey.Int64(int64(req.Id)),
	)
	if req.Seat != "" {
		telemetry.AddSpanAttributes(ctx, telemetry.SeatKey.String(req.Seat))
	}
	if req.SubscriptionId != "" {
		telemetry.AddSpanAttributes(ctx, telemetry.SubscriptionKey.String(req.SubscriptionId))
	}

	resp := proto.Message{Type: proto.MessageResponse, Id: req.Id}
	var err error

	switch req.Op {
	case proto.OpCreateNotification:
		var id domain.SubscriptionID
		id, err = n.tracker.CreateNotification(ctx, owner, domain.SeatID(req.Seat), millis(req.TimeoutMs))
		resp.SubscriptionId = string(id)

	case proto.OpSetTimeout:
		err = n.tracker.SetTimeout(ctx, owner, domain.SubscriptionID(req.SubscriptionId), millis(req.TimeoutMs))
		resp.SubscriptionId = req.SubscriptionId

	case proto.OpDestroyNotification:
		err = n.tracker.DestroyNotification(ctx, owner, domain.SubscriptionID(req.SubscriptionId))
		resp.SubscriptionId = req.SubscriptionId

	case proto.OpInhibit:
		var info domain.InhibitorInfo
		info, err = n.tracker.Inhibit(ctx, owner, domain.SeatID(req.Seat), req.Application, req.Reason)
		resp.Cookie = info.Cookie

	case proto.OpUninhibit:
		err = n.tracker.Uninhibit(ctx, owner, req.Cookie)
		resp.Cookie = req.Cookie

	case proto.OpPing:

	default:
		err = proto.NewError(proto.CodeUnknownOp, fmt.Sprintf("unknown op %q", req.Op))
	}

	if err != nil {
		resp.Error = ErrorFor(err)
		telemetry.AddSpanAttributes(ctx, telemetry.ErrorCodeKey.String(resp.Error.Code))
		telemetry.MarkSpanError(ctx, err)
		return resp
	}
	resp.Ok = true
	return resp
}

// millis converts a wire timeout, saturating instead of wrapping around
func millis(ms int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Millisecond)
	switch {
	case ms > limit:
		return time.Duration(math.MaxInt64)
	case ms < -limit:
		return time.Duration(math.MinInt64)
	}
	return time.Duration(ms) * time.Millisecond
}

// ErrorFor maps an error to its protocol representation
func ErrorFor(err error) *proto.Error {
	var perr *proto.Error
	switch {
	case errors.As(err, &perr):
		return perr
	case errors.Is(err, domain.ErrUnknownSeat):
		return proto.NewError(proto.CodeUnknownSeat, err.Error())
	case errors.Is(err, domain.ErrInvalidTimeout):
		return proto.NewError(proto.CodeInvalidTimeout, err.Error())
	case errors.Is(err, domain.ErrUnknownSubscription):
		return proto.NewError(proto.CodeUnknownSubscription, err.Error())
	case errors.Is(err, domain.ErrSubscriptionIdle):
		return proto.NewError(proto.CodeSubscriptionIdle, err.Error())
	case errors.Is(err, domain.ErrUnknownInhibitor):
		return proto.NewError(proto.CodeUnknownInhibitor, err.Error())
	case errors.Is(err, domain.ErrTooManyInhibitors):
		return proto.NewError(proto.CodeTooManyInhibitors, err.Error())
	default:
		return proto.NewError(proto.CodeInternal, err.Error())
	}
}

// eventMessage converts a transition to its wire form
func (n *Notifier) eventMessage(event domain.Event) proto.Message {
	wall := time.Now().Add(-n.clock.Now().Sub(event.At))
	return proto.Message{
		Type: proto.MessageEvent,
		Event: &proto.Event{
			Kind:           event.Kind.String(),
			SubscriptionId: string(event.Subscription),
			Seat:           string(event.Seat),
			MonotonicMs:    event.At.Milliseconds(),
			Ts:             timestamppb.New(wall),
		},
	}
}

// inbound is a decoded client message, or the reason it could not be decoded
type inbound struct {
	req proto.Request
	err *proto.Error
}

// session is one connected client
type session struct {
	id       domain.OwnerID
	notifier *Notifier
	conn     *websocket.Conn
	mailbox  *dispatcher.Mailbox
	requests chan inbound
	events   chan domain.Event
	ctx      context.Context

	// Subscriptions this session destroyed; owned by the writer
	destroyed map[domain.SubscriptionID]struct{}
	cancel    context.CancelFunc
	logger    zerolog.Logger
}

// run serves the session until the connection fails. Requests are executed
// by the writer so that a response always precedes events it caused.
func (s *session) run() {
	defer s.conn.Close()
	defer s.cancel()

	go s.readLoop()
	go s.pumpEvents()

	if err := s.write(proto.Message{Type: proto.MessageHello, SessionId: string(s.id), Ts: timestamppb.Now()}); err != nil {
		return
	}

	ticker := time.NewTicker(s.notifier.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case in := <-s.requests:
			resp := proto.Message{Type: proto.MessageResponse, Error: in.err}
			if in.err == nil {
				resp = s.notifier.handle(s.ctx, s.id, in.req)
				if in.req.Op == proto.OpDestroyNotification && resp.Error == nil {
					s.destroyed[domain.SubscriptionID(in.req.SubscriptionId)] = struct{}{}
				}
			}
			if err := s.write(resp); err != nil {
				return
			}

		case event := <-s.events:
			// The pump may have taken it from the mailbox before the destroy
			if _, gone := s.destroyed[event.Subscription]; gone {
				s.logger.Debug().Str("subscription", string(event.Subscription)).Msg("Dropped event for destroyed subscription")
				continue
			}
			if err := s.write(s.notifier.eventMessage(event)); err != nil {
				return
			}
			s.notifier.metrics.EventsPublished.WithLabelValues(event.Kind.String()).Inc()

		case <-ticker.C:
			if err := s.write(proto.Message{Type: proto.MessageHeartbeat, Ts: timestamppb.Now()}); err != nil {
				return
			}
			deadline := time.Now().Add(s.notifier.config.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug().Err(err).Msg("WebSocket ping failed")
				return
			}

		case <-s.ctx.Done():
			deadline := time.Now().Add(time.Second)
			_ = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
			return
		}
	}
}

func (s *session) write(msg proto.Message) error {
	s.conn.SetWriteDeadline(time.Now().Add(s.notifier.config.WriteTimeout))
	if err := s.conn.WriteJSON(msg); err != nil {
		s.logger.Debug().Err(err).Str("type", msg.Type).Msg("WebSocket write error")
		return err
	}
	return nil
}

// readLoop decodes client requests until the connection fails
func (s *session) readLoop() {
	defer s.cancel()

	readTimeout := s.notifier.config.ReadTimeout
	s.conn.SetReadLimit(s.notifier.config.MaxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		messageType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug().Err(err).Msg("WebSocket read error")
			}
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(readTimeout))

		if messageType != websocket.TextMessage {
			continue
		}

		var in inbound
		if err := json.Unmarshal(message, &in.req); err != nil {
			s.logger.Debug().Err(err).Msg("Failed to parse client message")
			in.err = proto.NewError(proto.CodeBadRequest, "malformed request")
		}

		select {
		case s.requests <- in:
		case <-s.ctx.Done():
			return
		}
	}
}

// pumpEvents moves events from the mailbox to the writer
func (s *session) pumpEvents() {
	for {
		event, err := s.mailbox.Next(s.ctx)
		if err != nil {
			return
		}
		select {
		case s.events <- event:
		case <-s.ctx.Done():
			return
		}
	}
}

// generateID creates a unique session ID
var generateID = func() string {
	return uuid.NewString()
}
