package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/idled/pkg/proto"
)

// ErrClosed is returned for requests on a closed session
var ErrClosed = errors.New("idled: session closed")

// Session is one connection to the session stream. Notifications and
// inhibitors created through it are released when it closes.
type Session struct {
	id   string
	conn *websocket.Conn

	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  uint64
	pending map[uint64]chan proto.Message
	queue   []proto.Event
	err     error

	wake   chan struct{}
	events chan proto.Event
	done   chan struct{}
}

// Dial opens a session and waits for the server's hello
func (c *Client) Dial(ctx context.Context) (*Session, error) {
	conn, _, err := c.websocketDialer.DialContext(ctx, c.streamURL(), c.headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to session stream: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var hello proto.Message
	if err := conn.ReadJSON(&hello); err != nil || hello.Type != proto.MessageHello {
		conn.Close()
		if err == nil {
			err = fmt.Errorf("unexpected %q message", hello.Type)
		}
		return nil, fmt.Errorf("session handshake failed: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	s := &Session{
		id:      hello.SessionId,
		conn:    conn,
		pending: make(map[uint64]chan proto.Message),
		wake:    make(chan struct{}, 1),
		events:  make(chan proto.Event),
		done:    make(chan struct{}),
	}
	go s.readLoop()
	go s.forwardEvents()
	return s, nil
}

// ID returns the server assigned session id
func (s *Session) ID() string {
	return s.id
}

// Events delivers idled and resumed events in order. It is closed when the
// session ends.
func (s *Session) Events() <-chan proto.Event {
	return s.events
}

// Done is closed when the connection is gone
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Err returns the reason the session ended
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// CreateNotification asks for an idled event after timeout without activity on seat
func (s *Session) CreateNotification(ctx context.Context, seat string, timeout time.Duration) (string, error) {
	resp, err := s.call(ctx, proto.Request{Op: proto.OpCreateNotification, Seat: seat, TimeoutMs: timeout.Milliseconds()})
	if err != nil {
		return "", err
	}
	return resp.SubscriptionId, nil
}

// SetTimeout changes the timeout of an active notification
func (s *Session) SetTimeout(ctx context.Context, id string, timeout time.Duration) error {
	_, err := s.call(ctx, proto.Request{Op: proto.OpSetTimeout, SubscriptionId: id, TimeoutMs: timeout.Milliseconds()})
	return err
}

// DestroyNotification removes a notification
func (s *Session) DestroyNotification(ctx context.Context, id string) error {
	_, err := s.call(ctx, proto.Request{Op: proto.OpDestroyNotification, SubscriptionId: id})
	return err
}

// Inhibit suspends idle notifications on seat until Uninhibit
func (s *Session) Inhibit(ctx context.Context, seat, application, reason string) (uint32, error) {
	resp, err := s.call(ctx, proto.Request{Op: proto.OpInhibit, Seat: seat, Application: application, Reason: reason})
	if err != nil {
		return 0, err
	}
	return resp.Cookie, nil
}

// Uninhibit releases an inhibitor
func (s *Session) Uninhibit(ctx context.Context, cookie uint32) error {
	_, err := s.call(ctx, proto.Request{Op: proto.OpUninhibit, Cookie: cookie})
	return err
}

// Ping round-trips a request
func (s *Session) Ping(ctx context.Context) error {
	_, err := s.call(ctx, proto.Request{Op: proto.OpPing})
	return err
}

// Close ends the session
func (s *Session) Close() error {
	select {
	case <-s.done:
		return nil
	default:
	}

	s.writeMu.Lock()
	err := s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.writeMu.Unlock()

	select {
	case <-s.done:
	case <-time.After(time.Second):
		s.conn.Close()
		<-s.done
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (s *Session) call(ctx context.Context, req proto.Request) (proto.Message, error) {
	reply := make(chan proto.Message, 1)

	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return proto.Message{}, ErrClosed
	}
	s.nextID++
	req.Id = s.nextID
	s.pending[req.Id] = reply
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, req.Id)
		s.mu.Unlock()
	}()

	s.writeMu.Lock()
	err := s.conn.WriteJSON(req)
	s.writeMu.Unlock()
	if err != nil {
		return proto.Message{}, fmt.Errorf("failed to send request: %w", err)
	}

	select {
	case resp := <-reply:
		if resp.Error != nil {
			return resp, resp.Error
		}
		return resp, nil
	case <-s.done:
		return proto.Message{}, ErrClosed
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	}
}

func (s *Session) readLoop() {
	var err error
	defer func() {
		s.mu.Lock()
		if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			err = ErrClosed
		}
		s.err = err
		s.mu.Unlock()

		s.conn.Close()
		close(s.done)
	}()

	for {
		var msg proto.Message
		if err = s.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case proto.MessageResponse:
			s.mu.Lock()
			reply, ok := s.pending[msg.Id]
			s.mu.Unlock()
			if ok {
				reply <- msg
			}

		case proto.MessageEvent:
			if msg.Event == nil {
				continue
			}
			s.mu.Lock()
			s.queue = append(s.queue, *msg.Event)
			s.mu.Unlock()
			select {
			case s.wake <- struct{}{}:
			default:
			}
		}
	}
}

// forwardEvents moves queued events to the Events channel so that a slow
// consumer never stalls responses. Undelivered events are dropped once the
// connection is gone.
func (s *Session) forwardEvents() {
	defer close(s.events)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		event := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.events <- event:
		case <-s.done:
			return
		}
	}
}
