// Package client is a Go client for the idled HTTP API and session stream.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nkkko/idled/pkg/proto"
)

// Client is an HTTP client for interacting with the idled API
type Client struct {
	baseURL         *url.URL
	httpClient      *http.Client
	headers         http.Header
	websocketDialer *websocket.Dialer
}

// ClientOption is a function that configures a Client
type ClientOption func(*Client)

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeaders sets additional HTTP headers, sent on requests and the
// WebSocket handshake
func WithHeaders(headers map[string]string) ClientOption {
	return func(c *Client) {
		for k, v := range headers {
			c.headers.Set(k, v)
		}
	}
}

// New creates a new idled API client
func New(baseURL string, options ...ClientOption) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL scheme %q", u.Scheme)
	}

	client := &Client{
		baseURL:         u,
		httpClient:      &http.Client{Timeout: 10 * time.Second},
		headers:         http.Header{},
		websocketDialer: websocket.DefaultDialer,
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// APIError is an error returned by the HTTP API
type APIError struct {
	Status  int    `json:"-"`
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("idled API error (%d): %s: %s", e.Status, e.Code, e.Message)
}

// IsCode reports whether err is an API or protocol error with code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == code
	}
	var protoErr *proto.Error
	if errors.As(err, &protoErr) {
		return protoErr.Code == code
	}
	return false
}

// RecordActivity reports user activity on seat
func (c *Client) RecordActivity(ctx context.Context, seat string) error {
	return c.do(ctx, http.MethodPost, "/seats/"+url.PathEscape(seat)+"/activity", nil, nil)
}

// AddSeat adds seat, reporting whether it was new
func (c *Client) AddSeat(ctx context.Context, seat string) (bool, error) {
	var change struct {
		Changed bool `json:"changed"`
	}
	err := c.do(ctx, http.MethodPut, "/seats/"+url.PathEscape(seat), nil, &change)
	return change.Changed, err
}

// RemoveSeat removes seat, destroying its notifications
func (c *Client) RemoveSeat(ctx context.Context, seat string) error {
	return c.do(ctx, http.MethodDelete, "/seats/"+url.PathEscape(seat), nil, nil)
}

// Seats lists the known seats
func (c *Client) Seats(ctx context.Context) ([]proto.Seat, error) {
	var seats []proto.Seat
	err := c.do(ctx, http.MethodGet, "/seats", nil, &seats)
	return seats, err
}

// Notifications lists idle notifications, optionally filtered by seat
func (c *Client) Notifications(ctx context.Context, seat string) ([]proto.Subscription, error) {
	query := url.Values{}
	if seat != "" {
		query.Set("seat", seat)
	}
	var subs []proto.Subscription
	err := c.do(ctx, http.MethodGet, "/notifications", query, &subs)
	return subs, err
}

// Inhibitors lists the active idle inhibitors
func (c *Client) Inhibitors(ctx context.Context) ([]proto.Inhibitor, error) {
	var inhibitors []proto.Inhibitor
	err := c.do(ctx, http.MethodGet, "/inhibitors", nil, &inhibitors)
	return inhibitors, err
}

// Transitions returns up to limit journaled transitions of seat, newest first
func (c *Client) Transitions(ctx context.Context, seat string, limit int) ([]proto.Transition, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var transitions []proto.Transition
	err := c.do(ctx, http.MethodGet, "/seats/"+url.PathEscape(seat)+"/transitions", query, &transitions)
	return transitions, err
}

// do makes an HTTP request and decodes the data of the response envelope into out
func (c *Client) do(ctx context.Context, method, path string, query url.Values, out interface{}) error {
	u := *c.baseURL
	u.Path = path
	u.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return err
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var envelope struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &APIError{Status: resp.StatusCode, Code: "invalid_response", Message: resp.Status}
	}

	if resp.StatusCode >= 400 || !envelope.Success {
		apiErr := envelope.Error
		if apiErr == nil {
			apiErr = &APIError{Code: "unknown", Message: resp.Status}
		}
		apiErr.Status = resp.StatusCode
		return apiErr
	}

	if out != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// streamURL returns the WebSocket URL of the session stream
func (c *Client) streamURL() string {
	u := *c.baseURL
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/stream"
	u.RawQuery = ""
	return u.String()
}
