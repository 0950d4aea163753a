// Package client provides a reusable WebSocket load test client for the
// Talkline messaging server. It connects using gobwas/ws (the same library the
// server uses), authenticates with a JWT passed as a query parameter, and
// tracks per-connection performance metrics.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// ---------------------------------------------------------------------------
// Protocol event names (local equivalents of internal/protocol constants)
// ---------------------------------------------------------------------------

// Client -> Server event names.
const (
	EventMessagePage = "message-page"
	EventNewMessage  = "new message"
	EventSidebar     = "sidebar"
	EventSeen        = "seen"
	EventPing        = "ping"
)

// Server -> Client event names.
const (
	EventMessageUser  = "message-user"
	EventMessage      = "message"
	EventConversation = "conversation"
	EventOnlineUser   = "onlineUser"
	EventError        = "error"
	EventPong         = "pong"
)

// NewMessage mirrors the wire payload of a `new message` event.
type NewMessage struct {
	Sender      string `json:"sender"`
	Receiver    string `json:"receiver"`
	Text        string `json:"text"`
	MsgByUserID string `json:"msgByUserId"`
}

// ---------------------------------------------------------------------------
// Metrics
// ---------------------------------------------------------------------------

// Metrics tracks per-connection performance data.
type Metrics struct {
	ConnectLatency    time.Duration
	FirstEventLatency time.Duration
	EventsReceived    int
	EventsSent        int
	Errors            int
}

// ---------------------------------------------------------------------------
// Client
// ---------------------------------------------------------------------------

// Client represents a single simulated user connection to the Talkline server.
// It manages the WebSocket lifecycle and dispatches incoming events to
// registered handlers.
type Client struct {
	conn      net.Conn
	userID    string
	mu        sync.Mutex
	metrics   Metrics
	handlers  map[string]func(json.RawMessage)
	done      chan struct{}
	closeOnce sync.Once
	ready     chan struct{}
	readyOnce sync.Once
	dialedAt  time.Time
}

// New creates a load test client connected to the given WebSocket URL,
// authenticating as userID with the given token. The connection is established
// immediately and a background goroutine begins reading events. The server
// broadcasts the online-user list on every connect, so the first received
// event doubles as a readiness signal (see WaitReady).
func New(ctx context.Context, wsURL, userID, token string) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	start := time.Now()
	conn, _, _, err := ws.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	c := &Client{
		conn:     conn,
		userID:   userID,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
		ready:    make(chan struct{}),
		dialedAt: start,
	}
	c.metrics.ConnectLatency = time.Since(start)

	go c.readLoop()

	return c, nil
}

// Send sends an event envelope to the server. It is goroutine-safe.
func (c *Client) Send(event string, payload interface{}) error {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		raw = b
	}
	data, err := json.Marshal(struct {
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data,omitempty"`
	}{Event: event, Data: raw})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics.EventsSent++
	return wsutil.WriteClientMessage(c.conn, ws.OpText, data)
}

// SendMessage sends a chat message to the given receiver.
func (c *Client) SendMessage(receiver, text string) error {
	return c.Send(EventNewMessage, NewMessage{
		Sender:      c.userID,
		Receiver:    receiver,
		Text:        text,
		MsgByUserID: c.userID,
	})
}

// On registers a handler for a specific server event name. The handler
// receives the raw JSON of the event's data field. Handlers are invoked from
// the read loop goroutine so they should not block for extended periods. Only
// one handler per event is supported; registering a second handler for the
// same event replaces the first.
func (c *Client) On(event string, handler func(json.RawMessage)) {
	c.handlers[event] = handler
}

// WaitReady blocks until the first server event has arrived (proving the
// connection is authenticated and live) or the context is cancelled.
func (c *Client) WaitReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return fmt.Errorf("connection closed before any event arrived")
	case <-c.ready:
		return nil
	}
}

// Close closes the connection and stops the read loop. It is safe to call
// multiple times.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// UserID returns the identity this client authenticated as.
func (c *Client) UserID() string {
	return c.userID
}

// GetMetrics returns a copy of the client's metrics.
func (c *Client) GetMetrics() Metrics {
	return c.metrics
}

// readLoop continuously reads WebSocket frames from the server and dispatches
// them to registered handlers. It runs until the connection is closed or an
// unrecoverable error occurs.
func (c *Client) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		data, err := wsutil.ReadServerText(c.conn)
		if err != nil {
			select {
			case <-c.done:
				// Connection was intentionally closed; do not count as error.
				return
			default:
			}
			c.metrics.Errors++
			return
		}

		c.metrics.EventsReceived++

		var envelope struct {
			Event string          `json:"event"`
			Data  json.RawMessage `json:"data"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			continue
		}

		c.readyOnce.Do(func() {
			c.metrics.FirstEventLatency = time.Since(c.dialedAt)
			close(c.ready)
		})

		if handler, ok := c.handlers[envelope.Event]; ok {
			handler(envelope.Data)
		}
	}
}
