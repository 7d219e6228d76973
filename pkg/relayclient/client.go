// Package relayclient connects to a relay hub over websocket. It is used by
// the relay-client CLI and by end to end tests.
package relayclient

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/transport/websocket"
	"github.com/goccy/go-json"
	gorillaws "github.com/gorilla/websocket"
)

// Options represents relay client options
type Options struct {
	Logger *logging.Logger
	// UserID is sent as the userId query parameter; empty connects
	// anonymously.
	UserID         string
	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

// DefaultOptions returns default client options
func DefaultOptions() Options {
	return Options{
		ConnectTimeout: 10 * time.Second,
		SendTimeout:    5 * time.Second,
	}
}

// Event is one frame received from the hub
type Event struct {
	Type   domain.EventType
	Fields map[string]any
	Raw    []byte
}

// EventHandler handles one received event
type EventHandler func(ctx context.Context, ev Event) error

// Client is a hub connection
type Client struct {
	url     url.URL
	options Options
	logger  *logging.Logger
	ws      *websocket.Client

	sessionID string
	userID    string
	acked     chan struct{}
	ackOnce   sync.Once

	handlers   map[domain.EventType]EventHandler
	fallback   EventHandler
	handlersMu sync.RWMutex

	mu sync.RWMutex
}

// New creates a client for the hub websocket at serverURL
func New(serverURL url.URL, options Options) *Client {
	defaults := DefaultOptions()
	if options.Logger == nil {
		options.Logger = logging.Discard()
	}
	if options.ConnectTimeout <= 0 {
		options.ConnectTimeout = defaults.ConnectTimeout
	}
	if options.SendTimeout <= 0 {
		options.SendTimeout = defaults.SendTimeout
	}

	if options.UserID != "" {
		q := serverURL.Query()
		q.Set(websocket.UserIDParam, options.UserID)
		serverURL.RawQuery = q.Encode()
	}

	return &Client{
		url:      serverURL,
		options:  options,
		logger:   options.Logger,
		acked:    make(chan struct{}),
		handlers: make(map[domain.EventType]EventHandler),
	}
}

// Connect dials the hub and waits for the connection-ack
func (c *Client) Connect(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	c.logger.Info("connecting to hub", "url", c.url.String())

	conn, _, err := gorillaws.DefaultDialer.DialContext(ctx, c.url.String(), nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "DIAL_ERROR", "failed to connect to hub")
	}

	ws := websocket.NewClient(conn, c.logger, websocket.DefaultClientOptions())
	ws.Receive(c.handleFrame)

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	ws.Start()

	select {
	case <-c.acked:
	case <-ws.Context().Done():
		return errors.New(errors.ErrorTypeTransport, "CONNECTION_CLOSED", "connection closed before ack")
	case <-ctx.Done():
		ws.Close()
		return errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "ACK_TIMEOUT", "no connection-ack from hub")
	}

	c.logger.Info("connected to hub", "session_id", c.SessionID(), "user_id", c.UserID())
	return nil
}

// Disconnect closes the connection and waits for its goroutines
func (c *Client) Disconnect() error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return nil
	}
	err := ws.Close()
	ws.Wait()
	return err
}

// Done is closed when the connection ends
func (c *Client) Done() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ws == nil {
		return nil
	}
	return c.ws.Context().Done()
}

// SessionID returns the id assigned by the hub
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// UserID returns the user id confirmed by the hub
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// OnEvent registers a handler for one event type
func (c *Client) OnEvent(eventType domain.EventType, handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[eventType] = handler
}

// OnAny registers a handler for events without a specific handler
func (c *Client) OnAny(handler EventHandler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.fallback = handler
}

// Send sends a message of messageType with fields merged into the frame
func (c *Client) Send(messageType domain.MessageType, fields map[string]any) error {
	frame := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		frame[k] = v
	}
	frame["type"] = messageType

	data, err := json.Marshal(frame)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal message")
	}
	return c.SendRaw(data)
}

// SendRaw sends data unchanged
func (c *Client) SendRaw(data []byte) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()

	if ws == nil {
		return errors.New(errors.ErrorTypeTransport, "NOT_CONNECTED", "not connected to hub")
	}

	ctx, cancel := context.WithTimeout(ws.Context(), c.options.SendTimeout)
	defer cancel()
	return ws.Send(ctx, data)
}

func (c *Client) JoinRoom(room string) error {
	return c.Send(domain.MessageTypeJoinRoom, map[string]any{"room": room})
}

func (c *Client) LeaveRoom(room string) error {
	return c.Send(domain.MessageTypeLeaveRoom, map[string]any{"room": room})
}

// Chat posts message to room; an empty room means the default room
func (c *Client) Chat(room, message string) error {
	fields := map[string]any{"message": message}
	if room != "" {
		fields["room"] = room
	}
	return c.Send(domain.MessageTypeChat, fields)
}

func (c *Client) Heartbeat() error {
	return c.Send(domain.MessageTypeHeartbeat, nil)
}

// handleFrame runs on the read pump
func (c *Client) handleFrame(data []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		c.logger.Error("failed to unmarshal event", "error", err)
		return err
	}

	kind, _ := fields["type"].(string)
	ev := Event{Type: domain.EventType(kind), Fields: fields, Raw: data}

	if ev.Type == domain.EventTypeConnectionAck {
		c.ackOnce.Do(func() {
			c.mu.Lock()
			c.sessionID, _ = fields["sessionId"].(string)
			c.userID, _ = fields["userId"].(string)
			c.mu.Unlock()
			close(c.acked)
		})
	}

	c.handlersMu.RLock()
	handler, ok := c.handlers[ev.Type]
	if !ok {
		handler = c.fallback
	}
	c.handlersMu.RUnlock()

	if handler == nil {
		return nil
	}

	c.mu.RLock()
	ctx := c.ws.Context()
	c.mu.RUnlock()
	return handler(ctx, ev)
}
