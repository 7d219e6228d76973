package realtime

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/transport/protocol"
)

// HubOptions represents hub configuration options
type HubOptions struct {
	Logger            *logging.Logger
	Codec             protocol.Codec
	Presence          *Presence
	DefaultRoom       string
	HeartbeatInterval time.Duration
	SendTimeout       time.Duration
}

// HubOption is a function that configures HubOptions
type HubOption func(*HubOptions)

// WithHubLogger sets the hub logger
func WithHubLogger(logger *logging.Logger) HubOption {
	return func(o *HubOptions) {
		o.Logger = logger
	}
}

// WithPresence makes the hub record online/offline transitions
func WithPresence(p *Presence) HubOption {
	return func(o *HubOptions) {
		o.Presence = p
	}
}

// WithDefaultRoom sets the room every session joins on connect
func WithDefaultRoom(room string) HubOption {
	return func(o *HubOptions) {
		o.DefaultRoom = room
	}
}

// WithHeartbeatInterval sets the application ping period
func WithHeartbeatInterval(d time.Duration) HubOption {
	return func(o *HubOptions) {
		o.HeartbeatInterval = d
	}
}

// WithSendTimeout bounds how long fan-out waits on one client's send buffer
func WithSendTimeout(d time.Duration) HubOption {
	return func(o *HubOptions) {
		o.SendTimeout = d
	}
}

// Hub implements domain.Hub. It owns the connection registry, the
// user->sessions mapping and the room index.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]domain.Client
	users    map[string]map[string]struct{}
	rooms    *RoomIndex

	codec    protocol.Codec
	presence *Presence
	logger   *logging.Logger
	errs     errors.Handler
	options  HubOptions

	ctx     context.Context
	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup

	// Statistics
	messagesSent     atomic.Int64
	messagesReceived atomic.Int64
	messagesDropped  atomic.Int64
	startTime        time.Time
}

// NewHub creates a new hub
func NewHub(opts ...HubOption) *Hub {
	options := HubOptions{
		Logger:            logging.Discard(),
		Codec:             protocol.NewJSONCodec(),
		DefaultRoom:       "general",
		HeartbeatInterval: 30 * time.Second,
		SendTimeout:       5 * time.Second,
	}
	for _, opt := range opts {
		opt(&options)
	}

	return &Hub{
		sessions:  make(map[string]domain.Client),
		users:     make(map[string]map[string]struct{}),
		rooms:     NewRoomIndex(),
		codec:     options.Codec,
		presence:  options.Presence,
		logger:    options.Logger,
		errs:      errors.NewDefaultHandler(options.Logger.Logger),
		options:   options,
		startTime: time.Now(),
	}
}

// Start implements domain.Hub
func (h *Hub) Start(ctx context.Context) error {
	h.ctx, h.cancel = context.WithCancel(ctx)
	h.running.Store(true)
	h.logger.Info("hub started",
		"default_room", h.options.DefaultRoom,
		"heartbeat_interval", h.options.HeartbeatInterval,
	)
	return nil
}

// Stop implements domain.Hub
func (h *Hub) Stop() error {
	if !h.running.CompareAndSwap(true, false) {
		return nil
	}

	h.logger.Info("stopping hub")
	h.cancel()

	h.mu.RLock()
	clients := make([]domain.Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.Close()
	}

	h.wg.Wait()
	h.logger.Info("hub stopped")
	return nil
}

// Register implements domain.Hub. The session joins the default room,
// gets a connection-ack and starts receiving heartbeats.
func (h *Hub) Register(client domain.Client) error {
	if !h.running.Load() {
		return domain.ErrHubStopped
	}

	sessionID := client.ID()
	userID := client.UserID()

	h.mu.Lock()
	if _, exists := h.sessions[sessionID]; exists {
		h.mu.Unlock()
		return domain.ErrClientAlreadyExists
	}
	h.sessions[sessionID] = client
	set, ok := h.users[userID]
	if !ok {
		set = make(map[string]struct{})
		h.users[userID] = set
	}
	set[sessionID] = struct{}{}
	h.rooms.Join(sessionID, h.options.DefaultRoom)
	total := len(h.sessions)
	h.mu.Unlock()

	metrics.ConnectionsActive.Inc()
	metrics.RoomsActive.Set(float64(h.rooms.Count()))

	if h.presence != nil {
		h.presence.Update(userID, domain.PresenceOnline)
	}

	h.Reply(client, &domain.ConnectionAckEvent{
		Envelope:  domain.NewEnvelope(domain.EventTypeConnectionAck),
		Status:    "connected",
		SessionID: sessionID,
		UserID:    userID,
		Features:  domain.Features,
	})

	h.startHeartbeat(client)

	h.logger.Info("client registered",
		"client_id", sessionID,
		"user_id", userID,
		"total_clients", total,
	)
	return nil
}

// Unregister implements domain.Hub. Once it returns, no fan-out reaches the
// session. Offline presence is written only when the user's last session
// goes away.
func (h *Hub) Unregister(sessionID string) error {
	h.mu.Lock()
	client, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return domain.ErrClientNotFound
	}
	delete(h.sessions, sessionID)

	userID := client.UserID()
	lastSession := false
	if set, ok := h.users[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(h.users, userID)
			lastSession = true
		}
	}
	left := h.rooms.LeaveAll(sessionID)
	total := len(h.sessions)
	h.mu.Unlock()

	client.Close()

	metrics.ConnectionsActive.Dec()
	metrics.RoomsActive.Set(float64(h.rooms.Count()))

	if lastSession && h.presence != nil {
		h.presence.Update(userID, domain.PresenceOffline)
	}

	h.logger.Info("client unregistered",
		"client_id", sessionID,
		"user_id", userID,
		"rooms_left", len(left),
		"total_clients", total,
	)
	return nil
}

// Lookup implements domain.Hub
func (h *Hub) Lookup(sessionID string) (domain.Client, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.sessions[sessionID]
	return c, ok
}

// LookupByUser implements domain.Hub
func (h *Hub) LookupByUser(userID string) []domain.Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.users[userID]
	out := make([]domain.Client, 0, len(set))
	for id := range set {
		if c, ok := h.sessions[id]; ok {
			out = append(out, c)
		}
	}
	return out
}

// JoinRoom adds a registered session to room. It returns false when the
// session was already a member.
func (h *Hub) JoinRoom(sessionID, room string) (bool, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if _, ok := h.sessions[sessionID]; !ok {
		return false, domain.ErrClientNotFound
	}
	joined := h.rooms.Join(sessionID, room)
	metrics.RoomsActive.Set(float64(h.rooms.Count()))
	return joined, nil
}

// LeaveRoom removes sessionID from room. Leaving a room the session is not
// in is a no-op.
func (h *Hub) LeaveRoom(sessionID, room string) bool {
	left := h.rooms.Leave(sessionID, room)
	metrics.RoomsActive.Set(float64(h.rooms.Count()))
	return left
}

// Rooms exposes the room index for read-only queries
func (h *Hub) Rooms() *RoomIndex {
	return h.rooms
}

// SendTo implements domain.Hub. Unknown or closed sessions are skipped.
func (h *Hub) SendTo(sessionID string, event domain.Event) error {
	data, err := h.encode(event)
	if err != nil {
		return err
	}

	if client, ok := h.Lookup(sessionID); ok {
		h.deliver(client, data, event.EventType())
	}
	return nil
}

// SendToUser implements domain.Hub
func (h *Hub) SendToUser(userID string, event domain.Event) error {
	data, err := h.encode(event)
	if err != nil {
		return err
	}

	for _, client := range h.LookupByUser(userID) {
		h.deliver(client, data, event.EventType())
	}
	return nil
}

// SendToRoom implements domain.Hub. Membership is read from a snapshot, and
// each member is re-checked against the registry before delivery.
func (h *Hub) SendToRoom(room string, event domain.Event, exclude string) error {
	data, err := h.encode(event)
	if err != nil {
		return err
	}

	for _, id := range h.rooms.Members(room) {
		if id == exclude {
			continue
		}
		if client, ok := h.Lookup(id); ok {
			h.deliver(client, data, event.EventType())
		}
	}
	return nil
}

// Broadcast implements domain.Hub
func (h *Hub) Broadcast(event domain.Event) error {
	data, err := h.encode(event)
	if err != nil {
		return err
	}

	h.mu.RLock()
	clients := make([]domain.Client, 0, len(h.sessions))
	for _, c := range h.sessions {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.deliver(c, data, event.EventType())
	}
	return nil
}

// Reply sends event to client directly, whether or not it is registered
func (h *Hub) Reply(client domain.Client, event domain.Event) error {
	data, err := h.encode(event)
	if err != nil {
		return err
	}
	h.deliver(client, data, event.EventType())
	return nil
}

// Count returns the number of registered sessions
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// MarkReceived counts one inbound frame
func (h *Hub) MarkReceived() {
	h.messagesReceived.Add(1)
}

// GetStats returns hub statistics
func (h *Hub) GetStats() domain.HubStats {
	h.mu.RLock()
	clients, users := len(h.sessions), len(h.users)
	h.mu.RUnlock()

	return domain.HubStats{
		ConnectedClients: clients,
		ConnectedUsers:   users,
		Rooms:            h.rooms.Count(),
		MessagesSent:     h.messagesSent.Load(),
		MessagesReceived: h.messagesReceived.Load(),
		MessagesDropped:  h.messagesDropped.Load(),
		Uptime:           time.Since(h.startTime).Seconds(),
	}
}

func (h *Hub) encode(event domain.Event) ([]byte, error) {
	if !h.running.Load() {
		return nil, domain.ErrHubStopped
	}
	data, err := h.codec.Encode(event)
	if err != nil {
		h.errs.Handle(h.ctx, err)
		return nil, err
	}
	return data, nil
}

// deliver enqueues data on one client. Closed clients are skipped silently;
// a full send buffer drops the frame for that client only.
func (h *Hub) deliver(client domain.Client, data []byte, eventType domain.EventType) {
	if !client.IsOpen() {
		return
	}

	ctx, cancel := context.WithTimeout(h.ctx, h.options.SendTimeout)
	err := client.Send(ctx, data)
	cancel()

	switch {
	case err == nil:
		h.messagesSent.Add(1)
		metrics.EventsSent.WithLabelValues(string(eventType)).Inc()
	case stderrors.Is(err, domain.ErrConnectionClosed):
	case stderrors.Is(err, domain.ErrSendBufferFull):
		h.messagesDropped.Add(1)
		metrics.EventsDropped.WithLabelValues("buffer_full").Inc()
		h.logger.Warn("send buffer full, dropping event",
			"client_id", client.ID(),
			"event_type", eventType,
		)
	default:
		h.messagesDropped.Add(1)
		metrics.EventsDropped.WithLabelValues("send_error").Inc()
		h.logger.Warn("failed to send to client",
			"client_id", client.ID(),
			"event_type", eventType,
			"error", err,
		)
	}
}

var _ domain.Hub = (*Hub)(nil)
