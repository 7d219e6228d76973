package realtime

import (
	"context"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/goccy/go-json"
)

// AIFallbackMessage is sent when the AI delegate cannot answer
const AIFallbackMessage = "I'm having trouble processing your request. Please try again."

// HandlerConfig tunes the inbound message handlers
type HandlerConfig struct {
	DefaultRoom      string
	StoreTimeout     time.Duration
	ChatHistoryLimit int64
	ChatHistoryTTL   time.Duration
	CartTTL          time.Duration
	AIStatsTTL       time.Duration
}

// DefaultHandlerConfig returns the production defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		DefaultRoom:      "general",
		StoreTimeout:     2 * time.Second,
		ChatHistoryLimit: 500,
		ChatHistoryTTL:   7 * 24 * time.Hour,
		CartTTL:          24 * time.Hour,
		AIStatsTTL:       30 * 24 * time.Hour,
	}
}

// Handlers implements every inbound message kind
type Handlers struct {
	hub      *Hub
	store    store.Store
	tasks    TaskRunner
	ai       AIService
	orders   OrderService
	presence *Presence
	codec    protocol.Codec
	logger   *logging.Logger
	config   HandlerConfig
}

// HandlersOptions represents handler dependencies
type HandlersOptions struct {
	Hub      *Hub
	Store    store.Store
	Tasks    TaskRunner
	AI       AIService
	Orders   OrderService
	Presence *Presence
	Logger   *logging.Logger
	Config   HandlerConfig
}

// NewHandlers creates the handler set
func NewHandlers(opts HandlersOptions) *Handlers {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	return &Handlers{
		hub:      opts.Hub,
		store:    opts.Store,
		tasks:    opts.Tasks,
		ai:       opts.AI,
		orders:   opts.Orders,
		presence: opts.Presence,
		codec:    protocol.NewJSONCodec(),
		logger:   opts.Logger,
		config:   opts.Config,
	}
}

// Register adds every handler to registry
func (h *Handlers) Register(registry protocol.HandlerRegistry) {
	registry.Register(domain.MessageTypeAIChat, protocol.HandlerFunc(h.handleAIChat))
	registry.Register(domain.MessageTypeChat, protocol.HandlerFunc(h.handleChat))
	registry.Register(domain.MessageTypeTyping, protocol.HandlerFunc(h.handleTyping))
	registry.Register(domain.MessageTypeJoinRoom, protocol.HandlerFunc(h.handleJoinRoom))
	registry.Register(domain.MessageTypeLeaveRoom, protocol.HandlerFunc(h.handleLeaveRoom))
	registry.Register(domain.MessageTypeVoiceNote, protocol.HandlerFunc(h.handleVoiceNote))
	registry.Register(domain.MessageTypeFileShare, protocol.HandlerFunc(h.handleFileShare))
	registry.Register(domain.MessageTypeProductView, protocol.HandlerFunc(h.handleProductView))
	registry.Register(domain.MessageTypeCartUpdate, protocol.HandlerFunc(h.handleCartUpdate))
	registry.Register(domain.MessageTypeOrderTracking, protocol.HandlerFunc(h.handleOrderTracking))
	registry.Register(domain.MessageTypePresence, protocol.HandlerFunc(h.handlePresence))
	registry.Register(domain.MessageTypeHeartbeat, protocol.HandlerFunc(h.handleHeartbeat))
}

func (h *Handlers) room(name string) string {
	if name == "" {
		return h.config.DefaultRoom
	}
	return name
}

// submit runs task in the background. The task context ends when either
// the pool stops or the client disconnects.
func (h *Handlers) submit(client domain.Client, name string, task func(ctx context.Context)) error {
	if h.tasks == nil {
		return nil
	}

	err := h.tasks.Submit(func(ctx context.Context) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		stop := context.AfterFunc(client.Context(), cancel)
		defer stop()

		task(ctx)
	})
	if err != nil {
		metrics.WorkerQueueRejected.Inc()
		h.logger.Warn("background task not queued",
			"task", name,
			"client_id", client.ID(),
			"error", err,
		)
	}
	return err
}

// handleAIChat produces exactly one ai-response per request: the answer,
// or the fallback when the delegate fails or the task cannot be queued.
func (h *Handlers) handleAIChat(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.AIChatPayload)
	sessionID := client.ID()

	if h.ai == nil {
		return aiFallback(), nil
	}

	err := h.submit(client, "ai-chat", func(ctx context.Context) {
		resp, err := h.ai.Chat(ctx, upstream.ChatRequest{
			Message: p.Message,
			UserID:  client.UserID(),
			Context: upstream.ChatContext,
		})
		if err != nil {
			h.logger.Warn("ai chat failed", "client_id", sessionID, "error", err)
			h.hub.SendTo(sessionID, aiFallback())
			return
		}

		h.hub.SendTo(sessionID, &domain.AIResponseEvent{
			Envelope:    domain.NewEnvelope(domain.EventTypeAIResponse),
			Message:     resp.Response,
			Suggestions: orEmpty(resp.Suggestions),
			Products:    orEmpty(resp.Products),
		})
		h.countAIQuery(ctx, client.UserID())
	})
	if err != nil {
		return aiFallback(), nil
	}
	return nil, nil
}

// countAIQuery bumps the user's answered-query counter. The hash lives
// AIStatsTTL past the latest query.
func (h *Handlers) countAIQuery(ctx context.Context, userID string) {
	if h.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.StoreTimeout)
	defer cancel()

	deadline := time.Now().Add(h.config.AIStatsTTL)
	if _, err := h.store.HashIncrementExpireAt(ctx, store.AIStatsKey(userID), store.FieldTotalQueries, 1, deadline); err != nil {
		h.logger.Warn("ai stats update failed", "user_id", userID, "error", err)
	}
}

func aiFallback() *domain.AIResponseEvent {
	return &domain.AIResponseEvent{
		Envelope:    domain.NewEnvelope(domain.EventTypeAIResponse),
		Message:     AIFallbackMessage,
		Suggestions: []any{},
		Products:    []any{},
	}
}

func orEmpty(v []any) []any {
	if v == nil {
		return []any{}
	}
	return v
}

func (h *Handlers) handleChat(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.ChatPayload)
	room := h.room(p.Room)

	ev := &domain.ChatEvent{
		Envelope: domain.NewEnvelope(domain.EventTypeChat),
		Message:  p.Message,
		UserID:   client.UserID(),
		Room:     room,
	}
	if err := h.hub.SendToRoom(room, ev, ""); err != nil {
		return nil, err
	}

	if h.store != nil {
		entry, err := h.codec.Encode(ev)
		if err != nil {
			return nil, err
		}
		h.submit(client, "chat-history", func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.StoreTimeout)
			defer cancel()

			err := h.store.ListPush(ctx, store.ChatKey(room), string(entry), h.config.ChatHistoryLimit, h.config.ChatHistoryTTL)
			if err != nil {
				h.logger.Warn("chat history write failed", "room", room, "error", err)
			}
		})
	}
	return nil, nil
}

func (h *Handlers) handleTyping(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.TypingPayload)
	room := h.room(p.Room)

	return nil, h.hub.SendToRoom(room, &domain.TypingEvent{
		Envelope: domain.NewEnvelope(domain.EventTypeTyping),
		UserID:   client.UserID(),
		Room:     room,
		Typing:   p.Typing,
	}, client.ID())
}

func (h *Handlers) handleJoinRoom(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.JoinRoomPayload)

	if _, err := h.hub.JoinRoom(client.ID(), p.Room); err != nil {
		return nil, err
	}
	return &domain.RoomEvent{Envelope: domain.NewEnvelope(domain.EventTypeRoomJoined), Room: p.Room}, nil
}

func (h *Handlers) handleLeaveRoom(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.RoomPayload)

	h.hub.LeaveRoom(client.ID(), p.Room)
	return &domain.RoomEvent{Envelope: domain.NewEnvelope(domain.EventTypeRoomLeft), Room: p.Room}, nil
}

func (h *Handlers) handleVoiceNote(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.VoiceNotePayload)
	room := h.room(p.Room)

	return nil, h.hub.SendToRoom(room, &domain.VoiceNoteEvent{
		Envelope:  domain.NewEnvelope(domain.EventTypeVoiceNote),
		UserID:    client.UserID(),
		Room:      room,
		AudioData: p.AudioData,
		Duration:  p.Duration,
	}, "")
}

func (h *Handlers) handleFileShare(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.FileSharePayload)
	room := h.room(p.Room)

	return nil, h.hub.SendToRoom(room, &domain.FileShareEvent{
		Envelope: domain.NewEnvelope(domain.EventTypeFileShare),
		UserID:   client.UserID(),
		Room:     room,
		FileName: p.FileName,
		FileURL:  p.FileURL,
		FileSize: p.FileSize,
	}, "")
}

// handleProductView joins the viewer to the product room, bumps both view
// counters and broadcasts the all-time count returned by the increment
// itself, so concurrent views never read a stale total. The daily counter
// expires at the next UTC midnight.
func (h *Handlers) handleProductView(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.ProductViewPayload)
	sessionID := client.ID()
	userID := client.UserID()

	if _, err := h.hub.JoinRoom(sessionID, ProductRoom(p.ProductID)); err != nil {
		return nil, err
	}

	if h.store != nil {
		sctx, cancel := context.WithTimeout(ctx, h.config.StoreTimeout)
		count, err := h.store.HashIncrement(sctx, store.KeyProductViews, p.ProductID, 1)
		if err == nil {
			_, err = h.store.HashIncrementExpireAt(sctx, store.KeyProductViewsDay, p.ProductID, 1, store.NextMidnight(time.Now()))
		}
		cancel()

		if err != nil {
			h.logger.Warn("view counter update failed", "product_id", p.ProductID, "error", err)
		} else {
			h.hub.SendToRoom(ProductRoom(p.ProductID), &domain.ProductViewsEvent{
				Envelope:  domain.NewEnvelope(domain.EventTypeProductViews),
				ProductID: p.ProductID,
				ViewCount: count,
			}, "")
		}
	}

	if h.ai != nil {
		h.submit(client, "recommendations", func(ctx context.Context) {
			recs, err := h.ai.Recommendations(ctx, userID, p.ProductID)
			if err != nil {
				h.logger.Debug("recommendations unavailable", "product_id", p.ProductID, "error", err)
				return
			}
			h.hub.SendTo(sessionID, &domain.AIRecommendationsEvent{
				Envelope: domain.NewEnvelope(domain.EventTypeAIRecommendations),
				Products: orEmpty(recs.Products),
				Reason:   recs.Reason,
			})
		})
	}
	return nil, nil
}

// handleCartUpdate syncs the cart to every session of the user, the sender
// included, and snapshots it
func (h *Handlers) handleCartUpdate(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.CartUpdatePayload)
	userID := client.UserID()

	if err := h.hub.SendToUser(userID, &domain.CartSyncEvent{
		Envelope: domain.NewEnvelope(domain.EventTypeCartSync),
		Cart:     p.Cart,
	}); err != nil {
		return nil, err
	}

	if h.store != nil {
		snapshot, err := json.Marshal(p.Cart)
		if err != nil {
			return nil, err
		}
		h.submit(client, "cart-snapshot", func(ctx context.Context) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.config.StoreTimeout)
			defer cancel()

			if err := h.store.Set(ctx, store.CartKey(userID), string(snapshot), h.config.CartTTL); err != nil {
				h.logger.Warn("cart snapshot failed", "user_id", userID, "error", err)
			}
		})
	}
	return nil, nil
}

func (h *Handlers) handleOrderTracking(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.OrderTrackingPayload)
	sessionID := client.ID()

	if _, err := h.hub.JoinRoom(sessionID, OrderRoom(p.OrderID)); err != nil {
		return nil, err
	}

	if h.orders != nil {
		h.submit(client, "order-status", func(ctx context.Context) {
			status, err := h.orders.Status(ctx, p.OrderID)
			if err != nil {
				h.logger.Warn("order status unavailable", "order_id", p.OrderID, "error", err)
				return
			}
			h.hub.SendTo(sessionID, &domain.OrderStatusEvent{
				Envelope: domain.NewEnvelope(domain.EventTypeOrderStatus),
				OrderID:  p.OrderID,
				Status:   status,
			})
		})
	}
	return nil, nil
}

func (h *Handlers) handlePresence(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	p := msg.Payload.(*domain.PresencePayload)
	userID := client.UserID()

	if h.presence != nil {
		h.presence.Update(userID, p.Status)
	}

	return nil, h.hub.Broadcast(&domain.PresenceUpdateEvent{
		Envelope: domain.NewEnvelope(domain.EventTypePresenceUpdate),
		UserID:   userID,
		Status:   p.Status,
	})
}

func (h *Handlers) handleHeartbeat(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	return domain.NewPong(), nil
}
