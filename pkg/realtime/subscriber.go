package realtime

import (
	"context"
	"fmt"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/goccy/go-json"
)

// Subscriber relays events from the shared channel into the local hub.
// Run exactly one per process.
type Subscriber struct {
	hub     *Hub
	bus     eventbus.Bus
	channel string
	logger  *logging.Logger
	sub     eventbus.Subscription
}

// NewSubscriber creates a subscriber for channel
func NewSubscriber(hub *Hub, bus eventbus.Bus, channel string, logger *logging.Logger) *Subscriber {
	return &Subscriber{
		hub:     hub,
		bus:     bus,
		channel: channel,
		logger:  logger,
	}
}

// Start subscribes to the channel
func (s *Subscriber) Start(ctx context.Context) error {
	sub, err := s.bus.Subscribe(ctx, s.channel, func(ctx context.Context, msg *eventbus.Message) {
		if err := s.Route(msg.Payload); err != nil {
			s.logger.Warn("dropping bus event", "channel", msg.Channel, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("bridge subscriber started", "channel", s.channel)
	return nil
}

// Stop ends the subscription
func (s *Subscriber) Stop() error {
	if s.sub == nil {
		return nil
	}
	return s.sub.Unsubscribe()
}

// routingHeader holds the fields needed to pick recipients
type routingHeader struct {
	Type      domain.EventType `json:"type"`
	OrderID   string           `json:"orderId"`
	ProductID string           `json:"productId"`
	UserID    string           `json:"userId"`
}

// Route delivers one serialized event. The payload reaches clients byte for
// byte as it was published.
func (s *Subscriber) Route(payload []byte) error {
	var head routingHeader
	if err := json.Unmarshal(payload, &head); err != nil {
		return fmt.Errorf("decode bus event: %w", err)
	}

	ev := domain.RawEvent{Type: head.Type, Data: payload}

	var err error
	switch head.Type {
	case domain.EventTypeOrderUpdate:
		if head.OrderID == "" {
			return fmt.Errorf("%s without orderId", head.Type)
		}
		err = s.hub.SendToRoom(OrderRoom(head.OrderID), ev, "")
	case domain.EventTypePriceUpdate, domain.EventTypeInventoryUpdate:
		if head.ProductID == "" {
			return fmt.Errorf("%s without productId", head.Type)
		}
		err = s.hub.SendToRoom(ProductRoom(head.ProductID), ev, "")
	case domain.EventTypeNotification:
		if head.UserID != "" {
			err = s.hub.SendToUser(head.UserID, ev)
		} else {
			err = s.hub.Broadcast(ev)
		}
	default:
		return fmt.Errorf("unroutable event type %q", head.Type)
	}

	if err == nil {
		metrics.BridgeRelayed.WithLabelValues(string(head.Type)).Inc()
	}
	return err
}
