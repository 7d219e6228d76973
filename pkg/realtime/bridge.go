package realtime

import (
	"context"
	stderrors "errors"
	"regexp"
	"unicode/utf8"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/HMasataka/relay/pkg/transport/protocol"
)

// Notification text limits, in runes
const (
	MaxTitleLength   = 100
	MaxMessageLength = 500
)

// DefaultNotificationType is used when a notification has no type
const DefaultNotificationType = "info"

// ErrInvalidEvent is returned when a domain event fails validation. Nothing
// is published in that case.
var ErrInvalidEvent = stderrors.New("invalid event")

// OrderUpdate is published to room order:<orderId>
type OrderUpdate struct {
	OrderID string `json:"orderId" validate:"required,safe"`
	Status  string `json:"status" validate:"required,safe"`
	UserID  string `json:"userId" validate:"required,safe"`
}

// PriceUpdate is published to room product:<productId>
type PriceUpdate struct {
	ProductID     string   `json:"productId" validate:"required,safe"`
	Price         *float64 `json:"price" validate:"required,gte=0"`
	OriginalPrice *float64 `json:"originalPrice" validate:"omitempty,gte=0"`
}

// InventoryUpdate is published to room product:<productId>
type InventoryUpdate struct {
	ProductID string `json:"productId" validate:"required,safe"`
	Stock     *int   `json:"stock" validate:"required,gte=0"`
	Status    string `json:"status" validate:"required,safe"`
}

// Notification goes to one user, or to everyone when UserID is empty
type Notification struct {
	UserID  string `json:"userId" validate:"omitempty,safe"`
	Title   string `json:"title"`
	Message string `json:"message"`
	Type    string `json:"type" validate:"required,safe"`
}

// Publisher validates domain events and puts them on the shared channel
type Publisher struct {
	bus     eventbus.Bus
	channel string
	codec   protocol.Codec
	logger  *logging.Logger
}

// NewPublisher creates a publisher for channel
func NewPublisher(bus eventbus.Bus, channel string, logger *logging.Logger) *Publisher {
	return &Publisher{
		bus:     bus,
		channel: channel,
		codec:   protocol.NewJSONCodec(),
		logger:  logger,
	}
}

// PublishOrderUpdate publishes an order-update event
func (p *Publisher) PublishOrderUpdate(ctx context.Context, u OrderUpdate) error {
	if err := p.validate(domain.EventTypeOrderUpdate, &u, u.OrderID); err != nil {
		return err
	}

	return p.publish(ctx, &domain.OrderUpdateEvent{
		Envelope: domain.NewEnvelope(domain.EventTypeOrderUpdate),
		OrderID:  u.OrderID,
		Status:   u.Status,
		UserID:   u.UserID,
	})
}

// PublishPriceUpdate publishes a price-update event with a derived
// discount percentage
func (p *Publisher) PublishPriceUpdate(ctx context.Context, u PriceUpdate) error {
	if err := p.validate(domain.EventTypePriceUpdate, &u, u.ProductID); err != nil {
		return err
	}

	original := 0.0
	if u.OriginalPrice != nil {
		original = *u.OriginalPrice
	}

	return p.publish(ctx, &domain.PriceUpdateEvent{
		Envelope:      domain.NewEnvelope(domain.EventTypePriceUpdate),
		ProductID:     u.ProductID,
		Price:         *u.Price,
		OriginalPrice: original,
		Discount:      Discount(*u.Price, u.OriginalPrice),
	})
}

// PublishInventoryUpdate publishes an inventory-update event
func (p *Publisher) PublishInventoryUpdate(ctx context.Context, u InventoryUpdate) error {
	if err := p.validate(domain.EventTypeInventoryUpdate, &u, u.ProductID); err != nil {
		return err
	}

	return p.publish(ctx, &domain.InventoryUpdateEvent{
		Envelope:  domain.NewEnvelope(domain.EventTypeInventoryUpdate),
		ProductID: u.ProductID,
		Stock:     *u.Stock,
		Status:    u.Status,
	})
}

// PublishNotification publishes a notification. Title and message are
// truncated rather than rejected.
func (p *Publisher) PublishNotification(ctx context.Context, n Notification) error {
	if n.Type == "" {
		n.Type = DefaultNotificationType
	}
	if err := p.validate(domain.EventTypeNotification, &n, n.UserID); err != nil {
		return err
	}

	return p.publish(ctx, &domain.NotificationEvent{
		Envelope:         domain.NewEnvelope(domain.EventTypeNotification),
		UserID:           n.UserID,
		Title:            truncate(n.Title, MaxTitleLength),
		Message:          truncate(n.Message, MaxMessageLength),
		NotificationType: n.Type,
	})
}

// Discount returns the percentage off original, or 0 without a usable
// original price
func Discount(price float64, original *float64) float64 {
	if original == nil || *original == 0 {
		return 0
	}
	return (*original - price) * 100 / *original
}

func (p *Publisher) validate(eventType domain.EventType, v any, subject string) error {
	if err := protocol.ValidateStruct(v); err != nil {
		metrics.BridgeRejected.WithLabelValues(string(eventType)).Inc()
		p.logger.Warn("rejected invalid event",
			"event_type", eventType,
			"subject", SanitizeForLog(subject),
			"reason", err.Error(),
		)
		return errors.Wrap(ErrInvalidEvent, errors.ErrorTypeValidation, errors.CodeInvalidMessage, "invalid event").
			WithDetails(err.Error())
	}
	return nil
}

func (p *Publisher) publish(ctx context.Context, event domain.Event) error {
	data, err := p.codec.Encode(event)
	if err != nil {
		return err
	}

	if err := p.bus.Publish(ctx, p.channel, data); err != nil {
		p.logger.Error("failed to publish event",
			"event_type", event.EventType(),
			"channel", p.channel,
			"error", err,
		)
		return errors.Wrap(err, errors.ErrorTypeUpstream, "PUBLISH_FAILED", "failed to publish event")
	}

	metrics.BridgePublished.WithLabelValues(string(event.EventType())).Inc()
	p.logger.Debug("published event", "event_type", event.EventType(), "channel", p.channel)
	return nil
}

var controlChars = regexp.MustCompile(`[\r\n\t]`)

// SanitizeForLog makes untrusted input safe to put in a log line
func SanitizeForLog(s string) string {
	s = controlChars.ReplaceAllString(s, "_")
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if r >= 0x20 && r != 0x7f {
			out = append(out, r)
		}
	}
	return truncate(string(out), 100)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
