package protocol

import (
	"context"
	"fmt"

	"github.com/HMasataka/relay/pkg/domain"
)

// Handler defines the interface for handling inbound messages
type Handler interface {
	// Handle processes a message from client and returns an optional
	// reply for the sender
	Handle(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error)
}

// HandlerFunc is a function adapter for Handler
type HandlerFunc func(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error)

// Handle implements Handler
func (f HandlerFunc) Handle(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	return f(ctx, client, msg)
}

// HandlerRegistry manages message handlers
type HandlerRegistry interface {
	// Register registers a handler for a message type
	Register(messageType domain.MessageType, handler Handler)

	// Get retrieves a handler for a message type
	Get(messageType domain.MessageType) (Handler, bool)

	// Handle routes a message to the appropriate handler
	Handle(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error)
}

// DefaultHandlerRegistry is the default implementation of HandlerRegistry.
// Registration happens at wiring time; lookups are read-only afterwards.
type DefaultHandlerRegistry struct {
	handlers map[domain.MessageType]Handler
}

// NewHandlerRegistry creates a new handler registry
func NewHandlerRegistry() *DefaultHandlerRegistry {
	return &DefaultHandlerRegistry{
		handlers: make(map[domain.MessageType]Handler),
	}
}

// Register implements HandlerRegistry
func (r *DefaultHandlerRegistry) Register(messageType domain.MessageType, handler Handler) {
	r.handlers[messageType] = handler
}

// Get implements HandlerRegistry
func (r *DefaultHandlerRegistry) Get(messageType domain.MessageType) (Handler, bool) {
	handler, ok := r.handlers[messageType]
	return handler, ok
}

// Handle implements HandlerRegistry
func (r *DefaultHandlerRegistry) Handle(ctx context.Context, client domain.Client, msg *domain.Message) (domain.Event, error) {
	handler, ok := r.Get(msg.Type)
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownMessageType, msg.Type)
	}

	return handler.Handle(ctx, client, msg)
}
