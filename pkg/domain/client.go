package domain

import (
	"context"
)

// Client represents one live transport session
type Client interface {
	// ID returns the session identifier assigned by the transport
	ID() string

	// UserID returns the user identity derived at handshake
	UserID() string

	// Send enqueues an already serialized frame. It fails with
	// ErrConnectionClosed once the client is closed.
	Send(ctx context.Context, message []byte) error

	// Receive sets up a message handler for incoming frames
	Receive(handler MessageHandler) error

	// Close closes the client connection; it is idempotent
	Close() error

	// IsOpen reports whether writes are still accepted
	IsOpen() bool

	// Context is cancelled when the client closes
	Context() context.Context
}

// MessageHandler is a function that handles incoming frames
type MessageHandler func(message []byte) error
