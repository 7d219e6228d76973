package eventbus

import (
	"context"
	"time"
)

// Message is one payload received from a channel
type Message struct {
	Channel    string
	Payload    []byte
	ReceivedAt time.Time
}

// Handler is called for every message on a subscribed channel. Handlers
// run on the subscription goroutine and must not block for long.
type Handler func(ctx context.Context, msg *Message)

// Subscription is an active channel subscription
type Subscription interface {
	// Channel returns the subscribed channel name
	Channel() string

	// Unsubscribe stops delivery and waits for the handler to return
	Unsubscribe() error
}
