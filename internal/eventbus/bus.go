// Package eventbus carries serialized events between hub processes.
package eventbus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/xid"
)

// ErrBusClosed is returned when using a closed bus
var ErrBusClosed = errors.New("event bus closed")

// Bus represents a cross-process publish/subscribe channel set
type Bus interface {
	// Publish sends payload to every subscriber of channel
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe delivers messages on channel to handler until the
	// subscription or ctx ends
	Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error)

	// Close stops every subscription
	Close() error
}

// InMemoryBus is an in-process Bus. Every subscriber gets its own buffered
// queue so a slow handler only delays its own deliveries.
type InMemoryBus struct {
	subscribers map[string]map[string]*memorySubscription
	mu          sync.RWMutex
	bufferSize  int
	closed      bool
}

// NewInMemoryBus creates a new in-memory event bus
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	if bufferSize < 1 {
		bufferSize = 1
	}
	return &InMemoryBus{
		subscribers: make(map[string]map[string]*memorySubscription),
		bufferSize:  bufferSize,
	}
}

// Publish implements Bus. Subscribers whose queue is full miss the message.
func (b *InMemoryBus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrBusClosed
	}

	for _, sub := range b.subscribers[channel] {
		msg := &Message{Channel: channel, Payload: payload, ReceivedAt: time.Now()}
		select {
		case sub.queue <- msg:
		case <-sub.ctx.Done():
		default:
		}
	}
	return nil
}

// Subscribe implements Bus
func (b *InMemoryBus) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrBusClosed
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &memorySubscription{
		id:      xid.New().String(),
		channel: channel,
		queue:   make(chan *Message, b.bufferSize),
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	if b.subscribers[channel] == nil {
		b.subscribers[channel] = make(map[string]*memorySubscription)
	}
	b.subscribers[channel][sub.id] = sub

	sub.wg.Add(1)
	go sub.run(handler)

	return sub, nil
}

// Close implements Bus
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true

	var subs []*memorySubscription
	for _, byID := range b.subscribers {
		for _, sub := range byID {
			subs = append(subs, sub)
		}
	}
	b.subscribers = make(map[string]map[string]*memorySubscription)
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

func (b *InMemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if byID, ok := b.subscribers[sub.channel]; ok {
		delete(byID, sub.id)
		if len(byID) == 0 {
			delete(b.subscribers, sub.channel)
		}
	}
}

type memorySubscription struct {
	id      string
	channel string
	queue   chan *Message
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *InMemoryBus
	wg      sync.WaitGroup
}

func (s *memorySubscription) Channel() string {
	return s.channel
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.remove(s)
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *memorySubscription) run(handler Handler) {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			handler(s.ctx, msg)
		}
	}
}
