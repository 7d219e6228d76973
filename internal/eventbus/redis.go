package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// RedisBus implements Bus on redis pub/sub. Every process subscribing to a
// channel receives every message published on it.
type RedisBus struct {
	client *redis.Client
	logger *logging.Logger

	mu     sync.Mutex
	subs   map[*redisSubscription]struct{}
	closed bool
}

// NewRedisBus creates a bus on an existing client
func NewRedisBus(client *redis.Client, logger *logging.Logger) *RedisBus {
	return &RedisBus{
		client: client,
		logger: logger,
		subs:   make(map[*redisSubscription]struct{}),
	}
}

// Publish implements Bus
func (b *RedisBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish to %s: %w", channel, err)
	}
	return nil
}

// Subscribe implements Bus. It returns once redis has confirmed the
// subscription so nothing published afterwards is missed.
func (b *RedisBus) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrBusClosed
	}
	b.mu.Unlock()

	pubsub := b.client.Subscribe(ctx, channel)

	confirm := func() error {
		recvCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		msg, err := pubsub.Receive(recvCtx)
		if err != nil {
			b.logger.Warn("waiting for subscription", "channel", channel, "error", err)
			return err
		}
		if _, ok := msg.(*redis.Subscription); !ok {
			return fmt.Errorf("unexpected subscribe reply %T", msg)
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.MaxElapsedTime = 30 * time.Second
	if err := backoff.Retry(confirm, backoff.WithContext(eb, ctx)); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", channel, err)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &redisSubscription{
		channel: channel,
		pubsub:  pubsub,
		ctx:     subCtx,
		cancel:  cancel,
		bus:     b,
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	sub.wg.Add(1)
	go sub.run(handler)

	b.logger.Info("subscribed to channel", "channel", channel)
	return sub, nil
}

// Close implements Bus. The redis client itself is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := make([]*redisSubscription, 0, len(b.subs))
	for sub := range b.subs {
		subs = append(subs, sub)
	}
	b.subs = make(map[*redisSubscription]struct{})
	b.mu.Unlock()

	for _, sub := range subs {
		sub.stop()
	}
	return nil
}

type redisSubscription struct {
	channel string
	pubsub  *redis.PubSub
	ctx     context.Context
	cancel  context.CancelFunc
	bus     *RedisBus
	wg      sync.WaitGroup
	once    sync.Once
}

func (s *redisSubscription) Channel() string {
	return s.channel
}

func (s *redisSubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	delete(s.bus.subs, s)
	s.bus.mu.Unlock()

	s.stop()
	return nil
}

func (s *redisSubscription) stop() {
	s.once.Do(func() {
		s.cancel()
		if err := s.pubsub.Close(); err != nil {
			s.bus.logger.Debug("closing pubsub", "channel", s.channel, "error", err)
		}
	})
	s.wg.Wait()
}

func (s *redisSubscription) run(handler Handler) {
	defer s.wg.Done()

	// Channel reconnects on its own after network errors.
	ch := s.pubsub.Channel()
	for {
		select {
		case <-s.ctx.Done():
			return
		case m, ok := <-ch:
			if !ok {
				return
			}
			handler(s.ctx, &Message{
				Channel:    m.Channel,
				Payload:    []byte(m.Payload),
				ReceivedAt: time.Now(),
			})
		}
	}
}
