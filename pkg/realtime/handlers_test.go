package realtime

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/alicebob/miniredis/v2"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlers_JoinRoomIsIdempotent(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")

	f.send(a, `{"type":"join-room","room":"support"}`)
	f.send(a, `{"type":"join-room","room":"support"}`)

	joined := a.ofType(t, domain.EventTypeRoomJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, "support", joined[0]["room"])
	assert.Equal(t, 1, f.hub.Rooms().Size("support"))

	f.send(a, `{"type":"leave-room","room":"support"}`)
	f.send(a, `{"type":"leave-room","room":"nowhere"}`)

	assert.Len(t, a.ofType(t, domain.EventTypeRoomLeft), 2)
	assert.False(t, f.hub.Rooms().Has("support"))
}

func TestHandlers_ChatStaysInRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	b := f.connect(t, "s2", "u2")
	c := f.connect(t, "s3", "u3")

	f.send(c, `{"type":"leave-room","room":"general"}`)
	f.send(c, `{"type":"join-room","room":"support"}`)
	c.reset()

	f.send(a, `{"type":"chat","message":"hello"}`)

	chats := b.ofType(t, domain.EventTypeChat)
	require.Len(t, chats, 1)
	assert.Equal(t, "hello", chats[0]["message"])
	assert.Equal(t, "u1", chats[0]["userId"])
	assert.Equal(t, "general", chats[0]["room"])

	assert.Len(t, a.ofType(t, domain.EventTypeChat), 1)
	assert.Empty(t, c.events(t))

	require.Eventually(t, func() bool {
		history, err := f.store.ListRange(context.Background(), store.ChatKey("general"), 0, -1)
		return err == nil && len(history) == 1
	}, waitFor, 5*time.Millisecond)
}

func TestHandlers_ChatHistoryIsCapped(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")

	for i := 0; i < 510; i++ {
		f.send(a, fmt.Sprintf(`{"type":"chat","message":"m%d","room":"general"}`, i))
	}

	require.Eventually(t, func() bool {
		history, err := f.store.ListRange(context.Background(), store.ChatKey("general"), 0, -1)
		return err == nil && len(history) == 500
	}, waitFor, 10*time.Millisecond)
}

func TestHandlers_TypingExcludesSender(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	b := f.connect(t, "s2", "u2")

	f.send(a, `{"type":"typing","typing":true}`)

	assert.Empty(t, a.events(t))
	typing := b.ofType(t, domain.EventTypeTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, true, typing[0]["typing"])
	assert.Equal(t, "u1", typing[0]["userId"])
}

func TestHandlers_VoiceNoteAndFileShare(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	b := f.connect(t, "s2", "u2")

	f.send(a, `{"type":"voice-note","audioData":"AAAA","duration":3.5}`)
	f.send(a, `{"type":"file-share","fileName":"a.pdf","fileUrl":"https://cdn/a.pdf","fileSize":42}`)

	notes := b.ofType(t, domain.EventTypeVoiceNote)
	require.Len(t, notes, 1)
	assert.Equal(t, 3.5, notes[0]["duration"])

	files := b.ofType(t, domain.EventTypeFileShare)
	require.Len(t, files, 1)
	assert.Equal(t, "a.pdf", files[0]["fileName"])
	assert.Equal(t, float64(42), files[0]["fileSize"])

	assert.Len(t, a.ofType(t, domain.EventTypeVoiceNote), 1)
}

func TestHandlers_ConcurrentProductViews(t *testing.T) {
	f := newFixture(t)
	watcher := f.connect(t, "w", "watcher")
	_, err := f.hub.JoinRoom("w", ProductRoom("P1"))
	require.NoError(t, err)

	const n = 50
	viewers := make([]*fakeClient, n)
	for i := range viewers {
		viewers[i] = f.connect(t, fmt.Sprintf("s%d", i), fmt.Sprintf("u%d", i))
	}

	var wg sync.WaitGroup
	for _, c := range viewers {
		wg.Add(1)
		go func(c *fakeClient) {
			defer wg.Done()
			f.send(c, `{"type":"product-view","productId":"P1"}`)
		}(c)
	}
	wg.Wait()

	views, err := f.store.HashGet(context.Background(), store.KeyProductViews, "P1")
	require.NoError(t, err)
	assert.Equal(t, "50", views)

	today, err := f.store.HashGet(context.Background(), store.KeyProductViewsDay, "P1")
	require.NoError(t, err)
	assert.Equal(t, "50", today)

	counts := watcher.await(t, domain.EventTypeProductViews, n)
	seen := map[float64]bool{}
	for _, ev := range counts {
		seen[ev["viewCount"].(float64)] = true
	}
	assert.Len(t, seen, n)
	assert.True(t, seen[n])
}

func TestHandlers_ProductViewRecommendations(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	other := f.connect(t, "s2", "u2")

	f.send(a, `{"type":"product-view","productId":"P9"}`)

	recs := a.await(t, domain.EventTypeAIRecommendations, 1)
	assert.Equal(t, []any{"P2"}, recs[0]["products"])
	assert.Equal(t, "similar", recs[0]["reason"])
	assert.Empty(t, other.ofType(t, domain.EventTypeAIRecommendations))
}

func TestHandlers_AIChat(t *testing.T) {
	f := newFixture(t)
	f.ai.chat = func(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error) {
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, upstream.ChatContext, req.Context)
		return &upstream.ChatResponse{
			Success:     true,
			Response:    "try the blue one",
			Suggestions: []any{"blue"},
		}, nil
	}
	a := f.connect(t, "s1", "u1")

	f.send(a, `{"type":"ai-chat","message":"which shirt?"}`)

	replies := a.await(t, domain.EventTypeAIResponse, 1)
	assert.Equal(t, "try the blue one", replies[0]["message"])
	assert.Equal(t, []any{"blue"}, replies[0]["suggestions"])
	assert.Equal(t, []any{}, replies[0]["products"])

	require.Eventually(t, func() bool {
		n, err := f.store.HashGet(context.Background(), store.AIStatsKey("u1"), store.FieldTotalQueries)
		return err == nil && n == "1"
	}, waitFor, 5*time.Millisecond)
}

func TestHandlers_AIChatFallback(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"timeout", context.DeadlineExceeded},
		{"failure", stderrors.New("status 503")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ai.chat = func(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error) {
				return nil, tt.err
			}
			a := f.connect(t, "s1", "u1")

			f.send(a, `{"type":"ai-chat","message":"hi"}`)

			a.await(t, domain.EventTypeAIResponse, 1)
			time.Sleep(20 * time.Millisecond)
			replies := a.ofType(t, domain.EventTypeAIResponse)

			require.Len(t, replies, 1)
			assert.Equal(t, AIFallbackMessage, replies[0]["message"])
			assert.Equal(t, []any{}, replies[0]["suggestions"])
			assert.Empty(t, a.ofType(t, domain.EventTypeError))

			_, err := f.store.HashGet(context.Background(), store.AIStatsKey("u1"), store.FieldTotalQueries)
			assert.ErrorIs(t, err, store.ErrNotFound, "fallbacks are not counted")
		})
	}
}

func TestHandlers_AIChatFallbackWhenQueueUnavailable(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	f.pool.Stop()

	f.send(a, `{"type":"ai-chat","message":"hi"}`)

	replies := a.ofType(t, domain.EventTypeAIResponse)
	require.Len(t, replies, 1)
	assert.Equal(t, AIFallbackMessage, replies[0]["message"])
	assert.Equal(t, int32(0), f.ai.calls.Load())
}

func TestHandlers_CartSyncReachesEverySession(t *testing.T) {
	f := newFixture(t)
	phone := f.connect(t, "s1", "u1")
	laptop := f.connect(t, "s2", "u1")
	stranger := f.connect(t, "s3", "u2")

	f.send(phone, `{"type":"cart-update","cart":{"items":[{"sku":"A","qty":2}]}}`)

	for _, c := range []*fakeClient{phone, laptop} {
		syncs := c.ofType(t, domain.EventTypeCartSync)
		require.Len(t, syncs, 1)
		assert.NotNil(t, syncs[0]["cart"])
	}
	assert.Empty(t, stranger.events(t))

	require.Eventually(t, func() bool {
		_, err := f.store.Get(context.Background(), store.CartKey("u1"))
		return err == nil
	}, waitFor, 5*time.Millisecond)

	raw, err := f.store.Get(context.Background(), store.CartKey("u1"))
	require.NoError(t, err)
	var cart map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &cart))
	assert.Len(t, cart["items"], 1)
}

func TestHandlers_OrderTracking(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")

	f.send(a, `{"type":"order-tracking","orderId":"O1"}`)

	assert.Equal(t, []string{"s1"}, f.hub.Rooms().Members(OrderRoom("O1")))

	statuses := a.await(t, domain.EventTypeOrderStatus, 1)
	assert.Equal(t, "O1", statuses[0]["orderId"])
	assert.Equal(t, map[string]any{"orderId": "O1", "status": "SHIPPED"}, statuses[0]["status"])
}

func TestHandlers_PresenceBroadcast(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	b := f.connect(t, "s2", "u2")

	f.send(a, `{"type":"presence","status":"away"}`)

	for _, c := range []*fakeClient{a, b} {
		updates := c.ofType(t, domain.EventTypePresenceUpdate)
		require.Len(t, updates, 1)
		assert.Equal(t, "u1", updates[0]["userId"])
		assert.Equal(t, "away", updates[0]["status"])
	}

	require.Eventually(t, func() bool {
		rec, err := f.presence.Get(context.Background(), "u1")
		return err == nil && rec.Status == domain.PresenceAway
	}, waitFor, 5*time.Millisecond)
}

// Requests still queued when the pool shuts down get the fallback rather
// than silence.
func TestHandlers_AIChatFallbackOnShutdown(t *testing.T) {
	f := newFixture(t)
	f.ai.chat = func(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	a := f.connect(t, "s1", "u1")

	const n = 6 // more than the fixture's workers, so some stay queued
	for i := 0; i < n; i++ {
		f.send(a, `{"type":"ai-chat","message":"hi"}`)
	}
	f.pool.Stop()

	replies := a.ofType(t, domain.EventTypeAIResponse)
	require.Len(t, replies, n)
	for _, r := range replies {
		assert.Equal(t, AIFallbackMessage, r["message"])
	}
}

func TestHandlers_SyntheticRoomsRejectClientNames(t *testing.T) {
	f := newFixture(t)
	alice := f.connect(t, "s1", "alice")
	mallory := f.connect(t, "s2", "mallory")

	f.send(alice, `{"type":"order-tracking","orderId":"123"}`)
	alice.await(t, domain.EventTypeOrderStatus, 1)
	alice.reset()

	frames := []string{
		`{"type":"join-room","room":"order:123"}`,
		`{"type":"join-room","room":"product:P1"}`,
		`{"type":"chat","message":"hi","room":"order:123"}`,
		`{"type":"typing","room":"order:123","typing":true}`,
		`{"type":"voice-note","room":"product:P1","audioData":"AAA","duration":1}`,
		`{"type":"file-share","room":"order:123","fileName":"a.pdf","fileUrl":"http://x/a.pdf","fileSize":1}`,
	}
	for _, frame := range frames {
		f.send(mallory, frame)
	}

	errs := mallory.ofType(t, domain.EventTypeError)
	require.Len(t, errs, len(frames))
	for _, e := range errs {
		assert.Equal(t, errors.CodeInvalidMessage, e["code"])
	}
	assert.Empty(t, mallory.ofType(t, domain.EventTypeRoomJoined))
	assert.Equal(t, []string{"s1"}, f.hub.Rooms().Members(OrderRoom("123")))
	assert.Empty(t, alice.events(t))

	history, err := f.store.ListRange(context.Background(), store.ChatKey(OrderRoom("123")), 0, -1)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestHandlers_LeaveSyntheticRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")

	f.send(a, `{"type":"order-tracking","orderId":"O1"}`)
	require.True(t, f.hub.Rooms().Has(OrderRoom("O1")))

	f.send(a, `{"type":"leave-room","room":"order:O1"}`)

	assert.Len(t, a.ofType(t, domain.EventTypeRoomLeft), 1)
	assert.False(t, f.hub.Rooms().Has(OrderRoom("O1")))
}

func TestHandlers_ProductViewJoinsProductRoom(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, "s1", "u1")
	b := f.connect(t, "s2", "u2")

	f.send(a, `{"type":"product-view","productId":"P1"}`)
	assert.Equal(t, []string{"s1"}, f.hub.Rooms().Members(ProductRoom("P1")))
	views := a.ofType(t, domain.EventTypeProductViews)
	require.Len(t, views, 1)
	assert.Equal(t, float64(1), views[0]["viewCount"])

	f.send(b, `{"type":"product-view","productId":"P1"}`)
	assert.Len(t, a.ofType(t, domain.EventTypeProductViews), 2)
	assert.Len(t, b.ofType(t, domain.EventTypeProductViews), 1)
}

func TestHandlers_DailyViewCounterExpiresAtMidnight(t *testing.T) {
	f := newFixture(t)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rs := store.NewRedisStore(client)
	t.Cleanup(func() { rs.Close() })

	handlers := NewHandlers(HandlersOptions{
		Hub:    f.hub,
		Store:  rs,
		Config: DefaultHandlerConfig(),
	})
	a := f.connect(t, "s1", "u1")
	msg := &domain.Message{
		Type:    domain.MessageTypeProductView,
		Payload: &domain.ProductViewPayload{ProductID: "P1"},
	}

	before := time.Now()
	_, err := handlers.handleProductView(context.Background(), a, msg)
	require.NoError(t, err)

	assert.Equal(t, "1", mr.HGet(store.KeyProductViewsDay, "P1"))
	assert.Equal(t, "1", mr.HGet(store.KeyProductViews, "P1"))
	assert.Equal(t, time.Duration(0), mr.TTL(store.KeyProductViews))

	ttl := mr.TTL(store.KeyProductViewsDay)
	assert.Greater(t, ttl, time.Duration(0))
	assert.LessOrEqual(t, ttl, store.NextMidnight(before).Sub(before)+time.Second)

	mr.FastForward(ttl + time.Second)
	assert.False(t, mr.Exists(store.KeyProductViewsDay))
	assert.Equal(t, "1", mr.HGet(store.KeyProductViews, "P1"))
}
