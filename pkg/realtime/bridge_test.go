package realtime

import (
	"context"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/eventbus"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChannel = "realtime-events"

func ptr[T any](v T) *T { return &v }

type bridge struct {
	*fixture
	bus       *eventbus.InMemoryBus
	publisher *Publisher
}

func newBridge(t *testing.T) *bridge {
	t.Helper()
	f := newFixture(t)
	logger := logging.Discard()

	bus := eventbus.NewInMemoryBus(64)
	sub := NewSubscriber(f.hub, bus, testChannel, logger)
	require.NoError(t, sub.Start(context.Background()))

	t.Cleanup(func() {
		sub.Stop()
		bus.Close()
	})

	return &bridge{fixture: f, bus: bus, publisher: NewPublisher(bus, testChannel, logger)}
}

func TestBridge_PriceUpdateReachesProductRoom(t *testing.T) {
	b := newBridge(t)
	watcher := b.connect(t, "s1", "u1")
	bystander := b.connect(t, "s2", "u2")
	_, err := b.hub.JoinRoom("s1", ProductRoom("P1"))
	require.NoError(t, err)

	require.NoError(t, b.publisher.PublishPriceUpdate(context.Background(), PriceUpdate{
		ProductID:     "P1",
		Price:         ptr(90.0),
		OriginalPrice: ptr(100.0),
	}))

	updates := watcher.await(t, domain.EventTypePriceUpdate, 1)
	assert.Equal(t, "P1", updates[0]["productId"])
	assert.Equal(t, 90.0, updates[0]["price"])
	assert.Equal(t, 100.0, updates[0]["originalPrice"])
	assert.Equal(t, 10.0, updates[0]["discount"])

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, bystander.events(t))
}

func TestBridge_OrderAndInventoryRouting(t *testing.T) {
	b := newBridge(t)
	tracker := b.connect(t, "s1", "u1")
	shopper := b.connect(t, "s2", "u2")
	b.send(tracker, `{"type":"order-tracking","orderId":"O1"}`)
	_, err := b.hub.JoinRoom("s2", ProductRoom("P7"))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.publisher.PublishOrderUpdate(ctx, OrderUpdate{OrderID: "O1", Status: "SHIPPED", UserID: "u1"}))
	require.NoError(t, b.publisher.PublishInventoryUpdate(ctx, InventoryUpdate{ProductID: "P7", Stock: ptr(0), Status: "out_of_stock"}))

	orders := tracker.await(t, domain.EventTypeOrderUpdate, 1)
	assert.Equal(t, "SHIPPED", orders[0]["status"])

	stock := shopper.await(t, domain.EventTypeInventoryUpdate, 1)
	assert.Equal(t, 0.0, stock[0]["stock"])
	assert.Equal(t, "out_of_stock", stock[0]["status"])

	assert.Empty(t, shopper.ofType(t, domain.EventTypeOrderUpdate))
	assert.Empty(t, tracker.ofType(t, domain.EventTypeInventoryUpdate))
}

func TestBridge_Notification(t *testing.T) {
	b := newBridge(t)
	a := b.connect(t, "s1", "u1")
	c := b.connect(t, "s2", "u2")
	ctx := context.Background()

	require.NoError(t, b.publisher.PublishNotification(ctx, Notification{
		UserID:  "u1",
		Title:   strings.Repeat("t", 150),
		Message: strings.Repeat("m", 600),
	}))

	direct := a.await(t, domain.EventTypeNotification, 1)
	assert.Equal(t, "info", direct[0]["notificationType"])
	assert.Len(t, direct[0]["title"], MaxTitleLength)
	assert.Len(t, direct[0]["message"], MaxMessageLength)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, c.events(t))

	require.NoError(t, b.publisher.PublishNotification(ctx, Notification{Title: "sale", Message: "now", Type: "promo"}))

	for cl, n := range map[*fakeClient]int{a: 2, c: 1} {
		all := cl.await(t, domain.EventTypeNotification, n)
		last := all[len(all)-1]
		assert.Equal(t, "promo", last["notificationType"])
		assert.NotContains(t, last, "userId")
	}
}

func TestBridge_InvalidEventsAreNotPublished(t *testing.T) {
	b := newBridge(t)
	watcher := b.connect(t, "s1", "u1")
	_, err := b.hub.JoinRoom("s1", ProductRoom("P1"))
	require.NoError(t, err)

	received := make(chan struct{}, 8)
	sub, err := b.bus.Subscribe(context.Background(), testChannel, func(ctx context.Context, msg *eventbus.Message) {
		received <- struct{}{}
	})
	require.NoError(t, err)
	defer sub.Unsubscribe()

	ctx := context.Background()
	errs := []error{
		b.publisher.PublishPriceUpdate(ctx, PriceUpdate{ProductID: "P1;rm -rf", Price: ptr(1.0)}),
		b.publisher.PublishPriceUpdate(ctx, PriceUpdate{ProductID: "P1"}),
		b.publisher.PublishPriceUpdate(ctx, PriceUpdate{ProductID: "P1", Price: ptr(-1.0)}),
		b.publisher.PublishInventoryUpdate(ctx, InventoryUpdate{ProductID: "P1", Status: "ok"}),
		b.publisher.PublishOrderUpdate(ctx, OrderUpdate{OrderID: "O1", Status: "<script>", UserID: "u1"}),
		b.publisher.PublishOrderUpdate(ctx, OrderUpdate{OrderID: strings.Repeat("a", 300), Status: "ok", UserID: "u1"}),
		b.publisher.PublishNotification(ctx, Notification{UserID: "u1\x00", Title: "x"}),
	}

	for i, err := range errs {
		assert.True(t, stderrors.Is(err, ErrInvalidEvent), "case %d: %v", i, err)
	}

	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, received)
	assert.Empty(t, watcher.events(t))
}

func TestBridge_RouteRejectsUnroutable(t *testing.T) {
	b := newBridge(t)
	sub := NewSubscriber(b.hub, b.bus, testChannel, logging.Discard())

	assert.Error(t, sub.Route([]byte(`not json`)))
	assert.Error(t, sub.Route([]byte(`{"type":"chat"}`)))
	assert.Error(t, sub.Route([]byte(`{"type":"order-update"}`)))
	assert.Error(t, sub.Route([]byte(`{"type":"price-update"}`)))
}

func TestBridge_RelayIsVerbatim(t *testing.T) {
	b := newBridge(t)
	a := b.connect(t, "s1", "u1")
	_, err := b.hub.JoinRoom("s1", OrderRoom("O1"))
	require.NoError(t, err)

	payload := `{"type":"order-update","orderId":"O1","status":"DELIVERED","userId":"u1","timestamp":1,"extra":{"carrier":"X"}}`
	require.NoError(t, b.bus.Publish(context.Background(), testChannel, []byte(payload)))

	require.Eventually(t, func() bool {
		a.mu.Lock()
		defer a.mu.Unlock()
		return len(a.frames) == 1 && string(a.frames[0]) == payload
	}, waitFor, 5*time.Millisecond)
}

func TestDiscount(t *testing.T) {
	tests := []struct {
		name     string
		price    float64
		original *float64
		want     float64
	}{
		{"ten percent", 90, ptr(100.0), 10},
		{"no original", 90, nil, 0},
		{"zero original", 90, ptr(0.0), 0},
		{"same price", 50, ptr(50.0), 0},
		{"price increase", 120, ptr(100.0), -20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Discount(tt.price, tt.original), 1e-9)
		})
	}
}

func TestSanitizeForLog(t *testing.T) {
	assert.Equal(t, "a__b_c", SanitizeForLog("a\r\nb\tc"))
	assert.Equal(t, "ab", SanitizeForLog("a\x00\x1bb"))
	assert.Len(t, []rune(SanitizeForLog(strings.Repeat("é", 200))), 100)
}
