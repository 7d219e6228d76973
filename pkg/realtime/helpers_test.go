package realtime

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/internal/worker"
	"github.com/HMasataka/relay/pkg/domain"
	"github.com/HMasataka/relay/pkg/transport/protocol"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second

// fakeClient records every frame sent to it
type fakeClient struct {
	id     string
	userID string

	mu     sync.Mutex
	frames [][]byte
	closed bool
	full   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newFakeClient(id, userID string) *fakeClient {
	ctx, cancel := context.WithCancel(context.Background())
	return &fakeClient{id: id, userID: userID, ctx: ctx, cancel: cancel}
}

func (c *fakeClient) ID() string { return c.id }
func (c *fakeClient) UserID() string { return c.userID }
func (c *fakeClient) Receive(handler domain.MessageHandler) error { return nil }
func (c *fakeClient) Context() context.Context { return c.ctx }

func (c *fakeClient) Send(ctx context.Context, message []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return domain.ErrConnectionClosed
	}
	if c.full {
		return domain.ErrSendBufferFull
	}
	c.frames = append(c.frames, message)
	return nil
}

func (c *fakeClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		c.cancel()
	}
	return nil
}

func (c *fakeClient) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeClient) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

// events decodes every recorded frame
func (c *fakeClient) events(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.frames))
	for _, f := range c.frames {
		var m map[string]any
		require.NoError(t, json.Unmarshal(f, &m))
		out = append(out, m)
	}
	return out
}

// ofType returns recorded events whose type is eventType
func (c *fakeClient) ofType(t *testing.T, eventType domain.EventType) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, ev := range c.events(t) {
		if ev["type"] == string(eventType) {
			out = append(out, ev)
		}
	}
	return out
}

// await blocks until n events of eventType were recorded
func (c *fakeClient) await(t *testing.T, eventType domain.EventType, n int) []map[string]any {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(c.ofType(t, eventType)) >= n
	}, waitFor, 5*time.Millisecond, "waiting for %d %s events", n, eventType)
	return c.ofType(t, eventType)
}

func (c *fakeClient) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type fakeAI struct {
	chat  func(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
	recs  func(ctx context.Context, userID, productID string) (*upstream.Recommendations, error)
	calls atomic.Int32
}

func (f *fakeAI) Chat(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error) {
	f.calls.Add(1)
	if f.chat == nil {
		return &upstream.ChatResponse{Success: true, Response: "ok"}, nil
	}
	return f.chat(ctx, req)
}

func (f *fakeAI) Recommendations(ctx context.Context, userID, productID string) (*upstream.Recommendations, error) {
	if f.recs == nil {
		return &upstream.Recommendations{Success: true, Products: []any{"P2"}, Reason: "similar"}, nil
	}
	return f.recs(ctx, userID, productID)
}

type fakeOrders struct{}

func (fakeOrders) Status(ctx context.Context, orderID string) (any, error) {
	return map[string]any{"orderId": orderID, "status": "SHIPPED"}, nil
}

type fakeActivity struct {
	mu      sync.Mutex
	records []upstream.ActivityRecord
}

func (f *fakeActivity) Log(ctx context.Context, record upstream.ActivityRecord) error {
	f.mu.Lock()
	f.records = append(f.records, record)
	f.mu.Unlock()
	return nil
}

func (f *fakeActivity) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records)
}

// fixture is a fully wired hub with in-memory collaborators
type fixture struct {
	hub        *Hub
	dispatcher *Dispatcher
	store      *store.MemoryStore
	pool       *worker.Pool
	presence   *Presence
	ai         *fakeAI
	activity   *fakeActivity
}

func newFixture(t *testing.T, opts ...HubOption) *fixture {
	t.Helper()
	logger := logging.Discard()

	pool := worker.NewPool(4, 256, logger)
	pool.Start(context.Background())

	mem := store.NewMemoryStore()
	presence := NewPresence(mem, pool, time.Second, logger)

	hubOpts := append([]HubOption{WithHubLogger(logger), WithPresence(presence), WithHeartbeatInterval(0)}, opts...)
	hub := NewHub(hubOpts...)
	require.NoError(t, hub.Start(context.Background()))

	ai := &fakeAI{}
	activity := &fakeActivity{}

	registry := protocol.NewHandlerRegistry()
	NewHandlers(HandlersOptions{
		Hub:      hub,
		Store:    mem,
		Tasks:    pool,
		AI:       ai,
		Orders:   fakeOrders{},
		Presence: presence,
		Logger:   logger,
		Config:   DefaultHandlerConfig(),
	}).Register(registry)

	dispatcher := NewDispatcher(DispatcherOptions{
		Hub:      hub,
		Handlers: registry,
		Activity: activity,
		Tasks:    pool,
		Logger:   logger,
	})

	t.Cleanup(func() {
		hub.Stop()
		pool.Stop()
	})

	return &fixture{
		hub:        hub,
		dispatcher: dispatcher,
		store:      mem,
		pool:       pool,
		presence:   presence,
		ai:         ai,
		activity:   activity,
	}
}

func (f *fixture) connect(t *testing.T, id, userID string) *fakeClient {
	t.Helper()
	c := newFakeClient(id, userID)
	require.NoError(t, f.hub.Register(c))
	c.await(t, domain.EventTypeConnectionAck, 1)
	c.reset()
	return c
}

func (f *fixture) send(c *fakeClient, frame string) {
	f.dispatcher.Dispatch(context.Background(), c, []byte(frame))
}
