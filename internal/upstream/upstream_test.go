package upstream

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(base string) config.UpstreamConfig {
	cfg := config.Default().Upstream
	cfg.AIBaseURL = base + "/api/ai"
	cfg.OrderBaseURL = base + "/api/orders"
	cfg.ActivityURL = base + "/api/activity/log"
	cfg.ConnectTimeout = time.Second
	cfg.ReadTimeout = 200 * time.Millisecond
	cfg.FailureThreshold = 2
	cfg.OpenTimeout = time.Minute
	return cfg
}

func TestAIClient_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/ai/chat", r.URL.Path)

		var req ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "shoes", req.Message)
		assert.Equal(t, "u1", req.UserID)
		assert.Equal(t, ChatContext, req.Context)

		w.Write([]byte(`{"success":true,"response":"try these","suggestions":["a"],"products":[{"id":"P1"}]}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewAIClient(NewHTTPClient(cfg), cfg, logging.Discard())

	resp, err := client.Chat(context.Background(), ChatRequest{Message: "shoes", UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, "try these", resp.Response)
	assert.Len(t, resp.Suggestions, 1)
	assert.Len(t, resp.Products, 1)
}

func TestAIClient_UnsuccessfulReply(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewAIClient(NewHTTPClient(cfg), cfg, logging.Discard())

	_, err := client.Chat(context.Background(), ChatRequest{Message: "x"})
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeUpstreamRejected, e.Code)
}

func TestAIClient_Recommendations(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/ai/recommendations", r.URL.Path)
		assert.Equal(t, "u1", r.URL.Query().Get("userId"))
		assert.Equal(t, "P 1", r.URL.Query().Get("productId"))
		w.Write([]byte(`{"success":true,"products":[1,2],"reason":"similar"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewAIClient(NewHTTPClient(cfg), cfg, logging.Discard())

	recs, err := client.Recommendations(context.Background(), "u1", "P 1")
	require.NoError(t, err)
	assert.Len(t, recs.Products, 2)
	assert.Equal(t, "similar", recs.Reason)
}

func TestAIClient_Timeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	cfg := testConfig(srv.URL)
	client := NewAIClient(NewHTTPClient(cfg), cfg, logging.Discard())

	start := time.Now()
	_, err := client.Chat(context.Background(), ChatRequest{Message: "x"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeUpstreamUnavailable, e.Code)
}

func TestOrderClient_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/orders/O-1/status", r.URL.Path)
		w.Write([]byte(`{"status":"SHIPPED","eta":"tomorrow"}`))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewOrderClient(NewHTTPClient(cfg), cfg, logging.Discard())

	status, err := client.Status(context.Background(), "O-1")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"status": "SHIPPED", "eta": "tomorrow"}, status)
}

func TestActivityClient_Log(t *testing.T) {
	var got ActivityRecord
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/activity/log", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewActivityClient(NewHTTPClient(cfg), cfg, logging.Discard())

	err := client.Log(context.Background(), ActivityRecord{ID: "a1", UserID: "u1", Action: "chat", Timestamp: 42})
	require.NoError(t, err)
	assert.Equal(t, "chat", got.Action)
	assert.Equal(t, int64(42), got.Timestamp)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	client := NewOrderClient(NewHTTPClient(cfg), cfg, logging.Discard())

	for i := 0; i < 2; i++ {
		_, err := client.Status(context.Background(), "O-1")
		e, ok := errors.As(err)
		require.True(t, ok)
		assert.Equal(t, CodeUpstreamStatus, e.Code)
	}

	_, err := client.Status(context.Background(), "O-1")
	e, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, CodeUpstreamUnavailable, e.Code)
	assert.Equal(t, int32(2), calls.Load())
}
