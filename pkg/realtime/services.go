package realtime

import (
	"context"

	"github.com/HMasataka/relay/internal/upstream"
	"github.com/HMasataka/relay/internal/worker"
)

// TaskRunner runs work off the dispatch path
type TaskRunner interface {
	Submit(task worker.Task) error
}

// AIService is the AI delegate
type AIService interface {
	Chat(ctx context.Context, req upstream.ChatRequest) (*upstream.ChatResponse, error)
	Recommendations(ctx context.Context, userID, productID string) (*upstream.Recommendations, error)
}

// OrderService reports order status
type OrderService interface {
	Status(ctx context.Context, orderID string) (any, error)
}

// ActivityLogger records user actions
type ActivityLogger interface {
	Log(ctx context.Context, record upstream.ActivityRecord) error
}

var (
	_ AIService      = (*upstream.AIClient)(nil)
	_ OrderService   = (*upstream.OrderClient)(nil)
	_ ActivityLogger = (*upstream.ActivityClient)(nil)
)
