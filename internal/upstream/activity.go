package upstream

import (
	"context"
	"net/http"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/logging"
)

// ActivityRecord is one entry of the user activity log
type ActivityRecord struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data"`
	Timestamp int64          `json:"timestamp"`
}

// ActivityClient posts records to the activity collaborator
type ActivityClient struct {
	*service
	url string
}

// NewActivityClient creates an activity client posting to cfg.ActivityURL
func NewActivityClient(httpClient *http.Client, cfg config.UpstreamConfig, logger *logging.Logger) *ActivityClient {
	return &ActivityClient{
		service: newService("activity", httpClient, cfg, logger),
		url:     cfg.ActivityURL,
	}
}

// Log posts one record; the response body is ignored
func (c *ActivityClient) Log(ctx context.Context, record ActivityRecord) error {
	_, err := c.do(ctx, http.MethodPost, c.url, record)
	return err
}
