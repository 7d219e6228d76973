package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/logging"
)

// OrderClient calls the order service
type OrderClient struct {
	*service
	baseURL string
}

// NewOrderClient creates an order client rooted at cfg.OrderBaseURL
func NewOrderClient(httpClient *http.Client, cfg config.UpstreamConfig, logger *logging.Logger) *OrderClient {
	return &OrderClient{
		service: newService("orders", httpClient, cfg, logger),
		baseURL: strings.TrimRight(cfg.OrderBaseURL, "/"),
	}
}

// Status returns the order status document as the service sent it
func (c *OrderClient) Status(ctx context.Context, orderID string) (any, error) {
	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/"+url.PathEscape(orderID)+"/status", nil)
	if err != nil {
		return nil, err
	}

	var status any
	if err := c.decode(data, &status); err != nil {
		return nil, err
	}
	return status, nil
}
