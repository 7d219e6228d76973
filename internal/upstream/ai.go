package upstream

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/pkg/errors"
)

// ChatContext is sent with every chat request
const ChatContext = "product-search"

// ChatRequest is the body of POST {ai}/chat
type ChatRequest struct {
	Message string `json:"message"`
	UserID  string `json:"userId"`
	Context string `json:"context"`
}

// ChatResponse is the reply of POST {ai}/chat
type ChatResponse struct {
	Success     bool   `json:"success"`
	Response    string `json:"response"`
	Suggestions []any  `json:"suggestions,omitempty"`
	Products    []any  `json:"products,omitempty"`
}

// Recommendations is the reply of GET {ai}/recommendations
type Recommendations struct {
	Success  bool  `json:"success"`
	Products []any `json:"products"`
	Reason   any   `json:"reason"`
}

// AIClient calls the AI delegate
type AIClient struct {
	*service
	baseURL string
}

// NewAIClient creates an AI client rooted at cfg.AIBaseURL
func NewAIClient(httpClient *http.Client, cfg config.UpstreamConfig, logger *logging.Logger) *AIClient {
	return &AIClient{
		service: newService("ai", httpClient, cfg, logger),
		baseURL: strings.TrimRight(cfg.AIBaseURL, "/"),
	}
}

// Chat sends one chat turn. A reply with success=false is an error.
func (c *AIClient) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if req.Context == "" {
		req.Context = ChatContext
	}

	data, err := c.do(ctx, http.MethodPost, c.baseURL+"/chat", req)
	if err != nil {
		return nil, err
	}

	var resp ChatResponse
	if err := c.decode(data, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.New(errors.ErrorTypeUpstream, CodeUpstreamRejected, "ai chat was not successful")
	}
	return &resp, nil
}

// Recommendations fetches products related to productID for userID.
// A reply with success=false is an error.
func (c *AIClient) Recommendations(ctx context.Context, userID, productID string) (*Recommendations, error) {
	q := url.Values{}
	q.Set("userId", userID)
	q.Set("productId", productID)

	data, err := c.do(ctx, http.MethodGet, c.baseURL+"/recommendations?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var resp Recommendations
	if err := c.decode(data, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, errors.New(errors.ErrorTypeUpstream, CodeUpstreamRejected, "ai recommendations were not successful")
	}
	return &resp, nil
}
