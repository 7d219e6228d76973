// Package upstream calls the external HTTP collaborators of the hub: the AI
// delegate, the order service and the activity log. Every service sits
// behind its own circuit breaker.
package upstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/HMasataka/relay/internal/config"
	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/metrics"
	"github.com/HMasataka/relay/pkg/errors"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

const maxResponseBytes = 1 << 20

// Error codes for upstream failures
const (
	CodeUpstreamStatus      = "UPSTREAM_STATUS"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamDecode      = "UPSTREAM_DECODE"
	CodeUpstreamRejected    = "UPSTREAM_REJECTED"
)

// NewHTTPClient returns a client with separate connect and response timeouts
func NewHTTPClient(cfg config.UpstreamConfig) *http.Client {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   cfg.ConnectTimeout + cfg.ReadTimeout,
	}
}

// service is the shared plumbing of every upstream client
type service struct {
	name    string
	http    *http.Client
	breaker *gobreaker.CircuitBreaker[[]byte]
	logger  *logging.Logger
}

func newService(name string, httpClient *http.Client, cfg config.UpstreamConfig, logger *logging.Logger) *service {
	logger = logger.WithFields(map[string]any{"upstream": name})
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			logger.Warn("circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &service{
		name:    name,
		http:    httpClient,
		breaker: breaker,
		logger:  logger,
	}
}

// do sends the request through the breaker and returns the response body.
// Non-2xx responses count as failures.
func (s *service) do(ctx context.Context, method, url string, body any) ([]byte, error) {
	start := time.Now()

	data, err := s.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if body != nil {
			payload, err := json.Marshal(body)
			if err != nil {
				return nil, err
			}
			reader = bytes.NewReader(payload)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := s.http.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
		if err != nil {
			return nil, err
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, errors.New(errors.ErrorTypeUpstream, CodeUpstreamStatus, "unexpected upstream status").
				WithDetails(fmt.Sprintf("%s %s: %d", method, url, resp.StatusCode))
		}
		return respBody, nil
	})

	metrics.RecordUpstream(s.name, time.Since(start), err)

	if err != nil {
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.Wrap(err, errors.ErrorTypeUpstream, CodeUpstreamUnavailable, s.name+" unavailable")
	}
	return data, nil
}

func (s *service) decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return errors.Wrap(err, errors.ErrorTypeUpstream, CodeUpstreamDecode, "invalid "+s.name+" response")
	}
	return nil
}
