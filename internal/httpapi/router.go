// Package httpapi exposes the websocket endpoint, the control API used by
// backend services, read-only views of hub state, health and metrics over a
// chi router.
package httpapi

import (
	"net/http"
	"time"

	"github.com/HMasataka/relay/internal/logging"
	"github.com/HMasataka/relay/internal/store"
	"github.com/HMasataka/relay/pkg/realtime"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Options represents router dependencies
type Options struct {
	Hub       *realtime.Hub
	Publisher *realtime.Publisher
	// Store and Presence back the read endpoints; they are mounted only
	// when both are set.
	Store     store.Store
	Presence  *realtime.Presence
	WebSocket http.Handler
	Logger    *logging.Logger
	// RateLimit is the per-IP budget per minute on the control API; zero
	// disables limiting.
	RateLimit int
}

// NewRouter builds the HTTP surface of the relay
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	api := &controlAPI{publisher: opts.Publisher, logger: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)

	if opts.WebSocket != nil {
		r.Handle("/ws", opts.WebSocket)
	}
	r.Get("/health", healthHandler(opts.Hub))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/realtime", func(r chi.Router) {
		if opts.RateLimit > 0 {
			r.Use(httprate.LimitByIP(opts.RateLimit, time.Minute))
		}
		r.Post("/inventory", api.inventory)
		r.Post("/price", api.price)
		r.Post("/order", api.order)
		r.Post("/notification", api.notification)

		if opts.Store != nil && opts.Presence != nil {
			q := &queryAPI{store: opts.Store, presence: opts.Presence}
			r.Get("/rooms/{room}/history", q.history)
			r.Get("/products/{productId}/views", q.productViews)
			r.Get("/users/{userId}/presence", q.userPresence)
			r.Get("/users/{userId}/ai-stats", q.aiStats)
		}
	})

	return r
}

// requestLogger logs one line per request with the chi request id
func requestLogger(logger *logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			l := logger.WithFields(map[string]any{"request_id": middleware.GetReqID(r.Context())})
			next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), l)))

			l.Debug("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}
