// Package metrics exposes Prometheus collectors for the realtime hub.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hub metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_connections_active",
			Help: "Current number of registered websocket sessions",
		},
	)

	RoomsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_rooms_active",
			Help: "Current number of non-empty rooms",
		},
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_received_total",
			Help: "Inbound frames by message type",
		},
		[]string{"type"},
	)

	MessagesRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_messages_rejected_total",
			Help: "Inbound frames rejected before reaching a handler",
		},
		[]string{"reason"},
	)

	EventsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_sent_total",
			Help: "Outbound events accepted by client send buffers",
		},
		[]string{"type"},
	)

	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Outbound events not delivered to a session",
		},
		[]string{"reason"},
	)

	HandlerDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_handler_duration_seconds",
			Help:    "Time spent in inbound message handlers",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5, 1},
		},
		[]string{"type"},
	)

	// Bridge metrics
	BridgePublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_published_total",
			Help: "Domain events published to the bus",
		},
		[]string{"type"},
	)

	BridgeRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_rejected_total",
			Help: "Domain events rejected by validation",
		},
		[]string{"type"},
	)

	BridgeRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_bridge_relayed_total",
			Help: "Bus events relayed into the hub",
		},
		[]string{"type"},
	)

	// Worker pool metrics
	WorkerQueueRejected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_worker_rejected_total",
			Help: "Background tasks rejected because the queue was full or stopped",
		},
	)

	// Upstream metrics
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_upstream_request_duration_seconds",
			Help:    "Latency of calls to external services",
			Buckets: []float64{.01, .05, .1, .5, 1, 2.5, 5, 10},
		},
		[]string{"service", "outcome"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "relay_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordUpstream observes one external call
func RecordUpstream(service string, d time.Duration, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	UpstreamRequestDuration.WithLabelValues(service, outcome).Observe(d.Seconds())
}

// RecordHandler observes one inbound handler run
func RecordHandler(messageType string, d time.Duration) {
	HandlerDuration.WithLabelValues(messageType).Observe(d.Seconds())
}
