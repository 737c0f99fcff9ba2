// Package metrics declares the Prometheus collectors of the realtime core.
// They register with the default registry and are served on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedUsers is the number of users with a registered WebSocket.
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connected_users",
			Help: "Number of users with a live authenticated WebSocket connection",
		},
	)

	// AnonymousConnections counts sockets on the anonymous rebroadcast endpoint.
	AnonymousConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_anonymous_connections",
			Help: "Number of live anonymous WebSocket connections",
		},
	)

	// InboundMessages counts dispatched WebSocket frames by message type.
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_inbound_messages_total",
			Help: "Inbound WebSocket messages by type",
		},
		[]string{"type"},
	)

	// DroppedMessages counts inbound frames that were ignored, by reason.
	DroppedMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_dropped_messages_total",
			Help: "Inbound WebSocket messages dropped by reason",
		},
		[]string{"reason"},
	)

	// SendFailures counts writes that failed and unregistered the target.
	SendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_send_failures_total",
			Help: "Writes to a peer socket that failed",
		},
	)

	// ActiveCalls is the number of call sessions held in memory.
	ActiveCalls = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "calls_active_sessions",
			Help: "Number of in-memory call sessions",
		},
	)

	// SecurityEvents counts recorded security events by type.
	SecurityEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calls_security_events_total",
			Help: "Security events recorded by the call security manager",
		},
		[]string{"type"},
	)

	// Uploads counts background attachment uploads by outcome.
	Uploads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_uploads_total",
			Help: "Background attachment uploads by outcome",
		},
		[]string{"outcome"},
	)

	// UploadDuration observes how long background uploads take.
	UploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "delivery_upload_duration_seconds",
			Help:    "Duration of background attachment uploads",
			Buckets: prometheus.DefBuckets,
		},
	)
)
