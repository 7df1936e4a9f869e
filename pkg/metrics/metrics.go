package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectedUsers tracks the number of registered websocket connections.
	ConnectedUsers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_connected_users",
			Help: "Number of connected collaboration users",
		},
	)

	// ActiveLocks tracks the number of live editing locks.
	ActiveLocks = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "collab_active_locks",
			Help: "Number of unexpired editing locks",
		},
	)

	// InboundMessages counts dispatched inbound messages by type and outcome
	// (ok|rejected|dropped|error).
	InboundMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_inbound_messages_total",
			Help: "Total number of inbound collaboration messages",
		},
		[]string{"type", "result"},
	)

	// LockContention counts lock acquisitions refused because another user
	// holds the lock.
	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "collab_lock_contention_total",
			Help: "Total number of lock acquisitions refused due to contention",
		},
	)

	// BroadcastDeliveries counts outbound events delivered to room members.
	BroadcastDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_broadcast_deliveries_total",
			Help: "Total number of room broadcast deliveries",
		},
		[]string{"event"},
	)

	// ConflictsReported counts reported conflicts by severity.
	ConflictsReported = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "collab_conflicts_reported_total",
			Help: "Total number of reported edit conflicts",
		},
		[]string{"severity"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "collab_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
