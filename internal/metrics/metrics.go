// Package metrics exposes prometheus collectors for the real-time core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectionsActive counts live registered connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wirechat",
		Name:      "connections_active",
		Help:      "Number of live websocket connections.",
	})

	// PrincipalsOnline counts principals with at least one live connection.
	PrincipalsOnline = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "wirechat",
		Name:      "principals_online",
		Help:      "Number of principals currently online.",
	})

	// EventsIn counts accepted inbound events by type.
	EventsIn = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wirechat",
		Name:      "events_in_total",
		Help:      "Inbound events accepted by the router.",
	}, []string{"type"})

	// EventsRejected counts rejected inbound events by error code.
	EventsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "wirechat",
		Name:      "events_rejected_total",
		Help:      "Inbound events rejected by the router or gateway.",
	}, []string{"code"})

	// BroadcastFanout observes how many connections each broadcast reached.
	BroadcastFanout = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "wirechat",
		Name:      "broadcast_fanout",
		Help:      "Connections reached per broadcast.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
	})

	// SlowConsumerDrops counts connections dropped for a full send queue.
	SlowConsumerDrops = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "wirechat",
		Name:      "slow_consumer_drops_total",
		Help:      "Connections closed because their send queue filled up.",
	})
)
