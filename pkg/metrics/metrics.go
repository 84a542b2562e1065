package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ActiveConnections tracks live authenticated websocket connections.
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnyzer_battle_active_connections",
			Help: "Number of live authenticated battle stream connections",
		},
	)

	// ActiveBattles tracks rooms that have not been destroyed yet.
	ActiveBattles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnyzer_battle_active_rooms",
			Help: "Number of battle rooms currently held in memory",
		},
	)

	// FramesTotal counts inbound frames by type and routing outcome (accepted|rejected|dropped).
	FramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnyzer_battle_frames_total",
			Help: "Total number of inbound battle frames",
		},
		[]string{"type", "result"},
	)

	// BroadcastLatency measures room fan-out duration.
	BroadcastLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "learnyzer_battle_broadcast_seconds",
			Help:    "Time spent fanning an event out to room members",
			Buckets: prometheus.DefBuckets,
		},
	)

	// BattlesFinalized counts terminal transitions by reason (all_final|deadline|aborted).
	BattlesFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "learnyzer_battle_finalized_total",
			Help: "Total number of battles that reached a terminal state",
		},
		[]string{"reason"},
	)

	// APIInFlight tracks HTTP requests currently being handled.
	APIInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "learnyzer_api_in_flight_requests",
			Help: "Number of HTTP requests currently being handled",
		},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "learnyzer_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
