// Package metrics provides Prometheus instrumentation for the relay server:
// gauges for connection/session/pool state, counters for message and
// security-event throughput, and histograms for latency tracking. Adapted
// from the teacher's internal/metrics, generalized from chat/match
// concerns to session/pool/quality concerns.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of live TCP/WebSocket
	// connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// SessionsAttached is for sessions attached to a live connection.
	// No code in the relay sets it, so it stays at zero.
	SessionsAttached = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_attached",
		Help: "Current number of attached sessions",
	})

	// SessionsSuspended is for sessions awaiting reconnect. No code in the
	// relay sets it, so it stays at zero.
	SessionsSuspended = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_sessions_suspended",
		Help: "Current number of suspended sessions",
	})

	// MessagesTotal counts frames processed, labeled by type: "sent",
	// "received", or "rejected".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_messages_total",
		Help: "Total number of messages processed",
	}, []string{"type"})

	// MessageLatency is a histogram of message processing latency in
	// seconds. No code in the relay observes into it.
	MessageLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_message_latency_seconds",
		Help:    "Message processing latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// QualityScore is a histogram for per-session connection quality scores
	// (spec §4.2). The heartbeat tick does not sample into it, and no other
	// code does either.
	QualityScore = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "relay_quality_score",
		Help:    "Distribution of per-session connection quality scores",
		Buckets: []float64{0, .1, .2, .3, .4, .5, .6, .7, .8, .9, 1},
	})

	// PoolHitRate is for the persistent connection pool's hit rate
	// (reused / (reused+created)). No code in the relay sets it.
	PoolHitRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pool_hit_rate",
		Help: "Persistent connection pool hit rate",
	})

	// PoolSize is for the number of entries held by the pool. No code in the
	// relay sets it.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "relay_pool_size",
		Help: "Current number of entries in the persistent connection pool",
	})

	// SecurityRejectionsTotal counts upgrade admission rejections, labeled
	// by reason ("banned", "suspicious_ua", "rate_limited").
	SecurityRejectionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_security_rejections_total",
		Help: "Total number of rejected upgrade attempts",
	}, []string{"reason"})

	// ReplayBufferDrops is for overflow drops from suspended sessions'
	// replay buffers. The session manager logs such drops but does not
	// increment this counter.
	ReplayBufferDrops = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "relay_replay_buffer_drops_total",
		Help: "Total number of replay buffer entries dropped due to overflow",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		SessionsAttached,
		SessionsSuspended,
		MessagesTotal,
		MessageLatency,
		QualityScore,
		PoolHitRate,
		PoolSize,
		SecurityRejectionsTotal,
		ReplayBufferDrops,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
