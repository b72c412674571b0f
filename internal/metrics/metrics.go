// Package metrics provides Prometheus instrumentation for the hub and the
// match, reveal and pool state machines.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of admitted connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crush_connections_total",
		Help: "Current number of admitted WebSocket connections",
	})

	// AuthRejected counts refused connections by close reason.
	AuthRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crush_auth_rejected_total",
		Help: "Connections refused at admission",
	}, []string{"reason"}) // reason = "missing", "malformed", "expired", "bad_signature", "invalid_claims", "rate_limited"

	// RoomsActive tracks the number of non-empty rooms.
	RoomsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crush_rooms_active",
		Help: "Current number of non-empty rooms",
	})

	// FramesTotal counts outbound frames, labeled by outcome.
	FramesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crush_frames_total",
		Help: "Outbound frames by outcome",
	}, []string{"outcome"}) // outcome = "queued", "dropped"

	// SwipesTotal counts swipes by result status.
	SwipesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crush_swipes_total",
		Help: "Swipes processed by result",
	}, []string{"status"})

	// GuessesTotal counts identity guesses by result status.
	GuessesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "crush_guesses_total",
		Help: "Identity guesses processed by result",
	}, []string{"status"})

	// PoolSize tracks the number of users waiting in the match pool.
	PoolSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "crush_pool_size",
		Help: "Current number of users waiting in the match pool",
	})

	// PoolWait records the time a user waited in the pool before pairing.
	PoolWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "crush_pool_wait_seconds",
		Help:    "Time from joining the pool to being paired",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		AuthRejected,
		RoomsActive,
		FramesTotal,
		SwipesTotal,
		GuessesTotal,
		PoolSize,
		PoolWait,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
