// Package metrics registers the engine's Prometheus collectors
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	RoundTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rounds_transitions_total",
			Help: "Round state transitions",
		},
		[]string{"game", "mode", "status"},
	)
	ActiveRounds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "rounds_active",
			Help: "Rounds held in memory",
		},
	)
	RoundWarnings = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rounds_warnings_total",
			Help: "Recoverable errors surfaced to players",
		},
		[]string{"game", "code"},
	)
	CustodyOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "custody_operations_total",
			Help: "Custody lock/release attempts by result",
		},
		[]string{"backend", "op", "result"},
	)
	MirrorFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "round_mirror_failures_total",
			Help: "Best-effort progress mirror writes that failed",
		},
		[]string{"target"},
	)
	EventsDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ws_events_dropped_total",
			Help: "Events not delivered because a connection's send buffer was full",
		},
	)
	Connections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ws_connections",
			Help: "Open WebSocket connections",
		},
	)
	Payouts = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "round_payout_multiplier",
			Help:    "Payout divided by stake for resolved rounds",
			Buckets: []float64{0, 0.5, 1, 1.5, 2, 5, 10, 50, 100, 1000},
		},
		[]string{"game"},
	)
)

func init() {
	prometheus.MustRegister(RoundTransitions)
	prometheus.MustRegister(ActiveRounds)
	prometheus.MustRegister(RoundWarnings)
	prometheus.MustRegister(CustodyOps)
	prometheus.MustRegister(MirrorFailures)
	prometheus.MustRegister(EventsDropped)
	prometheus.MustRegister(Connections)
	prometheus.MustRegister(Payouts)
}

// Custody records the result of a custody call
func Custody(backend, op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CustodyOps.WithLabelValues(backend, op, result).Inc()
}
