package trade

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// TradesCreated counts trades accepted against offers.
	TradesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peertrade",
			Name:      "trades_created_total",
			Help:      "Total trades created.",
		},
	)

	// Transitions counts committed status edges.
	Transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peertrade",
			Name:      "trade_transitions_total",
			Help:      "Committed trade state transitions by edge.",
		},
		[]string{"from", "to"},
	)

	// TradesSwept counts trades expired by the timeout sweeper.
	TradesSwept = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peertrade",
			Name:      "trades_swept_total",
			Help:      "Trades expired by the timeout sweeper.",
		},
	)

	// DisputesRaised counts disputes opened.
	DisputesRaised = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "peertrade",
			Name:      "disputes_raised_total",
			Help:      "Total disputes raised.",
		},
	)

	// DisputesResolved counts dispute resolutions by outcome.
	DisputesResolved = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peertrade",
			Name:      "disputes_resolved_total",
			Help:      "Dispute resolutions by outcome.",
		},
		[]string{"resolution"},
	)

	// OpDuration observes trade operation latency by type.
	OpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peertrade",
			Name:      "trade_operation_duration_seconds",
			Help:      "Trade operation duration in seconds.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(TradesCreated, Transitions, TradesSwept,
		DisputesRaised, DisputesResolved, OpDuration)
}

// observeOp returns a function to observe operation duration.
func observeOp(opType string) func() {
	start := time.Now()
	return func() {
		OpDuration.WithLabelValues(opType).Observe(time.Since(start).Seconds())
	}
}
