package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EscrowMetrics records order lifecycle activity.
type EscrowMetrics struct {
	transitions      *prometheus.CounterVec
	duration         *prometheus.HistogramVec
	custodyBalance   *prometheus.GaugeVec
	solvencyFailures prometheus.Counter
	ordersByState    *prometheus.GaugeVec
}

var (
	escrowOnce     sync.Once
	escrowRegistry *EscrowMetrics
)

// Escrow returns the lazily-registered escrow metrics.
func Escrow() *EscrowMetrics {
	escrowOnce.Do(func() {
		escrowRegistry = &EscrowMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "flyblox",
				Subsystem: "escrow",
				Name:      "transitions_total",
				Help:      "Escrow operations segmented by operation and outcome kind.",
			}, []string{"op", "outcome"}),
			duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "flyblox",
				Subsystem: "escrow",
				Name:      "operation_duration_seconds",
				Help:      "Latency of escrow operations including the state commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			custodyBalance: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "flyblox",
				Subsystem: "escrow",
				Name:      "custody_balance",
				Help:      "Booked custody balance per token, in base units.",
			}, []string{"token"}),
			solvencyFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "flyblox",
				Subsystem: "escrow",
				Name:      "solvency_failures_total",
				Help:      "Solvency audits that found custody out of line with open orders.",
			}),
			ordersByState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "flyblox",
				Subsystem: "escrow",
				Name:      "orders",
				Help:      "Orders per lifecycle state as of the last audit.",
			}, []string{"state"}),
		}
		prometheus.MustRegister(
			escrowRegistry.transitions,
			escrowRegistry.duration,
			escrowRegistry.custodyBalance,
			escrowRegistry.solvencyFailures,
			escrowRegistry.ordersByState,
		)
	})
	return escrowRegistry
}

// ObserveOperation records one escrow call. An empty outcome means success.
func (m *EscrowMetrics) ObserveOperation(op, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	if outcome == "" {
		outcome = "ok"
	}
	m.transitions.WithLabelValues(op, outcome).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// SetCustodyBalance publishes the booked custody for a token.
func (m *EscrowMetrics) SetCustodyBalance(token string, amount float64) {
	if m == nil {
		return
	}
	m.custodyBalance.WithLabelValues(token).Set(amount)
}

// IncSolvencyFailure counts a failed solvency audit.
func (m *EscrowMetrics) IncSolvencyFailure() {
	if m == nil {
		return
	}
	m.solvencyFailures.Inc()
}

// SetOrdersInState publishes the number of orders in a lifecycle state.
func (m *EscrowMetrics) SetOrdersInState(state string, count int) {
	if m == nil {
		return
	}
	m.ordersByState.WithLabelValues(state).Set(float64(count))
}
