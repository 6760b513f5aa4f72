package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketMetrics records marketplace operation activity for the /metrics
// endpoint.
type MarketMetrics struct {
	operations *prometheus.CounterVec
	errors     *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	settled    prometheus.Counter
	refunds    prometheus.Counter
}

var (
	marketMetricsOnce sync.Once
	marketRegistry    *MarketMetrics
)

// Market returns the lazily-initialised marketplace metrics registry.
func Market() *MarketMetrics {
	marketMetricsOnce.Do(func() {
		marketRegistry = &MarketMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "operations_total",
				Help:      "Total marketplace operations segmented by operation and outcome.",
			}, []string{"op", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "errors_total",
				Help:      "Total failed marketplace operations segmented by operation.",
			}, []string{"op"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for marketplace operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
			settled: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "settlements_total",
				Help:      "Count of listings settled by direct purchase or accepted bid.",
			}),
			refunds: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "deedmarket",
				Subsystem: "market",
				Name:      "bid_refunds_total",
				Help:      "Count of bid escrows returned to bidders.",
			}),
		}
		prometheus.MustRegister(
			marketRegistry.operations,
			marketRegistry.errors,
			marketRegistry.latency,
			marketRegistry.settled,
			marketRegistry.refunds,
		)
	})
	return marketRegistry
}

// ObserveOperation records one completed operation.
func (m *MarketMetrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.errors.WithLabelValues(op).Inc()
	}
	m.operations.WithLabelValues(op, outcome).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// ObserveSettlement counts a completed sale.
func (m *MarketMetrics) ObserveSettlement() {
	if m != nil {
		m.settled.Inc()
	}
}

// ObserveRefund counts a returned bid escrow.
func (m *MarketMetrics) ObserveRefund() {
	if m != nil {
		m.refunds.Inc()
	}
}
