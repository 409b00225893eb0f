package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type lendingMetrics struct {
	loansIssued   *prometheus.CounterVec
	loansRepaid   *prometheus.CounterVec
	loansRecalled *prometheus.CounterVec
	poolFlows     *prometheus.CounterVec
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
}

var (
	lendingMetricsOnce sync.Once
	lendingRegistry    *lendingMetrics
)

// LendingMetrics returns the lazily-initialised metrics registry for the loan
// ledger and its RPC surface.
func LendingMetrics() *lendingMetrics {
	lendingMetricsOnce.Do(func() {
		lendingRegistry = &lendingMetrics{
			loansIssued: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdl",
				Subsystem: "lending",
				Name:      "loans_issued_total",
				Help:      "Loans issued, segmented by token.",
			}, []string{"token"}),
			loansRepaid: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdl",
				Subsystem: "lending",
				Name:      "loans_repaid_total",
				Help:      "Loans repaid, segmented by token.",
			}, []string{"token"}),
			loansRecalled: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdl",
				Subsystem: "lending",
				Name:      "loans_recalled_total",
				Help:      "Overdue loans recalled, segmented by token.",
			}, []string{"token"}),
			poolFlows: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdl",
				Subsystem: "pool",
				Name:      "flows_total",
				Help:      "Liquidity pool operations, segmented by token and direction.",
			}, []string{"token", "direction"}),
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "cdl",
				Subsystem: "rpc",
				Name:      "requests_total",
				Help:      "JSON-RPC requests, segmented by method and outcome.",
			}, []string{"method", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "cdl",
				Subsystem: "rpc",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution of JSON-RPC handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			lendingRegistry.loansIssued,
			lendingRegistry.loansRepaid,
			lendingRegistry.loansRecalled,
			lendingRegistry.poolFlows,
			lendingRegistry.requests,
			lendingRegistry.latency,
		)
	})
	return lendingRegistry
}

// LoanIssued records an issued loan.
func (m *lendingMetrics) LoanIssued(token string) {
	if m == nil {
		return
	}
	m.loansIssued.WithLabelValues(token).Inc()
}

// LoanRepaid records a settled loan.
func (m *lendingMetrics) LoanRepaid(token string) {
	if m == nil {
		return
	}
	m.loansRepaid.WithLabelValues(token).Inc()
}

// LoanRecalled records a recalled loan.
func (m *lendingMetrics) LoanRecalled(token string) {
	if m == nil {
		return
	}
	m.loansRecalled.WithLabelValues(token).Inc()
}

// PoolFlow records a liquidity lock or extraction.
func (m *lendingMetrics) PoolFlow(token, direction string) {
	if m == nil {
		return
	}
	m.poolFlows.WithLabelValues(token, direction).Inc()
}

// ObserveRequest records the outcome and duration of one RPC call.
func (m *lendingMetrics) ObserveRequest(method, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	if method == "" {
		method = "unknown"
	}
	m.requests.WithLabelValues(method, outcome).Inc()
	m.latency.WithLabelValues(method).Observe(duration.Seconds())
}
