// Package metrics provides Prometheus metrics for the inventory engine and
// its side-channel workers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	LedgerOperations    *prometheus.CounterVec
	LedgerUnits         *prometheus.CounterVec
	StockShortfalls     prometheus.Counter
	EngineDuration      *prometheus.HistogramVec
	OutboxPending       prometheus.Gauge
	OutboxPublished     prometheus.Counter
	AlertsProcessed     *prometheus.CounterVec
	CircuitBreakerState *prometheus.GaugeVec

	gatherer prometheus.Gatherer
}

// New creates all metrics and registers them on reg. A nil reg uses a fresh
// private registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		LedgerOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_operations_total",
			Help: "Committed ledger operations by kind",
		}, []string{"op"}),
		LedgerUnits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_units_total",
			Help: "Units moved by committed ledger operations",
		}, []string{"op"}),
		StockShortfalls: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stock_shortfalls_total",
			Help: "Requests rejected for insufficient stock",
		}),
		EngineDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "engine_operation_duration_seconds",
			Help:    "Consistency engine operation duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"op", "result"}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
		OutboxPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_published_total",
			Help: "Outbox entries published to the broker",
		}),
		AlertsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stock_alerts_processed_total",
			Help: "Stock alerts handled by the notifier",
		}, []string{"result"}),
		CircuitBreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.LedgerOperations,
		m.LedgerUnits,
		m.StockShortfalls,
		m.EngineDuration,
		m.OutboxPending,
		m.OutboxPublished,
		m.AlertsProcessed,
		m.CircuitBreakerState,
	)

	if g, ok := reg.(prometheus.Gatherer); ok {
		m.gatherer = g
	}
	return m
}

// ObserveOperation records the duration and outcome of one engine call.
func (m *Metrics) ObserveOperation(op, result string, started time.Time) {
	if m == nil {
		return
	}
	m.EngineDuration.WithLabelValues(op, result).Observe(time.Since(started).Seconds())
}

// RecordLedger counts one committed ledger movement.
func (m *Metrics) RecordLedger(op string, units int) {
	if m == nil {
		return
	}
	m.LedgerOperations.WithLabelValues(op).Inc()
	if units < 0 {
		units = -units
	}
	m.LedgerUnits.WithLabelValues(op).Add(float64(units))
}

// RecordShortfall counts a rejected reservation.
func (m *Metrics) RecordShortfall() {
	if m == nil {
		return
	}
	m.StockShortfalls.Inc()
}

// Handler returns the Prometheus HTTP handler for the registry the metrics
// were registered on, or the default handler.
func (m *Metrics) Handler() http.Handler {
	if m != nil && m.gatherer != nil {
		return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
	}
	return promhttp.Handler()
}

// SetOutboxPending publishes the relay's view of the backlog.
func (m *Metrics) SetOutboxPending(n int64) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

// RecordPublished counts one relayed outbox entry.
func (m *Metrics) RecordPublished() {
	if m == nil {
		return
	}
	m.OutboxPublished.Inc()
}

// RecordAlert counts one notifier outcome: stored, duplicate, forwarded or failed.
func (m *Metrics) RecordAlert(result string) {
	if m == nil {
		return
	}
	m.AlertsProcessed.WithLabelValues(result).Inc()
}

// SetBreakerState mirrors a circuit breaker's state.
func (m *Metrics) SetBreakerState(name string, state float64) {
	if m == nil {
		return
	}
	m.CircuitBreakerState.WithLabelValues(name).Set(state)
}
