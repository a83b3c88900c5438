// Package metrics exposes Prometheus metrics for the evaluation loop.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"PositionSentinel/internal/model"
)

// Metrics holds all Prometheus metrics of the bot.
type Metrics struct {
	TicksTotal    *prometheus.CounterVec // labels: result
	SignalsTotal  *prometheus.CounterVec // labels: signal
	LedgerCalls   *prometheus.CounterVec // labels: op, result
	PositionState prometheus.Gauge       // 0=none, 1=long, -1=short
	LastPrice     prometheus.Gauge
	TickDuration  prometheus.Histogram

	registry *prometheus.Registry
}

// New creates the metrics on a dedicated registry.
func New() *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ticks_total",
			Help: "Evaluation ticks by result",
		}, []string{"result"}),
		SignalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_signals_total",
			Help: "Signals generated by type",
		}, []string{"signal"}),
		LedgerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sentinel_ledger_calls_total",
			Help: "Ledger operations by op and result",
		}, []string{"op", "result"}),
		PositionState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_position_state",
			Help: "Current position: 0=none, 1=long, -1=short",
		}),
		LastPrice: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_last_price",
			Help: "Price observed on the last tick",
		}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sentinel_tick_duration_seconds",
			Help:    "Duration of one evaluation tick",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		m.TicksTotal,
		m.SignalsTotal,
		m.LedgerCalls,
		m.PositionState,
		m.LastPrice,
		m.TickDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// ObserveTick records the outcome and duration of one tick.
func (m *Metrics) ObserveTick(result string, started time.Time) {
	m.TicksTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(time.Since(started).Seconds())
}

// SetState maps the state machine state onto the position gauge.
func (m *Metrics) SetState(s model.State) {
	switch s {
	case model.StateOpenLong:
		m.PositionState.Set(1)
	case model.StateOpenShort:
		m.PositionState.Set(-1)
	default:
		m.PositionState.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
