// Package metrics exposes Prometheus instrumentation for the registry and the
// player pool. All methods are safe on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ideajobs"

// Metrics holds all collectors.
type Metrics struct {
	JobsByStatus     *prometheus.GaugeVec
	OperationsTotal  *prometheus.CounterVec
	MalformedUpdates prometheus.Counter
	SweptTotal       prometheus.Counter
	ActiveWatches    prometheus.Gauge

	PlayersLeased  prometheus.Gauge
	PlayersDenied  prometheus.Counter
	PlayerCapacity prometheus.Gauge
}

// New creates and registers the collectors on reg (default registerer when nil).
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		JobsByStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "jobs",
			Help:      "Jobs currently held by the registry, by status",
		}, []string{"status"}),
		OperationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "operations_total",
			Help:      "Submit, retry and remove calls by outcome",
		}, []string{"op", "result"}),
		MalformedUpdates: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "malformed_updates_total",
			Help:      "Pushed documents dropped because they failed validation",
		}),
		SweptTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "swept_total",
			Help:      "Terminal jobs removed by the expiry sweep",
		}),
		ActiveWatches: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "watched_scopes",
			Help:      "Scopes with an open update subscription",
		}),
		PlayersLeased: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "leased",
			Help:      "Decoder slots currently leased",
		}),
		PlayersDenied: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "denied_total",
			Help:      "Lease requests rejected because the pool was full",
		}),
		PlayerCapacity: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "players",
			Name:      "capacity",
			Help:      "Configured decoder slot capacity",
		}),
	}
}

// ObserveOp counts one registry operation outcome.
func (m *Metrics) ObserveOp(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.OperationsTotal.WithLabelValues(op, result).Inc()
}

// SetJobCounts replaces the per-status gauges.
func (m *Metrics) SetJobCounts(counts map[string]int) {
	if m == nil {
		return
	}
	m.JobsByStatus.Reset()
	for status, n := range counts {
		m.JobsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

// Malformed counts a dropped update.
func (m *Metrics) Malformed() {
	if m == nil {
		return
	}
	m.MalformedUpdates.Inc()
}

// Swept adds n expired jobs.
func (m *Metrics) Swept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.SweptTotal.Add(float64(n))
}

// SetWatches records the number of open subscriptions.
func (m *Metrics) SetWatches(n int) {
	if m == nil {
		return
	}
	m.ActiveWatches.Set(float64(n))
}

// SetLeased records the number of leased player slots.
func (m *Metrics) SetLeased(n, capacity int) {
	if m == nil {
		return
	}
	m.PlayersLeased.Set(float64(n))
	m.PlayerCapacity.Set(float64(capacity))
}

// Denied counts a rejected lease.
func (m *Metrics) Denied() {
	if m == nil {
		return
	}
	m.PlayersDenied.Inc()
}
