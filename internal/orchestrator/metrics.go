package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the orchestrator's Prometheus collectors.
type Metrics struct {
	runs           *prometheus.CounterVec
	items          *prometheus.CounterVec
	engineDuration *prometheus.HistogramVec
	active         prometheus.Gauge
}

// NewMetrics registers the collectors with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentforge",
			Name:      "runs_total",
			Help:      "Generation runs by outcome (completed, cancelled, failed).",
		}, []string{"outcome"}),
		items: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "contentforge",
			Name:      "items_total",
			Help:      "Queue items processed by result (generated, regenerated, skipped, failed).",
		}, []string{"result"}),
		engineDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "contentforge",
			Name:      "engine_duration_seconds",
			Help:      "Generation engine call latency by article kind.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"kind"}),
		active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "contentforge",
			Name:      "active_runs",
			Help:      "Runs currently in progress.",
		}),
	}
}
