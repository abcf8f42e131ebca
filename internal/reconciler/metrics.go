package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes reconciliation health to Prometheus. All methods are safe
// on a nil receiver so wiring metrics stays optional in tests and tooling.
type Metrics struct {
	evaluationsTotal *prometheus.CounterVec
	driftTotal       *prometheus.CounterVec
	correctionsTotal *prometheus.CounterVec
	recreationsTotal *prometheus.CounterVec
	queueDepth       prometheus.Gauge
}

// NewMetrics creates and registers the reconciler metric set. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plangov",
				Name:      "evaluations_total",
				Help:      "Total number of identity evaluations by outcome.",
			},
			[]string{"outcome"},
		),
		driftTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plangov",
				Name:      "drift_mismatches_total",
				Help:      "Total number of detected drift mismatches by attribute.",
			},
			[]string{"attribute"},
		),
		correctionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plangov",
				Name:      "corrections_total",
				Help:      "Total number of corrective gateway patches by result.",
			},
			[]string{"result"},
		),
		recreationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "plangov",
				Name:      "recreations_total",
				Help:      "Total number of plan recreations by result.",
			},
			[]string{"result"},
		),
		queueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "plangov",
				Name:      "reconcile_queue_depth",
				Help:      "Current number of identities waiting for evaluation.",
			},
		),
	}

	reg.MustRegister(m.evaluationsTotal, m.driftTotal, m.correctionsTotal,
		m.recreationsTotal, m.queueDepth)
	return m
}

func (m *Metrics) RecordEvaluation(outcome Outcome) {
	if m == nil {
		return
	}
	m.evaluationsTotal.WithLabelValues(string(outcome)).Inc()
}

func (m *Metrics) RecordDrift(attribute string) {
	if m == nil {
		return
	}
	m.driftTotal.WithLabelValues(attribute).Inc()
}

func (m *Metrics) RecordCorrection(ok bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !ok {
		result = "failed"
	}
	m.correctionsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordRecreation(ok bool) {
	if m == nil {
		return
	}
	result := "succeeded"
	if !ok {
		result = "failed"
	}
	m.recreationsTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(depth))
}
