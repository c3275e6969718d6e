package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the billing loop.
type Metrics struct {
	IterationsTotal   *prometheus.CounterVec
	IterationDuration prometheus.Histogram

	ChargesTotal          *prometheus.CounterVec
	ChargedCentsTotal     prometheus.Counter
	TrafficDecaysTotal    *prometheus.CounterVec
	ReclaimedGBTotal      prometheus.Counter
	SideEffectsTotal      *prometheus.CounterVec
	DataIntegrityWarnings prometheus.Counter
}

// NewMetrics creates and registers all billing metrics on the registry.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		IterationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_iterations_total",
				Help: "Total number of billing loop iterations",
			},
			[]string{"status"},
		),
		IterationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "billing_iteration_duration_seconds",
				Help:    "Billing iteration duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		ChargesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_charges_total",
				Help: "Total number of per-day charge attempts by outcome",
			},
			[]string{"outcome"},
		),
		ChargedCentsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_charged_cents_total",
				Help: "Total amount charged, in minor currency units",
			},
		),
		TrafficDecaysTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_traffic_decays_total",
				Help: "Total number of traffic decay reconciliations by outcome",
			},
			[]string{"outcome"},
		),
		ReclaimedGBTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_traffic_reclaimed_gb_total",
				Help: "Total expired purchased traffic reclaimed, in gigabytes",
			},
		),
		SideEffectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_side_effects_total",
				Help: "Total best-effort side effects dispatched",
			},
			[]string{"kind", "status"},
		),
		DataIntegrityWarnings: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_data_integrity_warnings_total",
				Help: "Total defensive clamps applied during quota reconciliation",
			},
		),
	}

	registry.MustRegister(
		m.IterationsTotal,
		m.IterationDuration,
		m.ChargesTotal,
		m.ChargedCentsTotal,
		m.TrafficDecaysTotal,
		m.ReclaimedGBTotal,
		m.SideEffectsTotal,
		m.DataIntegrityWarnings,
	)

	return m
}
