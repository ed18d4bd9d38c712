// Package observability holds the Prometheus metrics recorded by the glow engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chromasky"

// Metrics holds the Prometheus counters, histograms, and gauges for mask
// building, grid evaluation, and job runs.
type Metrics struct {
	CellsEvaluated prometheus.Counter
	CellFailures   prometheus.Counter
	ShortCircuits  prometheus.Counter
	ActiveCells    prometheus.Gauge

	EvaluationDuration prometheus.Histogram
	MaskDuration       prometheus.Histogram

	BundlesWritten prometheus.Counter
	TargetsSkipped *prometheus.CounterVec // labels: reason={no_dataset,no_active_cells,error}
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	return newMetrics(prometheus.DefaultRegisterer)
}

// NewMetricsForTesting creates Metrics on a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics(prometheus.NewRegistry())
}

func newMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CellsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_evaluated_total",
			Help:      "Grid cells scored successfully.",
		}),
		CellFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cell_failures_total",
			Help:      "Grid cells whose evaluation failed and were left unevaluated.",
		}),
		ShortCircuits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cells_clear_sky_total",
			Help:      "Evaluated cells scored zero because the local high cloud cover was below the clear threshold.",
		}),
		ActiveCells: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_cells",
			Help:      "Active cells in the most recent evaluation mask.",
		}),
		EvaluationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "evaluation_duration_seconds",
			Help:      "Duration of a complete grid evaluation.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		MaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mask_duration_seconds",
			Help:      "Duration of an event window mask build.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		BundlesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bundles_written_total",
			Help:      "Result bundles persisted to the output store.",
		}),
		TargetsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "targets_skipped_total",
			Help:      "Targets that produced no bundle, by reason.",
		}, []string{"reason"}),
	}

	reg.MustRegister(
		m.CellsEvaluated,
		m.CellFailures,
		m.ShortCircuits,
		m.ActiveCells,
		m.EvaluationDuration,
		m.MaskDuration,
		m.BundlesWritten,
		m.TargetsSkipped,
	)
	return m
}
