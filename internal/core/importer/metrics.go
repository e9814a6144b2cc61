package importer

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// 匯入結果標籤
const (
	outcomeCreated   = "created"
	outcomeDuplicate = "duplicate"
	outcomeRejected  = "rejected"
	outcomeDegraded  = "degraded"
	outcomeFailed    = "failed"
)

var (
	importsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_imports_total",
			Help: "Recipe import attempts by source and outcome.",
		},
		[]string{"source", "outcome"},
	)

	importDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recipe_import_duration_seconds",
			Help:    "End-to-end duration of a single recipe import.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"source"},
	)

	bulkItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recipe_bulk_items_total",
			Help: "Photo batch items by outcome.",
		},
		[]string{"outcome"},
	)
)

func init() {
	prometheus.MustRegister(importsTotal, importDuration, bulkItemsTotal)
}

func observeImport(source, outcome string, start time.Time) {
	importsTotal.WithLabelValues(source, outcome).Inc()
	importDuration.WithLabelValues(source).Observe(time.Since(start).Seconds())
}
