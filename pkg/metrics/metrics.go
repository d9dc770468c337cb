// Package metrics defines the Prometheus metric collectors used by the
// ingestion pipeline and exposes an HTTP handler for scraping.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for the pipeline.
type Metrics struct {
	LinesReadTotal       *prometheus.CounterVec
	RecordsAcceptedTotal *prometheus.CounterVec
	RecordsSkippedTotal  *prometheus.CounterVec
	RecordsInFlight      prometheus.Gauge
	RecordFailuresTotal  *prometheus.CounterVec
	DocsIndexedTotal     *prometheus.CounterVec
	ExistsBatchesTotal   *prometheus.CounterVec
	ExistsBatchSize      prometheus.Histogram
	ExistsCacheHitsTotal prometheus.Counter
	StageDuration        *prometheus.HistogramVec
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	m := &Metrics{
		LinesReadTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dump_lines_read_total",
				Help: "Total dump file lines read, by record kind.",
			},
			[]string{"kind"},
		),
		RecordsAcceptedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_accepted_total",
				Help: "Records accepted by the inclusion predicate, by kind.",
			},
			[]string{"kind"},
		),
		RecordsSkippedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_skipped_total",
				Help: "Records rejected by the inclusion predicate, by kind.",
			},
			[]string{"kind"},
		),
		RecordsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "records_in_flight",
				Help: "Records currently being handled by the line reader.",
			},
		),
		RecordFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "record_failures_total",
				Help: "Per-record handler failures that were logged and skipped, by kind.",
			},
			[]string{"kind"},
		),
		DocsIndexedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docs_indexed_total",
				Help: "Documents written to the target store, by kind.",
			},
			[]string{"kind"},
		),
		ExistsBatchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "exists_batches_total",
				Help: "Existence-check batches flushed, by trigger (size, timer, explicit).",
			},
			[]string{"trigger"},
		),
		ExistsBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "exists_batch_size",
				Help:    "Number of ids per flushed existence-check batch.",
				Buckets: []float64{1, 2, 4, 8, 16, 32, 64, 128},
			},
		),
		ExistsCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "exists_cache_hits_total",
				Help: "Existence checks answered from the Redis cache.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "pipeline_stage_duration_seconds",
				Help:    "Wall-clock duration of each pipeline stage.",
				Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 1800, 7200},
			},
			[]string{"stage"},
		),
	}

	prometheus.MustRegister(
		m.LinesReadTotal,
		m.RecordsAcceptedTotal,
		m.RecordsSkippedTotal,
		m.RecordsInFlight,
		m.RecordFailuresTotal,
		m.DocsIndexedTotal,
		m.ExistsBatchesTotal,
		m.ExistsBatchSize,
		m.ExistsCacheHitsTotal,
		m.StageDuration,
	)

	return m
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
