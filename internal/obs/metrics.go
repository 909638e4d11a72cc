// Copyright 2025 James Ross
package obs

import (
	"fmt"
	"net/http"

	"github.com/blazemigrate/blazemigrate/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RowsMigrated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migration_rows_total",
		Help: "Total number of rows forwarded into a batch",
	})
	BatchesEmitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migration_batches_total",
		Help: "Total number of batches emitted by batcher stages",
	})
	RetriesAttempted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migration_retries_total",
		Help: "Total number of retry attempts made by the retry stage",
	})
	TablesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migration_skip_total",
		Help: "Total number of tables skipped by control stages",
	})
	WarningSinkTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "migration_warning_sink_total",
		Help: "Total number of messages routed to the terminal warning sink",
	})
	BatchEncodeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "migration_batch_encode_seconds",
		Help:    "Histogram of time spent encoding a batch to delimited text",
		Buckets: prometheus.DefBuckets,
	})
	ProcessorWorkersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "migration_processor_workers_active",
		Help: "Number of active pipeline processor goroutines",
	})
)

func init() {
	prometheus.MustRegister(RowsMigrated, BatchesEmitted, RetriesAttempted, TablesSkipped, WarningSinkTotal, BatchEncodeDuration, ProcessorWorkersActive)
}

// StartMetricsServer exposes /metrics and returns a server for controlled shutdown.
// Retained for compatibility; StartHTTPServer also registers health endpoints.
func StartMetricsServer(cfg *config.Config) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: mux}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
