package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/docmint/docmint/pkg/docgen/core/model"
)

// PrometheusRecorder implements Recorder on a dedicated Prometheus registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	batchDurationSeconds *prometheus.HistogramVec
	batchStatusCounter   *prometheus.CounterVec
	rowCounter           *prometheus.CounterVec
	jobRetryCounter      prometheus.Counter
	queueDepthGauge      prometheus.Gauge
	activeJobsGauge      prometheus.Gauge
}

// NewPrometheusRecorder creates a recorder with its own registry, including
// the standard Go and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docmint_batch_duration_seconds",
			Help:    "Duration of batch executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"status"}),
		batchStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmint_batch_status_total",
			Help: "Total number of finished batches by status.",
		}, []string{"status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docmint_rows_processed_total",
			Help: "Total number of processed rows by outcome.",
		}, []string{"outcome"}),
		jobRetryCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "docmint_job_retries_total",
			Help: "Total number of automatic job retries.",
		}),
		queueDepthGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docmint_queue_depth",
			Help: "Number of pending jobs in the queue.",
		}),
		activeJobsGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docmint_active_jobs",
			Help: "Number of jobs currently processing.",
		}),
	}

	registry.MustRegister(
		r.batchDurationSeconds,
		r.batchStatusCounter,
		r.rowCounter,
		r.jobRetryCounter,
		r.queueDepthGauge,
		r.activeJobsGauge,
	)
	return r
}

// Registry exposes the registry for scraping endpoints owned by the embedder.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

func (r *PrometheusRecorder) RecordBatchFinished(status model.BatchStatus, duration time.Duration) {
	r.batchDurationSeconds.WithLabelValues(status.String()).Observe(duration.Seconds())
	r.batchStatusCounter.WithLabelValues(status.String()).Inc()
}

func (r *PrometheusRecorder) RecordRowProcessed(outcome model.RowOutcomeResult) {
	r.rowCounter.WithLabelValues(string(outcome)).Inc()
}

func (r *PrometheusRecorder) RecordJobRetry() {
	r.jobRetryCounter.Inc()
}

func (r *PrometheusRecorder) SetQueueDepth(n int) {
	r.queueDepthGauge.Set(float64(n))
}

func (r *PrometheusRecorder) SetActiveJobs(n int) {
	r.activeJobsGauge.Set(float64(n))
}

var _ Recorder = (*PrometheusRecorder)(nil)
