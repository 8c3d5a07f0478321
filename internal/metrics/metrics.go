// Package metrics holds the pipeline's Prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	JobsEnqueued     prometheus.Counter
	JobsFinished     *prometheus.CounterVec
	Callbacks        *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ExtractionErrors *prometheus.CounterVec
}

// New registers the collectors on a fresh registry, together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		JobsEnqueued: f.NewCounter(prometheus.CounterOpts{
			Name: "planning_jobs_enqueued_total",
			Help: "Documents accepted and published for processing.",
		}),
		JobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planning_jobs_finished_total",
			Help: "Jobs that reached a terminal status.",
		}, []string{"status", "analysis_status"}),
		Callbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planning_callbacks_total",
			Help: "Queue callbacks by outcome.",
		}, []string{"outcome"}), // pipeline outcome, or unauthorized, bad_request, error
		StageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "planning_stage_duration_seconds",
			Help:    "Duration of pipeline stages.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"stage"}),
		ExtractionErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "planning_extraction_errors_total",
			Help: "Failed pipeline stages by error kind.",
		}, []string{"stage", "kind"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Enqueued() {
	if m == nil {
		return
	}
	m.JobsEnqueued.Inc()
}

func (m *Metrics) Finished(status, analysisStatus string) {
	if m == nil {
		return
	}
	m.JobsFinished.WithLabelValues(status, analysisStatus).Inc()
}

func (m *Metrics) Callback(outcome string) {
	if m == nil {
		return
	}
	m.Callbacks.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, started time.Time) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
}

func (m *Metrics) StageError(stage, kind string) {
	if m == nil {
		return
	}
	m.ExtractionErrors.WithLabelValues(stage, kind).Inc()
}
