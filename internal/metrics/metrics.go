// Package metrics exposes Prometheus instrumentation for the orchestrator:
// admission outcomes, queue depth, job lifecycle and pipeline throughput.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector registered for the process.
type Metrics struct {
	registry *prometheus.Registry

	AdmissionDecisions *prometheus.CounterVec
	JobsFinished       *prometheus.CounterVec
	JobRetries         prometheus.Counter
	ChaptersProcessed  prometheus.Counter
	DescriptionsKept   prometheus.Counter
	ImagesDispatched   prometheus.Counter

	ActiveJobs prometheus.Gauge
	QueueDepth prometheus.Gauge

	JobDuration     prometheus.Histogram
	ChapterDuration prometheus.Histogram
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		AdmissionDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "admission_decisions_total",
			Help:      "Admission verdicts by decision and reason code.",
		}, []string{"decision", "reason"}),
		JobsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "jobs_finished_total",
			Help:      "Jobs reaching a terminal state, by state.",
		}, []string{"state"}),
		JobRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "job_retries_total",
			Help:      "Recoverable job failures that were requeued for retry.",
		}),
		ChaptersProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "chapters_processed_total",
			Help:      "Chapters run through the description pipeline.",
		}),
		DescriptionsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "descriptions_kept_total",
			Help:      "Descriptions surviving filter and dedupe.",
		}),
		ImagesDispatched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "parsing",
			Name:      "images_dispatched_total",
			Help:      "Image generation requests emitted.",
		}),
		ActiveJobs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parsing",
			Name:      "active_jobs",
			Help:      "Jobs currently holding a run slot.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "parsing",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the durable queue.",
		}),
		JobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parsing",
			Name:      "job_duration_seconds",
			Help:      "Wall time per parsing job.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~68min
		}),
		ChapterDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "parsing",
			Name:      "chapter_duration_seconds",
			Help:      "Wall time per chapter through the pipeline.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}),
	}

	reg.MustRegister(
		m.AdmissionDecisions, m.JobsFinished, m.JobRetries, m.ChaptersProcessed,
		m.DescriptionsKept, m.ImagesDispatched, m.ActiveJobs, m.QueueDepth,
		m.JobDuration, m.ChapterDuration,
	)
	return m
}

// Handler returns the scrape endpoint for this process's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
