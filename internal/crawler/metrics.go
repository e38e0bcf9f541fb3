package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ragd.crawler")

var (
	// PagesTotal counts crawled pages.
	// Labels: result (indexed, unreachable, empty)
	PagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "crawler",
			Name:      "pages_total",
			Help:      "Total number of pages processed by crawl jobs",
		},
		[]string{"result"},
	)

	// JobsTotal counts finished crawl jobs.
	// Labels: status (succeeded, failed)
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "crawler",
			Name:      "jobs_total",
			Help:      "Total number of finished crawl jobs by status",
		},
		[]string{"status"},
	)

	// JobDuration tracks wall time of crawl jobs.
	JobDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "crawler",
			Name:      "job_duration_seconds",
			Help:      "Duration of crawl jobs in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// ScrapesTotal counts single-page scrapes.
	// Labels: result (indexed, error)
	ScrapesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "crawler",
			Name:      "scrapes_total",
			Help:      "Total number of single-page scrapes by result",
		},
		[]string{"result"},
	)
)
