package vectorstore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("ragd.vectorstore")

var (
	// OperationDuration tracks gateway call latency.
	// Labels: backend, operation, result (success, error)
	OperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "operation_duration_seconds",
			Help:      "Duration of vector store operations in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"backend", "operation", "result"},
	)

	upsertedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "upserted_records_total",
			Help:      "Total number of records upserted",
		},
		[]string{"backend"},
	)

	transferredRecords = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ragd",
			Subsystem: "vectorstore",
			Name:      "transferred_records_total",
			Help:      "Total number of records copied between namespaces",
		},
	)
)

func observeOp(backend, operation string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	OperationDuration.WithLabelValues(backend, operation, result).Observe(time.Since(start).Seconds())
}
