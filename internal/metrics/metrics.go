// internal/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "athena"

var (
	// RequestsEnqueuedTotal counts enqueue attempts by outcome (accepted, full, closed, cancelled).
	RequestsEnqueuedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_enqueued_total",
			Help:      "Total number of enqueue attempts on the dispatch queue.",
		},
		[]string{"result"},
	)

	// QueueDepth is the sampled length of the dispatch queue. Advisory only.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Sampled number of requests waiting in the dispatch queue.",
		},
	)

	// QueueWaitSeconds observes how long a request sat in the queue before being batched.
	QueueWaitSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "queue_wait_seconds",
			Help:      "Time between enqueue and batch formation.",
			Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// BatchesTotal counts handler invocations by status (success/failed).
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of batches handed to the batch handler.",
		},
		[]string{"status"},
	)

	// BatchSize observes the number of requests per emitted batch.
	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of requests in each emitted batch.",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256},
		},
	)

	// BatchHandlerDurationSeconds observes handler latency per batch.
	BatchHandlerDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_handler_duration_seconds",
			Help:      "Wall time spent inside the batch handler.",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// RequestsPastDeadlineTotal counts requests dispatched after their advisory deadline.
	// Such requests are still handled; deadlines are not enforced.
	RequestsPastDeadlineTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_past_deadline_total",
			Help:      "Requests whose advisory deadline had passed when their batch was formed.",
		},
	)

	// HttpRequestsTotal counts HTTP requests by path, method and status code.
	HttpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of http requests handled by the service.",
		},
		[]string{"path", "method", "code"},
	)

	// ModelOperationsTotal counts model lifecycle operations by op and status.
	ModelOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "model_operations_total",
			Help:      "Total number of model load/unload operations.",
		},
		[]string{"op", "status"},
	)
)
