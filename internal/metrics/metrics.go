// Package metrics holds the Prometheus series shared by the storefront services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	OperationsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operations_executed_total",
			Help: "Total number of operations executed by the resilience queue",
		},
		[]string{"kind", "outcome"},
	)

	OperationRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "operation_retries_total",
			Help: "Total number of in-process operation retries",
		},
		[]string{"kind"},
	)

	OfflineQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "offline_queue_depth",
			Help: "Number of operations waiting in the offline queue",
		},
	)

	PermanentlyFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "offline_items_permanently_failed_total",
			Help: "Total number of queued operations dropped after exhausting retries",
		},
	)

	ErrorsRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "errors_recorded_total",
			Help: "Total number of operation errors by class",
		},
		[]string{"class"},
	)

	PriceQuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "price_quotes_total",
			Help: "Total number of dynamic price quotes",
		},
		[]string{"outcome"},
	)

	PromotionsCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "promotions_cache_total",
			Help: "Store promotions lookups by cache result",
		},
		[]string{"result"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_latency_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	TelemetryProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemetry_events_processed_total",
			Help: "Total number of telemetry events persisted",
		},
		[]string{"name"},
	)

	DLQCountTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dlq_count_total",
			Help: "Total number of messages sent to DLQ",
		},
	)

	DBLatencySeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_latency_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)
)

func init() {
	prometheus.MustRegister(OperationsExecutedTotal)
	prometheus.MustRegister(OperationRetriesTotal)
	prometheus.MustRegister(OfflineQueueDepth)
	prometheus.MustRegister(PermanentlyFailedTotal)
	prometheus.MustRegister(ErrorsRecordedTotal)
	prometheus.MustRegister(PriceQuotesTotal)
	prometheus.MustRegister(PromotionsCacheTotal)
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPLatencySeconds)
	prometheus.MustRegister(TelemetryProcessedTotal)
	prometheus.MustRegister(DLQCountTotal)
	prometheus.MustRegister(DBLatencySeconds)
}
