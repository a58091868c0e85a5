package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// HTTPMetrics holds request level and business level collectors.
type HTTPMetrics struct {
	requestDuration  *prometheus.HistogramVec
	requestsTotal    *prometheus.CounterVec
	responseSize     *prometheus.HistogramVec
	inFlightRequests *prometheus.GaugeVec

	businessOperations *prometheus.CounterVec
	businessDuration   *prometheus.HistogramVec

	cacheOperations *prometheus.CounterVec
}

func NewHTTPMetrics() *HTTPMetrics {
	return &HTTPMetrics{
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_backend_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "path", "status"},
		),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_backend_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		responseSize: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_backend_http_response_size_bytes",
				Help:    "Size of HTTP responses in bytes",
				Buckets: prometheus.ExponentialBuckets(64, 2, 10),
			},
			[]string{"method", "path", "status"},
		),
		inFlightRequests: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "escrow_backend_http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
			[]string{"method", "path"},
		),
		businessOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_backend_business_operations_total",
				Help: "Total number of escrow operations by type and outcome",
			},
			[]string{"operation_type", "category", "status"},
		),
		businessDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "escrow_backend_business_operation_duration_seconds",
				Help:    "Duration of escrow operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 15.0, 30.0},
			},
			[]string{"operation_type", "category", "status"},
		),
		cacheOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "escrow_backend_cache_operations_total",
				Help: "Total number of cache lookups",
			},
			[]string{"cache_type", "operation"},
		),
	}
}

func (m *HTTPMetrics) MustRegister(registry *prometheus.Registry) {
	registry.MustRegister(
		m.requestDuration,
		m.requestsTotal,
		m.responseSize,
		m.inFlightRequests,
		m.businessOperations,
		m.businessDuration,
		m.cacheOperations,
	)
}

// RecordBusinessMetric counts an operation and observes its duration when one was measured.
func (m *HTTPMetrics) RecordBusinessMetric(operationType, category, status string, duration float64) {
	m.businessOperations.WithLabelValues(operationType, category, status).Inc()
	if duration > 0 {
		m.businessDuration.WithLabelValues(operationType, category, status).Observe(duration)
	}
}

// HTTPMetricsMiddleware labels requests by route template so path params do not explode cardinality.
func HTTPMetricsMiddleware(metrics *HTTPMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.inFlightRequests.WithLabelValues(method, path).Inc()
		defer metrics.inFlightRequests.WithLabelValues(method, path).Dec()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.requestDuration.WithLabelValues(method, path, status).Observe(time.Since(start).Seconds())
		metrics.requestsTotal.WithLabelValues(method, path, status).Inc()
		if size := c.Writer.Size(); size > 0 {
			metrics.responseSize.WithLabelValues(method, path, status).Observe(float64(size))
		}
	}
}

// BusinessMetricsRecorder is handed to services that report escrow outcomes.
type BusinessMetricsRecorder struct {
	metrics *HTTPMetrics
}

func NewBusinessMetricsRecorder(metrics *HTTPMetrics) *BusinessMetricsRecorder {
	return &BusinessMetricsRecorder{
		metrics: metrics,
	}
}

// RecordReconcileOutcome records one status reconciliation attempt
func (r *BusinessMetricsRecorder) RecordReconcileOutcome(operation, outcome string, duration float64) {
	r.metrics.RecordBusinessMetric("reconcile", operation, outcome, duration)
}

// RecordWebhookEvent records the fate of a single indexer event
func (r *BusinessMetricsRecorder) RecordWebhookEvent(outcome string) {
	r.metrics.RecordBusinessMetric("webhook_event", "indexer", outcome, 0)
}

// RecordWebhookBatch records a processed webhook delivery
func (r *BusinessMetricsRecorder) RecordWebhookBatch(status string, duration float64) {
	r.metrics.RecordBusinessMetric("webhook_batch", "indexer", status, duration)
}

// RecordLifecycleOperation records a build, sign or submit step
func (r *BusinessMetricsRecorder) RecordLifecycleOperation(operationType, status string, duration float64) {
	r.metrics.RecordBusinessMetric("lifecycle_operation", operationType, status, duration)
}

// RecordCacheOperation records a cache hit or miss
func (r *BusinessMetricsRecorder) RecordCacheOperation(cacheType, operation string) {
	r.metrics.cacheOperations.WithLabelValues(cacheType, operation).Inc()
}
