// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Delivery outcome label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
	StatusError   = "error" // request never completed
)

var (
	// Registry is the dedicated Prometheus registry for the API.
	Registry = prometheus.NewRegistry()

	// HTTPRequests counts requests by method, route and status.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds.
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// WebhookDeliveries counts delivery attempts by event type and outcome.
	WebhookDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook delivery attempts by event type and status."},
		[]string{"event_type", "status"},
	)
	// WebhookLatency tracks delivery attempt latency in milliseconds.
	WebhookLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "webhook_delivery_latency_ms", Help: "Webhook delivery latency in ms.", Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000}},
		[]string{"event_type", "status"},
	)

	// SSRFBlocked counts webhook URLs rejected by the SSRF guard.
	SSRFBlocked = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "webhook_ssrf_blocked_total", Help: "Webhook URLs rejected as private or internal targets."},
		[]string{"reason"},
	)
	// RateLimitRejections counts 429 responses by limiter rule.
	RateLimitRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rate_limit_rejections_total", Help: "Requests rejected by the rate limiter."},
		[]string{"rule"},
	)

	// DispatchQueueRejections counts events and retries refused by the worker queue.
	DispatchQueueRejections = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_queue_rejections_total", Help: "Events and retries rejected by the dispatch queue."},
	)
	// DispatchTasksFailed counts background tasks that returned an error.
	DispatchTasksFailed = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "dispatch_tasks_failed_total", Help: "Background tasks that ended with an error."},
	)
)

var regOnce sync.Once

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(
			HTTPRequests,
			HTTPDuration,
			WebhookDeliveries,
			WebhookLatency,
			SSRFBlocked,
			RateLimitRejections,
			DispatchQueueRejections,
			DispatchTasksFailed,
		)
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}
