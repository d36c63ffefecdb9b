package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	recapRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recap_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	recapRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "recap_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	recapSubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recap_submissions_total",
		Help: "Submission attempts by outcome.",
	}, []string{"result"})

	recapLedgerEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recap_ledger_entries",
		Help: "Entries in the ledger as last observed by this node.",
	})

	recapWebhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recap_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})

	recapFeedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recap_feed_clients",
		Help: "Connected live feed websocket clients.",
	})

	recapRateLimitedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "recap_rate_limited_total",
		Help: "Requests rejected by the per-client rate limiter, by route.",
	}, []string{"path"})

	recapRateLimitClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "recap_rate_limit_clients",
		Help: "Client buckets held by the rate limiter after the last sweep.",
	})

	recapDependencyUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "recap_dependency_up",
		Help: "1 when the named readiness probe is healthy.",
	}, []string{"probe"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		recapRequestsTotal.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		recapRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

// RecordSubmission counts a submission attempt. result is one of "accepted",
// "duplicate", "invalid", "not_leader" or "error".
func RecordSubmission(result string) {
	recapSubmissionsTotal.WithLabelValues(result).Inc()
}

// SetLedgerEntries records the latest observed log length.
func SetLedgerEntries(n uint64) {
	recapLedgerEntries.Set(float64(n))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		recapWebhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		recapWebhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// SetFeedClients records the number of live feed subscribers.
func SetFeedClients(n int) {
	recapFeedClients.Set(float64(n))
}

// SetDependencyUp records a readiness probe outcome.
func SetDependencyUp(probe string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	recapDependencyUp.WithLabelValues(probe).Set(v)
}

// RecordRateLimited counts a request rejected with 429.
func RecordRateLimited(path string) {
	if path == "" {
		path = "unmatched"
	}
	recapRateLimitedTotal.WithLabelValues(path).Inc()
}

// SetRateLimitClients records how many client buckets the limiter holds.
func SetRateLimitClients(n int) {
	recapRateLimitClients.Set(float64(n))
}
