package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	ingestionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "game_ingestions_total",
			Help: "Game uploads by outcome.",
		},
		[]string{"result"},
	)

	ingestionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "game_ingestion_duration_seconds",
			Help:    "Time to ingest an uploaded game build.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
)

// PrometheusMiddleware records request counts and latencies per route.
// Unmatched requests share one route label to bound cardinality.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}

// ObserveIngestion records the outcome and duration of one upload.
func ObserveIngestion(result string, d time.Duration) {
	ingestionsTotal.WithLabelValues(result).Inc()
	ingestionDuration.Observe(d.Seconds())
}
