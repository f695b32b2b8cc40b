// Package metrics provides Prometheus instrumentation for the scanning service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ScansTotal counts completed scans by chain, scan type, and risk level.
	ScansTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "scans_total",
			Help:      "Total scans completed by chain, scan type, and risk level.",
		},
		[]string{"chain", "type", "level"},
	)

	// ScanDuration observes end-to-end scan latency by scan type.
	ScanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "chainguard",
			Name:      "scan_duration_seconds",
			Help:      "End-to-end scan duration in seconds.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		},
		[]string{"type"},
	)

	// ScanDegradedTotal counts scans that completed with degraded data sources.
	ScanDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "scan_degraded_total",
			Help:      "Total scans completed with at least one degraded data source.",
		},
		[]string{"source"},
	)

	// FindingsTotal counts risk findings emitted by code and severity.
	FindingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "findings_total",
			Help:      "Total risk findings emitted by finding code and severity.",
		},
		[]string{"code", "severity"},
	)

	// ExternalCallsTotal counts calls to upstream data sources by outcome.
	// result is ok, error, or rejected (circuit open).
	ExternalCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "external_calls_total",
			Help:      "Total upstream data source calls by service and result.",
		},
		[]string{"service", "result"},
	)

	// AIInterpretationsTotal counts interpretation outcomes (ai vs rule-based).
	AIInterpretationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "chainguard",
			Name:      "ai_interpretations_total",
			Help:      "Total interpretations by mode (ai or rules).",
		},
		[]string{"mode"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "chainguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "chainguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ScansTotal,
		ScanDuration,
		ScanDegradedTotal,
		FindingsTotal,
		ExternalCallsTotal,
		AIInterpretationsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
