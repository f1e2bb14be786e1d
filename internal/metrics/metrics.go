// Package metrics provides Prometheus instrumentation for the ScrollGuard pipeline.
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
			Namespace: "scrollguard",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "scrollguard",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EventsIngestedTotal counts dwell events by ingestion result.
	EventsIngestedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scrollguard",
			Name:      "events_ingested_total",
			Help:      "Total dwell events received by result (accepted, rejected_validation, rejected_auth, failed).",
		},
		[]string{"result"},
	)

	// ScoreDelta observes per-event score increments.
	ScoreDelta = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "scrollguard",
			Name:      "score_delta",
			Help:      "Per-event compulsion score increments.",
			Buckets:   []float64{0, 5, 10, 15, 20, 35, 60, 105, 180},
		},
	)

	// PenaltiesEnqueuedTotal counts penalty jobs enqueued on threshold crossings.
	PenaltiesEnqueuedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "scrollguard",
			Name:      "penalties_enqueued_total",
			Help:      "Total penalty jobs enqueued.",
		},
	)

	// PenaltyJobsTotal counts penalty job completions by final status.
	PenaltyJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scrollguard",
			Name:      "penalty_jobs_total",
			Help:      "Penalty job outcomes by status (succeeded, failed_retryable, failed_permanent).",
		},
		[]string{"status"},
	)

	// PenaltyQueueDepth tracks jobs currently awaiting execution.
	PenaltyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scrollguard",
			Name:      "penalty_queue_depth",
			Help:      "Number of penalty jobs queued or in progress.",
		},
	)

	// ClassifierRequestsTotal counts classifier calls by result.
	ClassifierRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "scrollguard",
			Name:      "classifier_requests_total",
			Help:      "Content classifier calls by result (classified, unavailable).",
		},
		[]string{"result"},
	)

	// ActiveWebSocketClients tracks connected WebSocket clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "scrollguard",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected WebSocket clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrollguard", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// SlashAmountTotal accumulates total USDC slashed.
	SlashAmountTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "scrollguard",
		Name:      "slash_amount_usdc_total",
		Help:      "Total USDC slashed from custodial balances.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EventsIngestedTotal,
		ScoreDelta,
		PenaltiesEnqueuedTotal,
		PenaltyJobsTotal,
		PenaltyQueueDepth,
		ClassifierRequestsTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		SlashAmountTotal,
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
