package monitoring

import (
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: []float64{0.1, 0.5, 1, 2, 5},
		},
		[]string{"method", "endpoint"},
	)

	// 报名存储相关指标
	StoreOperations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_store_operations_total",
			Help: "Enrollment store operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	StoreCASConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "enrollment_store_cas_conflicts_total",
			Help: "Compare-and-swap version conflicts that forced a re-read",
		},
		[]string{"operation"},
	)

	TestSubmissions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "final_test_submissions_total",
			Help: "Final test submissions by outcome",
		},
		[]string{"outcome"},
	)

	TestScores = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "final_test_score_percentage",
			Help:    "Distribution of final test scores",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		},
	)

	NotifyConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "notify_websocket_connections",
			Help: "Open change-notification websocket connections",
		},
	)
)

var registerOnce sync.Once

func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(RequestCounter)
		prometheus.MustRegister(RequestDuration)
		prometheus.MustRegister(StoreOperations)
		prometheus.MustRegister(StoreCASConflicts)
		prometheus.MustRegister(TestSubmissions)
		prometheus.MustRegister(TestScores)
		prometheus.MustRegister(NotifyConnections)
	})
}

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := c.Writer.Status()

		RequestCounter.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			strconv.Itoa(status),
		).Inc()

		RequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
		).Observe(duration)
	}
}

func PrometheusHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
