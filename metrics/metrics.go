package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authapi_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authapi_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"method", "endpoint"},
	)

	// Auth metrics
	authEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authapi_auth_events_total",
			Help: "Total number of authentication events",
		},
		[]string{"event"}, // user.login, user.login_failed, user.locked, ...
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "authapi_active_sessions",
			Help: "Sessions created minus sessions revoked since process start",
		},
	)

	dependencyReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "authapi_dependency_ready",
			Help: "1 when a backing dependency is ready, 0 otherwise",
		},
		[]string{"dependency"}, // database, redis
	)

	// Error metrics
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authapi_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type", "component"},
	)
)

// PrometheusMiddleware creates a Fiber middleware for Prometheus metrics
func PrometheusMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		method := c.Method()
		// route template keeps label cardinality bounded
		path := c.Route().Path
		if path == "" {
			path = "unmatched"
		}
		status := c.Response().StatusCode()
		if err != nil {
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			} else {
				status = fiber.StatusInternalServerError
			}
		}

		httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)

		return err
	}
}

// IncrementAuthEvent counts an authentication event by name.
func IncrementAuthEvent(event string) {
	authEventsTotal.WithLabelValues(event).Inc()
}

func SessionCreated() {
	activeSessions.Inc()
}

func SessionsRevoked(n int) {
	activeSessions.Sub(float64(n))
}

// SetDependencyReady records readiness of a named dependency.
func SetDependencyReady(dependency string, ready bool) {
	v := 0.0
	if ready {
		v = 1
	}
	dependencyReady.WithLabelValues(dependency).Set(v)
}

// IncrementError increments error counter
func IncrementError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}
