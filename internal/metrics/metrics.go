package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	notificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_notifications_dispatched_total",
			Help: "Total notification records dispatched by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)

	recipientsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_recipients_skipped_total",
			Help: "Candidates excluded before dispatch by reason",
		},
		[]string{"reason"},
	)

	handlerSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_handler_sends_total",
			Help: "Handler delivery attempts by handler and outcome",
		},
		[]string{"handler", "outcome"},
	)

	handlerSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "herald_handler_send_duration_seconds",
			Help:    "Provider delivery call latency by handler",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5, 10},
		},
		[]string{"handler"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "herald_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"client"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_db_connections_active",
			Help: "Active database connections",
		},
	)

	redisConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "herald_redis_connections_active",
			Help: "Active Redis connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordNotificationDispatched records the outcome of one dispatched
// record: delivered, failed, or error.
func RecordNotificationDispatched(channel, outcome string) {
	notificationsDispatched.WithLabelValues(channel, outcome).Inc()
}

// RecordRecipientSkipped records a candidate excluded before dispatch
func RecordRecipientSkipped(reason string) {
	recipientsSkipped.WithLabelValues(reason).Inc()
}

// RecordHandlerSend records one provider delivery attempt
func RecordHandlerSend(handler string, ok bool, duration time.Duration) {
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	handlerSends.WithLabelValues(handler, outcome).Inc()
	handlerSendDuration.WithLabelValues(handler).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(client string) {
	rateLimitRejections.WithLabelValues(client).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// SetRedisConnections sets active Redis connection count
func SetRedisConnections(count int) {
	redisConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
