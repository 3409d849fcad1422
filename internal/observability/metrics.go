package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	metricsOnce sync.Once

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	loginAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_login_attempts_total",
			Help: "Password login attempts by outcome.",
		},
		[]string{"outcome"},
	)

	accountLockoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_account_lockouts_total",
		Help: "Accounts locked after repeated failed logins.",
	})

	otpEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_otp_events_total",
			Help: "Donor OTP lifecycle events.",
		},
		[]string{"event"},
	)
)

// InitMetrics registers the collectors with the default registry. Safe to
// call more than once.
func InitMetrics() {
	metricsOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			loginAttemptsTotal,
			accountLockoutsTotal,
			otpEventsTotal,
		)
	})
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func RecordLogin(outcome string) {
	loginAttemptsTotal.WithLabelValues(outcome).Inc()
}

func RecordLockout() {
	accountLockoutsTotal.Inc()
}

func RecordOTP(event string) {
	otpEventsTotal.WithLabelValues(event).Inc()
}

func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(recorder, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}

		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(recorder.statusCode)).Inc()
	})
}
