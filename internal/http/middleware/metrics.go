package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	apiRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_api_requests_total",
			Help: "Admin and intake API requests by route, method, status class and whether the caller authenticated.",
		},
		[]string{"route", "method", "class", "caller"},
	)

	// Intake only queues the event, so requests are expected to be fast.
	apiLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orderbot_api_request_duration_seconds",
			Help:    "Admin and intake API latency by route.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1, 2.5},
		},
		[]string{"route"},
	)

	apiRefused = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orderbot_api_refused_total",
			Help: "Requests ended by middleware (auth, rate limit, bad event key, panic) by route and error code.",
		},
		[]string{"route", "code"},
	)
)

func init() {
	prometheus.MustRegister(apiRequests, apiLatency, apiRefused)
}

// Metrics counts and times every request under its route pattern, so
// /sessions/:userID is one series regardless of user and unknown paths fold
// into "unmatched". Mount promhttp.Handler() on /metrics separately.
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := routeOf(c)
		caller := "anonymous"
		if UserID(c) != "" {
			caller = "authenticated"
		}
		class := strconv.Itoa(c.Writer.Status()/100) + "xx"
		apiRequests.WithLabelValues(route, c.Request.Method, class, caller).Inc()
		apiLatency.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
