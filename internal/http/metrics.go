package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// routeMetrics counts requests per route pattern. Compare and snapshot
// requests reconstruct whole roadmaps, hence the long tail of buckets.
type routeMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttled *prometheus.CounterVec
}

func newRouteMetrics() *routeMetrics {
	return &routeMetrics{
		requests: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ec_bot",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})),
		latency: register(prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ec_bot",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   latencyBuckets,
		}, []string{"method", "route", "status"})),
		throttled: register(prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ec_bot",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})),
	}
}

// register adds c to the default registry, reusing an identical collector
// registered by an earlier router.
func register[C prometheus.Collector](c C) C {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
	}
	return c
}

func (m *routeMetrics) observe(method, route string, status int, duration time.Duration) {
	code := strconv.Itoa(status)
	m.requests.WithLabelValues(method, route, code).Inc()
	m.latency.WithLabelValues(method, route, code).Observe(duration.Seconds())
}

func (m *routeMetrics) rateLimited(route, key string) {
	m.throttled.WithLabelValues(route, key).Inc()
}
