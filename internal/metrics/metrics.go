// Package metrics provides Prometheus metrics for the drivegate server.
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
	requestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_requests_total",
			Help: "Total number of gateway requests by dispatch method and status",
		},
		[]string{"method", "status"},
	)

	requestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_request_duration_seconds",
			Help:    "Gateway request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	backendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "drivegate_backend_duration_seconds",
			Help:    "Latency of remote storage backend calls",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	backendErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_backend_errors_total",
			Help: "Remote storage backend calls that returned an error",
		},
		[]string{"op"},
	)

	pathCacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "drivegate_path_cache_lookups_total",
			Help: "Path to id cache lookups by result",
		},
		[]string{"result"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records one dispatched gateway request.
func RecordRequest(method string, status int, duration time.Duration) {
	requestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	requestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordBackendOperation records the latency and outcome of a backend call.
func RecordBackendOperation(op string, duration time.Duration, success bool) {
	backendDuration.WithLabelValues(op).Observe(duration.Seconds())
	if !success {
		backendErrors.WithLabelValues(op).Inc()
	}
}

func RecordPathCacheLookup(hit bool) {
	if hit {
		pathCacheLookups.WithLabelValues("hit").Inc()
	} else {
		pathCacheLookups.WithLabelValues("miss").Inc()
	}
}
