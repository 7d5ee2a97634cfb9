// Package metrics exposes Prometheus collectors for the indexer service.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapindex_events_total",
			Help: "Total number of events processed, labeled by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)

	eventDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapindex_event_duration_seconds",
			Help:    "Histogram of end-to-end event processing latency, labeled by kind.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"kind"},
	)

	depotRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapindex_depot_requests_total",
			Help: "Total number of depot lookups, labeled by region and result.",
		},
		[]string{"region", "result"},
	)

	depotBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapindex_depot_bytes_total",
			Help: "Total number of bytes downloaded from the depot, labeled by region.",
		},
		[]string{"region"},
	)

	retriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mapindex_retries_total",
			Help: "Total number of retry attempts, labeled by policy.",
		},
		[]string{"policy"},
	)

	activeWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapindex_active_workers",
			Help: "Number of workers currently processing an event.",
		},
	)

	queueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "mapindex_queue_depth",
			Help: "Number of events waiting in the priority queue.",
		},
	)

	rateLimitDelaysSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mapindex_rate_limit_delays_seconds",
			Help:    "Histogram of depot rate limit wait durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"region"},
	)
)

// Depot request results.
const (
	DepotHit      = "hit"
	DepotMiss     = "miss"
	DepotNotFound = "not_found"
	DepotError    = "error"
	DepotHead     = "head"
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveEvent records the outcome and latency of one processed event.
func ObserveEvent(kind, outcome string, duration time.Duration) {
	eventsTotal.WithLabelValues(kind, outcome).Inc()
	eventDurationSeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveDepot increments the depot request counter.
func ObserveDepot(region, result string, bytesFetched int64) {
	depotRequestsTotal.WithLabelValues(region, result).Inc()
	if bytesFetched > 0 {
		depotBytesTotal.WithLabelValues(region).Add(float64(bytesFetched))
	}
}

// ObserveRetry increments the retry counter for the given policy.
func ObserveRetry(policy string) {
	retriesTotal.WithLabelValues(policy).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	activeWorkers.Dec()
}

// SetQueueDepth records the current priority queue length.
func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(region string, duration time.Duration) {
	rateLimitDelaysSeconds.WithLabelValues(region).Observe(duration.Seconds())
}
