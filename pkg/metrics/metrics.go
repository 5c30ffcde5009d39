// Package metrics defines the prometheus collectors shared across the
// service and the helpers components use to record observations.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "http_requests_total", Help: "HTTP requests."},
		[]string{"route", "method", "status"},
	)
	HTTPLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dedup", Name: "http_request_duration_seconds",
			Help:    "HTTP request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method"},
	)

	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "runs_total", Help: "Detection runs by final status."},
		[]string{"status"}, // completed|failed
	)
	RunDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "dedup", Name: "run_duration_seconds",
			Help:    "End-to-end detection run duration seconds.",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)

	RecordsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "dedup", Name: "records_processed_total", Help: "Input records accepted for scoring."},
	)
	RecordsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "records_skipped_total", Help: "Input records skipped by validation."},
		[]string{"reason"},
	)
	PairsScored = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "dedup", Name: "pairs_scored_total", Help: "Candidate pairs scored."},
	)
	PairOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "pair_outcomes_total", Help: "Pair policy outcomes."},
		[]string{"action"}, // merged|flagged|ignored
	)
	ClustersFound = prometheus.NewCounter(
		prometheus.CounterOpts{Namespace: "dedup", Name: "clusters_total", Help: "Duplicate clusters resolved."},
	)
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "dedup", Name: "engine_queue_depth", Help: "Pending runs in the engine queue."},
	)

	ExternalRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "external_requests_total", Help: "Outbound requests."},
		[]string{"service", "endpoint", "status"},
	)
	ExternalLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dedup", Name: "external_request_duration_seconds",
			Help:    "Outbound request duration seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"service", "endpoint"},
	)
	CacheEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "cache_events_total", Help: "Cache hits/misses/sets/dels."},
		[]string{"cache", "event"}, // event: hit|miss|set|del
	)

	ConfigReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "config_reloads_total", Help: "Config reload attempts."},
		[]string{"result"}, // ok|error
	)
	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "dedup", Name: "circuit_state", Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)."},
		[]string{"name"},
	)
	CircuitEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Namespace: "dedup", Name: "circuit_events_total", Help: "Circuit breaker call outcomes and transitions."},
		[]string{"name", "event"}, // event: success|failure|timeout|slow|open|half_open
	)

	Goroutines = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "dedup", Name: "runtime_goroutines", Help: "Current goroutine count."},
	)
	HeapAllocBytes = prometheus.NewGauge(
		prometheus.GaugeOpts{Namespace: "dedup", Name: "runtime_heap_alloc_bytes", Help: "Current heap allocation."},
	)
)

// InitRegistry builds a registry containing only our collectors. Keeping off
// the default registry avoids double registration in tests.
func InitRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		HTTPRequests, HTTPLatency,
		RunsTotal, RunDuration,
		RecordsProcessed, RecordsSkipped, PairsScored, PairOutcomes, ClustersFound, QueueDepth,
		ExternalRequests, ExternalLatency, CacheEvents,
		ConfigReloads, CircuitState, CircuitEvents,
		Goroutines, HeapAllocBytes,
	)
	return reg
}

func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func ObserveHTTP(route, method string, status int, dur time.Duration) {
	HTTPRequests.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	HTTPLatency.WithLabelValues(route, method).Observe(dur.Seconds())
}

func ObserveExternal(service, endpoint string, status int, dur time.Duration) {
	ExternalRequests.WithLabelValues(service, endpoint, strconv.Itoa(status)).Inc()
	ExternalLatency.WithLabelValues(service, endpoint).Observe(dur.Seconds())
}

func ObserveCache(cache, event string) { // event: hit|miss|set|del
	CacheEvents.WithLabelValues(cache, event).Inc()
}

func ObserveRun(status string, dur time.Duration) {
	RunsTotal.WithLabelValues(status).Inc()
	RunDuration.Observe(dur.Seconds())
}

func ObserveConfigReload(ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	ConfigReloads.WithLabelValues(result).Inc()
}

func AddSkipped(reason string, n int) {
	RecordsSkipped.WithLabelValues(reason).Add(float64(n))
}

func AddPairOutcome(action string, n int) {
	PairOutcomes.WithLabelValues(action).Add(float64(n))
}

func LabelErr(err error) string {
	if err == nil {
		return "none"
	}
	return fmt.Sprintf("%T", err)
}
