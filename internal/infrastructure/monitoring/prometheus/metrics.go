// Package prometheus defines the service's metric collectors and the
// /metrics handler.
package prometheus

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector bundles every metric the service emits.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	materializationDuration *prometheus.HistogramVec
	materializationRows     *prometheus.HistogramVec
	filterEvaluations       prometheus.Counter

	comparisonCacheHits   prometheus.Counter
	comparisonCacheMisses prometheus.Counter
}

// NewCollector registers all service metrics on a fresh registry.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())

	c := &Collector{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cohortd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohortd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		materializationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohortd",
			Subsystem: "screening",
			Name:      "materialization_duration_seconds",
			Help:      "Time to evaluate a filter over a full dataset.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"tenant"}),
		materializationRows: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cohortd",
			Subsystem: "screening",
			Name:      "materialization_rows",
			Help:      "Dataset row counts seen by materializations.",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		}, []string{"tenant"}),
		filterEvaluations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortd",
			Subsystem: "screening",
			Name:      "filter_evaluations_total",
			Help:      "Total row-level filter evaluations performed.",
		}),
		comparisonCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortd",
			Subsystem: "comparison",
			Name:      "cache_hits_total",
			Help:      "Comparison requests served from cache.",
		}),
		comparisonCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cohortd",
			Subsystem: "comparison",
			Name:      "cache_misses_total",
			Help:      "Comparison requests that required recomputation.",
		}),
	}

	reg.MustRegister(
		c.httpRequests,
		c.httpDuration,
		c.materializationDuration,
		c.materializationRows,
		c.filterEvaluations,
		c.comparisonCacheHits,
		c.comparisonCacheMisses,
	)
	return c
}

// Handler exposes the registry for the /metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records one finished HTTP request.
func (c *Collector) ObserveHTTPRequest(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveMaterialization records one cohort materialization run.
func (c *Collector) ObserveMaterialization(tenant string, rows int, elapsed time.Duration) {
	c.materializationDuration.WithLabelValues(tenant).Observe(elapsed.Seconds())
	c.materializationRows.WithLabelValues(tenant).Observe(float64(rows))
	c.filterEvaluations.Add(float64(rows))
}

// ObserveComparisonCache records a comparison cache outcome.
func (c *Collector) ObserveComparisonCache(hit bool) {
	if hit {
		c.comparisonCacheHits.Inc()
	} else {
		c.comparisonCacheMisses.Inc()
	}
}
