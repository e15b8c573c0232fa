// Package metrics provides Prometheus instrumentation for the connector pool.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	// Fast operations (healthchecks, checkout from a live entry)
	fastBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0}

	// Medium operations (acquire end-to-end, including single-flight waits)
	mediumBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

	// Slow operations (resource creation: dial + auth + ping)
	slowBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0}
)

// Collector holds all Prometheus metrics for the connector pool.
type Collector struct {
	// Gauges - Current registry state
	PoolEntries    prometheus.Gauge
	PoolCapacity   prometheus.Gauge
	CheckoutsInUse prometheus.Gauge

	// Counters - Cumulative events
	AcquiresTotal   *prometheus.CounterVec
	ReleasesTotal   *prometheus.CounterVec
	CreatesTotal    *prometheus.CounterVec
	EvictionsTotal  prometheus.Counter
	IdleClosesTotal prometheus.Counter
	SweepsTotal     prometheus.Counter

	// Histograms - Latency distributions
	AcquireDuration     prometheus.Histogram
	CreateDuration      *prometheus.HistogramVec
	HealthCheckDuration prometheus.Histogram
	HTTPRequestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewCollector creates a new metrics collector with all metrics registered.
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		// Gauges
		PoolEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "supermcp",
			Subsystem: "pool",
			Name:      "entries",
			Help:      "Number of live pool entries across all targets",
		}),
		PoolCapacity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "supermcp",
			Subsystem: "pool",
			Name:      "capacity",
			Help:      "Maximum number of pool entries allowed",
		}),
		CheckoutsInUse: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "supermcp",
			Subsystem: "pool",
			Name:      "checkouts_in_use",
			Help:      "Outstanding checkouts across all targets",
		}),

		// Counters
		AcquiresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "acquires_total",
			Help:      "Total number of acquire attempts",
		}, []string{"result"}),
		ReleasesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "releases_total",
			Help:      "Total number of handle releases",
		}, []string{"reason"}),
		CreatesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "creates_total",
			Help:      "Total number of resource creation attempts",
		}, []string{"backend", "result"}),
		EvictionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "evictions_total",
			Help:      "Total number of capacity-pressure LRU evictions",
		}),
		IdleClosesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "idle_closes_total",
			Help:      "Total number of idle-TTL reclamations",
		}),
		SweepsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "supermcp",
			Name:      "sweeps_total",
			Help:      "Total number of idle reclaimer sweep ticks",
		}),

		// Histograms
		AcquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "supermcp",
			Name:      "acquire_duration_seconds",
			Help:      "End-to-end acquire latency in seconds",
			Buckets:   mediumBuckets,
		}),
		CreateDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "supermcp",
			Name:      "create_duration_seconds",
			Help:      "Resource creation latency in seconds",
			Buckets:   slowBuckets,
		}, []string{"backend"}),
		HealthCheckDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "supermcp",
			Name:      "healthcheck_duration_seconds",
			Help:      "Single backend healthcheck latency in seconds",
			Buckets:   fastBuckets,
		}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "supermcp",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   mediumBuckets,
		}, []string{"method", "path", "status"}),

		registry: reg,
	}

	reg.MustRegister(
		// Gauges
		c.PoolEntries,
		c.PoolCapacity,
		c.CheckoutsInUse,
		// Counters
		c.AcquiresTotal,
		c.ReleasesTotal,
		c.CreatesTotal,
		c.EvictionsTotal,
		c.IdleClosesTotal,
		c.SweepsTotal,
		// Histograms
		c.AcquireDuration,
		c.CreateDuration,
		c.HealthCheckDuration,
		c.HTTPRequestDuration,
	)

	return c
}

// Handler returns an HTTP handler for the metrics endpoint.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
