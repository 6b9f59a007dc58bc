package telemetry

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Hub metrics
	hubRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gluetune_hub_request_duration_seconds",
			Help:    "Hub request duration in seconds by endpoint",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s to ~100s
		},
		[]string{"endpoint", "status"},
	)

	rateLimiterWaitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gluetune_rate_limiter_wait_duration_seconds",
			Help:    "Rate limiter wait duration in seconds by host",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms to ~32s
		},
		[]string{"host"},
	)

	downloadedRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gluetune_hub_rows_total",
			Help: "Total number of dataset rows downloaded from the hub",
		},
		[]string{"dataset", "split"},
	)

	// Preprocessing metrics
	mapBatches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gluetune_map_batches_total",
			Help: "Total number of map batches processed",
		},
		[]string{"split"},
	)

	mapRows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gluetune_map_rows_total",
			Help: "Total number of rows transformed by map passes",
		},
		[]string{"split"},
	)

	mapCache = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gluetune_map_cache_total",
			Help: "Map cache lookups by result",
		},
		[]string{"split", "result"}, // result: "hit" or "miss"
	)

	// Evaluation metrics
	evaluationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gluetune_evaluation_duration_seconds",
			Help:    "Evaluation pass duration in seconds by split",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~500s
		},
		[]string{"split"},
	)
)

// Collector provides convenience methods for recording metrics
type Collector struct {
	logger *slog.Logger
}

// NewCollector creates a new telemetry collector
func NewCollector(logger *slog.Logger) *Collector {
	return &Collector{
		logger: logger,
	}
}

// RecordHubRequest records a hub request duration
func (c *Collector) RecordHubRequest(endpoint string, duration time.Duration, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	hubRequestDuration.WithLabelValues(endpoint, status).Observe(duration.Seconds())
}

// RecordRateLimiterWait records rate limiter wait time
func (c *Collector) RecordRateLimiterWait(host string, duration time.Duration) {
	rateLimiterWaitDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// AddDownloadedRows counts rows fetched from the hub
func (c *Collector) AddDownloadedRows(dataset, split string, n int) {
	downloadedRows.WithLabelValues(dataset, split).Add(float64(n))
}

// ObserveMapBatch counts one processed map batch and its rows
func (c *Collector) ObserveMapBatch(split string, rows int) {
	mapBatches.WithLabelValues(split).Inc()
	mapRows.WithLabelValues(split).Add(float64(rows))
}

// ObserveMapCache counts a map cache lookup
func (c *Collector) ObserveMapCache(split string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	mapCache.WithLabelValues(split, result).Inc()
}

// RecordEvaluation records an evaluation pass duration
func (c *Collector) RecordEvaluation(split string, duration time.Duration) {
	evaluationDuration.WithLabelValues(split).Observe(duration.Seconds())
}
