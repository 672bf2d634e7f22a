package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"throttle/internal/limiter"
)

// Metrics holds all Prometheus metrics for the rate limiter
type Metrics struct {
	ChecksTotal      *prometheus.CounterVec
	CheckDuration    *prometheus.HistogramVec
	WindowDenials    *prometheus.CounterVec
	StoreErrors      *prometheus.CounterVec
	ResetsTotal      prometheus.Counter
	ResetKeysRemoved prometheus.Counter
	ThresholdUpdates *prometheus.CounterVec
	BreakerTrips     *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New creates a new Metrics instance registered with the default registry
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer, prometheus.DefaultGatherer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry
func NewWithRegistry(registerer prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(registerer)

	return &Metrics{
		ChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_checks_total",
				Help: "Total number of rate limit checks",
			},
			[]string{"limit_type", "result"},
		),
		CheckDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "throttle_check_duration_seconds",
				Help:    "Rate limit check latencies in seconds",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 10), // 0.5ms to ~0.5s
			},
			[]string{"limit_type"},
		),
		WindowDenials: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_window_denials_total",
				Help: "Denials broken down by the violating window",
			},
			[]string{"limit_type", "window"},
		),
		StoreErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_store_errors_total",
				Help: "Counter store failures by operation",
			},
			[]string{"limit_type", "operation"},
		),
		ResetsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "throttle_resets_total",
				Help: "Total number of administrative resets",
			},
		),
		ResetKeysRemoved: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "throttle_reset_keys_removed_total",
				Help: "Total number of counter keys removed by resets",
			},
		),
		ThresholdUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_threshold_updates_total",
				Help: "Adaptive threshold updates by score band",
			},
			[]string{"limit_type", "band"},
		),
		BreakerTrips: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "throttle_breaker_trips_total",
				Help: "Circuit breaker trips by breaker name",
			},
			[]string{"breaker"},
		),
		gatherer: gatherer,
	}
}

// RecordCheck implements limiter.MetricsSink
func (m *Metrics) RecordCheck(limitType string, allowed bool, elapsed time.Duration) {
	result := "allowed"
	if !allowed {
		result = "denied"
	}
	m.ChecksTotal.WithLabelValues(limitType, result).Inc()
	m.CheckDuration.WithLabelValues(limitType).Observe(elapsed.Seconds())
}

// RecordWindowDenied implements limiter.MetricsSink
func (m *Metrics) RecordWindowDenied(limitType string, window limiter.Window) {
	m.WindowDenials.WithLabelValues(limitType, string(window)).Inc()
}

// RecordStoreError implements limiter.MetricsSink
func (m *Metrics) RecordStoreError(limitType, operation string) {
	m.StoreErrors.WithLabelValues(limitType, operation).Inc()
}

// RecordReset implements limiter.MetricsSink
func (m *Metrics) RecordReset(identifier string, removed int64) {
	m.ResetsTotal.Inc()
	m.ResetKeysRemoved.Add(float64(removed))
}

// RecordThresholdAdjust implements limiter.MetricsSink
func (m *Metrics) RecordThresholdAdjust(limitType, band string) {
	m.ThresholdUpdates.WithLabelValues(limitType, band).Inc()
}

// RecordBreakerTrip implements limiter.MetricsSink
func (m *Metrics) RecordBreakerTrip(name string) {
	m.BreakerTrips.WithLabelValues(name).Inc()
}

// Handler returns the HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Ensure Metrics implements the MetricsSink interface
var _ limiter.MetricsSink = (*Metrics)(nil)
