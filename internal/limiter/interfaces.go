package limiter

import (
	"context"
	"time"
)

// MetricsSink receives rate-limit telemetry. Every method is fire-and-forget:
// implementations must never block the decision path or return errors to it.
type MetricsSink interface {
	// RecordCheck is emitted once per CheckLimit call.
	RecordCheck(limitType string, allowed bool, elapsed time.Duration)
	// RecordWindowDenied is emitted when a specific window denies a request.
	RecordWindowDenied(limitType string, window Window)
	// RecordStoreError is emitted when a store round-trip fails.
	RecordStoreError(limitType, operation string)
	// RecordReset is emitted after an administrative reset.
	RecordReset(identifier string, removed int64)
	// RecordThresholdAdjust is emitted when adaptive thresholds are rewritten.
	RecordThresholdAdjust(limitType, band string)
	// RecordBreakerTrip is emitted when the denial-rate trigger fires.
	RecordBreakerTrip(name string)
}

// BreakerTripper is the external circuit breaker consumed by the trigger.
// The limiter only signals trip conditions; breaker state lives elsewhere.
type BreakerTripper interface {
	// Trip opens the named breaker with the given recovery timeout.
	Trip(name string, failureThreshold float64, recoveryTimeout time.Duration)
	// IsOpen reports whether the named breaker is currently open.
	IsOpen(name string) bool
}

// BehaviorScorer produces a behavioral trust score in [0, 1] for an
// identifier. Implementations range from static stubs to model-backed
// scorers; the limiter depends only on this interface.
type BehaviorScorer interface {
	Score(ctx context.Context, identifier, limitType string) (float64, error)
}

// StaticScorer returns the same score for every identifier. It serves tests
// and deployments without a scoring backend.
type StaticScorer float64

// Score implements BehaviorScorer.
func (s StaticScorer) Score(context.Context, string, string) (float64, error) {
	return float64(s), nil
}

// NopMetrics discards all telemetry.
type NopMetrics struct{}

func (NopMetrics) RecordCheck(string, bool, time.Duration)  {}
func (NopMetrics) RecordWindowDenied(string, Window)        {}
func (NopMetrics) RecordStoreError(string, string)          {}
func (NopMetrics) RecordReset(string, int64)                {}
func (NopMetrics) RecordThresholdAdjust(string, string)     {}
func (NopMetrics) RecordBreakerTrip(string)                 {}
