package limiter

import (
	"log/slog"
	"sync"
	"time"
)

// BreakerName returns the breaker identifier for a limit type.
func BreakerName(limitType string) string {
	return "rate_limiting_" + limitType
}

// TriggerConfig tunes the denial-rate trigger.
type TriggerConfig struct {
	// DenialThreshold is the denial ratio above which the breaker trips.
	DenialThreshold float64
	// RecoveryTimeout is passed to the breaker on trip.
	RecoveryTimeout time.Duration
	// MinSamples is the minimum number of observations in the monitoring
	// window before the ratio is considered meaningful.
	MinSamples int64
	// BucketSeconds and BucketCount shape the rolling window
	// (BucketSeconds * BucketCount seconds total).
	BucketSeconds int64
	BucketCount   int
}

// DefaultTriggerConfig returns the trigger defaults: ratio 0.5 over a 60s
// window of 10s buckets, 30s recovery.
func DefaultTriggerConfig() TriggerConfig {
	return TriggerConfig{
		DenialThreshold: 0.5,
		RecoveryTimeout: 30 * time.Second,
		MinSamples:      20,
		BucketSeconds:   10,
		BucketCount:     6,
	}
}

// Trigger watches per-limit-type denial ratios and trips the external
// circuit breaker when sustained abuse pushes the ratio over the threshold.
// Sustained exhaustion across many identifiers usually means systemic abuse
// or a misconfigured upstream client; the breaker sheds that load at a
// coarser granularity than per-identifier limiting can.
type Trigger struct {
	config  TriggerConfig
	breaker BreakerTripper
	metrics MetricsSink
	logger  *slog.Logger
	now     func() time.Time

	mu    sync.Mutex
	rings map[string][]bucket
}

type bucket struct {
	epoch   int64
	allowed int64
	denied  int64
}

// NewTrigger creates a trigger over the given breaker.
func NewTrigger(config TriggerConfig, breaker BreakerTripper, metrics MetricsSink, logger *slog.Logger) *Trigger {
	if config.DenialThreshold <= 0 || config.DenialThreshold > 1 {
		config.DenialThreshold = 0.5
	}
	if config.RecoveryTimeout <= 0 {
		config.RecoveryTimeout = 30 * time.Second
	}
	if config.MinSamples <= 0 {
		config.MinSamples = 20
	}
	if config.BucketSeconds <= 0 {
		config.BucketSeconds = 10
	}
	if config.BucketCount <= 0 {
		config.BucketCount = 6
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}
	return &Trigger{
		config:  config,
		breaker: breaker,
		metrics: metrics,
		logger:  logger.With("component", "breaker-trigger"),
		now:     time.Now,
		rings:   make(map[string][]bucket),
	}
}

// WithClock overrides the time source for tests.
func (t *Trigger) WithClock(now func() time.Time) *Trigger {
	t.now = now
	return t
}

// Observe records one decision and trips the breaker when the rolling denial
// ratio crosses the threshold. It never blocks the decision path.
func (t *Trigger) Observe(limitType string, denied bool) {
	if t.breaker == nil {
		return
	}

	t.mu.Lock()
	epoch := t.now().Unix() / t.config.BucketSeconds

	ring, ok := t.rings[limitType]
	if !ok {
		ring = make([]bucket, t.config.BucketCount)
		t.rings[limitType] = ring
	}

	b := &ring[epoch%int64(t.config.BucketCount)]
	if b.epoch != epoch {
		*b = bucket{epoch: epoch}
	}
	if denied {
		b.denied++
	} else {
		b.allowed++
	}

	var allowed, deniedTotal int64
	oldest := epoch - int64(t.config.BucketCount) + 1
	for i := range ring {
		if ring[i].epoch >= oldest {
			allowed += ring[i].allowed
			deniedTotal += ring[i].denied
		}
	}
	t.mu.Unlock()

	total := allowed + deniedTotal
	if total < t.config.MinSamples {
		return
	}

	ratio := float64(deniedTotal) / float64(total)
	if ratio <= t.config.DenialThreshold {
		return
	}

	name := BreakerName(limitType)
	if t.breaker.IsOpen(name) {
		return
	}

	t.breaker.Trip(name, t.config.DenialThreshold, t.config.RecoveryTimeout)
	t.metrics.RecordBreakerTrip(name)
	t.logger.Warn("denial rate tripped circuit breaker",
		"breaker", name,
		"limit_type", limitType,
		"denial_ratio", ratio,
		"samples", total,
	)
}
