package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"throttle/internal/storage"
	"throttle/pkg/errors"
)

const adaptiveKeyPrefix = "adaptive:"

// DefaultAdaptiveTTL bounds how long a trust assessment persists. Stale trust
// must decay, so configs expire and force periodic re-evaluation.
const DefaultAdaptiveTTL = 24 * time.Hour

// Score bands. The boundaries are deliberately asymmetric: trust raises
// limits more generously over longer windows, while suspicion restricts the
// short window least aggressively because short-window false positives hurt
// legitimate bursty use the most.
const (
	BandSuspicious = "suspicious"
	BandNeutral    = "neutral"
	BandTrusted    = "trusted"
)

// AdaptiveConfig holds per-identifier, per-limit-type multipliers.
type AdaptiveConfig struct {
	MinuteMultiplier float64   `json:"minuteMultiplier"`
	HourMultiplier   float64   `json:"hourMultiplier"`
	DayMultiplier    float64   `json:"dayMultiplier"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// NeutralAdaptiveConfig returns the identity multipliers used when no config
// exists for an identifier.
func NeutralAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{MinuteMultiplier: 1, HourMultiplier: 1, DayMultiplier: 1}
}

// Multiplier returns the multiplier for a window.
func (c AdaptiveConfig) Multiplier(window Window) float64 {
	switch window {
	case WindowMinute:
		return c.MinuteMultiplier
	case WindowHour:
		return c.HourMultiplier
	case WindowDay:
		return c.DayMultiplier
	default:
		return 1
	}
}

func (c AdaptiveConfig) valid() bool {
	return c.MinuteMultiplier > 0 && c.HourMultiplier > 0 && c.DayMultiplier > 0
}

// bandFor maps a behavior score to its multipliers and band name.
func bandFor(score float64) (AdaptiveConfig, string) {
	switch {
	case score < 0.3:
		return AdaptiveConfig{MinuteMultiplier: 0.5, HourMultiplier: 0.3, DayMultiplier: 0.2}, BandSuspicious
	case score < 0.7:
		return NeutralAdaptiveConfig(), BandNeutral
	default:
		return AdaptiveConfig{MinuteMultiplier: 1.5, HourMultiplier: 1.8, DayMultiplier: 2.0}, BandTrusted
	}
}

// AdaptiveEngine persists and resolves per-identifier threshold overrides.
type AdaptiveEngine struct {
	store  storage.CounterStore
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
}

// NewAdaptiveEngine creates an engine over the given store.
func NewAdaptiveEngine(store storage.CounterStore, logger *slog.Logger) *AdaptiveEngine {
	return &AdaptiveEngine{
		store:  store,
		logger: logger.With("component", "adaptive-engine"),
		ttl:    DefaultAdaptiveTTL,
		now:    time.Now,
	}
}

// WithTTL overrides the config expiry.
func (e *AdaptiveEngine) WithTTL(ttl time.Duration) *AdaptiveEngine {
	e.ttl = ttl
	return e
}

// WithClock overrides the time source for tests.
func (e *AdaptiveEngine) WithClock(now func() time.Time) *AdaptiveEngine {
	e.now = now
	return e
}

// Load reads the adaptive config for (identifier, limitType). A missing,
// expired or malformed record yields neutral multipliers, never an error
// visible to the decision path; transport errors are returned for the caller
// to count and log.
func (e *AdaptiveEngine) Load(ctx context.Context, identifier, limitType string) (AdaptiveConfig, error) {
	fields, err := e.store.HashGetAll(ctx, adaptiveKey(identifier, limitType))
	if err != nil {
		return NeutralAdaptiveConfig(), errors.NewError(errors.ErrorTypeStoreUnavailable, "failed to load adaptive config").WithCause(err)
	}
	if len(fields) == 0 {
		return NeutralAdaptiveConfig(), nil
	}

	cfg, err := parseAdaptiveFields(fields)
	if err != nil {
		// A malformed record is treated as absent rather than poisoning
		// every subsequent check for this identifier.
		e.logger.Warn("discarding malformed adaptive config",
			"identifier", identifier,
			"limit_type", limitType,
			"error", err,
		)
		return NeutralAdaptiveConfig(), nil
	}

	if e.ttl > 0 && !cfg.UpdatedAt.IsZero() && e.now().After(cfg.UpdatedAt.Add(e.ttl)) {
		return NeutralAdaptiveConfig(), nil
	}
	return cfg, nil
}

// Adjust maps a behavior score onto multipliers and persists them with the
// engine's TTL. It returns the stored config and the band name.
func (e *AdaptiveEngine) Adjust(ctx context.Context, identifier, limitType string, score float64) (AdaptiveConfig, string, error) {
	if score < 0 || score > 1 {
		return AdaptiveConfig{}, "", errors.NewError(errors.ErrorTypeBadRequest, "behavior score out of range").
			WithDetail("score", score)
	}

	cfg, band := bandFor(score)
	cfg.UpdatedAt = e.now()

	fields := map[string]string{
		"minute":     formatFloat(cfg.MinuteMultiplier),
		"hour":       formatFloat(cfg.HourMultiplier),
		"day":        formatFloat(cfg.DayMultiplier),
		"updated_at": strconv.FormatInt(cfg.UpdatedAt.Unix(), 10),
	}
	if err := e.store.HashSetAll(ctx, adaptiveKey(identifier, limitType), fields, e.ttl); err != nil {
		return AdaptiveConfig{}, "", errors.NewError(errors.ErrorTypeStoreUnavailable, "failed to persist adaptive config").WithCause(err)
	}

	e.logger.Info("adjusted thresholds",
		"identifier", identifier,
		"limit_type", limitType,
		"score", score,
		"band", band,
	)
	return cfg, band, nil
}

// EffectiveConfigs applies multipliers to a policy's base limits. A computed
// limit is floored at 1 so rounding can never block an identifier outright;
// a non-positive base limit is a configuration error and fails fast.
func EffectiveConfigs(policy LimitPolicy, cfg AdaptiveConfig) ([]WindowConfig, error) {
	configs := make([]WindowConfig, 0, len(Windows))
	for _, w := range Windows {
		base := policy.BaseLimit(w)
		if base <= 0 {
			return nil, errors.NewError(errors.ErrorTypeInvalidConfig, "base limit must be positive").
				WithDetail("window", string(w)).
				WithDetail("limit", base)
		}
		seconds := w.Seconds()
		if seconds <= 0 {
			return nil, errors.NewError(errors.ErrorTypeInvalidConfig, "window seconds must be positive").
				WithDetail("window", string(w))
		}

		limit := int64(math.Round(float64(base) * cfg.Multiplier(w)))
		if limit < 1 {
			limit = 1
		}
		configs = append(configs, WindowConfig{
			Window:        w,
			Limit:         limit,
			WindowSeconds: seconds,
		})
	}
	return configs, nil
}

func adaptiveKey(identifier, limitType string) string {
	return adaptiveKeyPrefix + identifier + ":" + limitType
}

func parseAdaptiveFields(fields map[string]string) (AdaptiveConfig, error) {
	var cfg AdaptiveConfig
	var err error

	if cfg.MinuteMultiplier, err = strconv.ParseFloat(fields["minute"], 64); err != nil {
		return AdaptiveConfig{}, fmt.Errorf("minute multiplier: %w", err)
	}
	if cfg.HourMultiplier, err = strconv.ParseFloat(fields["hour"], 64); err != nil {
		return AdaptiveConfig{}, fmt.Errorf("hour multiplier: %w", err)
	}
	if cfg.DayMultiplier, err = strconv.ParseFloat(fields["day"], 64); err != nil {
		return AdaptiveConfig{}, fmt.Errorf("day multiplier: %w", err)
	}
	if raw, ok := fields["updated_at"]; ok {
		unix, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return AdaptiveConfig{}, fmt.Errorf("updated_at: %w", err)
		}
		cfg.UpdatedAt = time.Unix(unix, 0)
	}
	if !cfg.valid() {
		return AdaptiveConfig{}, fmt.Errorf("multipliers must be strictly positive")
	}
	return cfg, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
