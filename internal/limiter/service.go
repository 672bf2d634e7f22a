package limiter

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"throttle/internal/storage"
	"throttle/pkg/errors"
)

// Service is the rate-limiting decision engine. It holds no mutable state of
// its own beyond the swappable policy set; all counters live in the injected
// store, so any number of service instances across processes agree on counts.
type Service struct {
	store    storage.CounterStore
	policies *Policies
	adaptive *AdaptiveEngine
	trigger  *Trigger
	metrics  MetricsSink
	scorer   BehaviorScorer
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewService creates a service over the given counter store.
func NewService(store storage.CounterStore, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		policies: DefaultPolicies(),
		adaptive: NewAdaptiveEngine(store, logger),
		metrics:  NopMetrics{},
		scorer:   StaticScorer(0.5),
		logger:   logger.With("component", "limiter"),
		tracer:   otel.Tracer("throttle/limiter"),
		now:      time.Now,
	}
}

// WithPolicies replaces the policy set.
func (s *Service) WithPolicies(policies *Policies) *Service {
	s.policies = policies
	return s
}

// WithMetrics sets the metrics sink.
func (s *Service) WithMetrics(metrics MetricsSink) *Service {
	s.metrics = metrics
	return s
}

// WithTrigger attaches the circuit breaker trigger.
func (s *Service) WithTrigger(trigger *Trigger) *Service {
	s.trigger = trigger
	return s
}

// WithScorer sets the behavior scorer used by ReevaluateThresholds.
func (s *Service) WithScorer(scorer BehaviorScorer) *Service {
	s.scorer = scorer
	return s
}

// WithAdaptiveEngine replaces the adaptive threshold engine.
func (s *Service) WithAdaptiveEngine(engine *AdaptiveEngine) *Service {
	s.adaptive = engine
	return s
}

// WithClock overrides the time source for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Policies exposes the live policy set for config hot reload.
func (s *Service) Policies() *Policies {
	return s.policies
}

// CheckLimit evaluates every window for one request and counts it in the
// same round-trips. Windows are checked in the fixed order minute, hour,
// day; the first deny short-circuits and names the violating window.
//
// Store failures never surface to the caller: the limit type's failure
// policy converts them into an allow or deny, with the error logged and
// counted. The only error returned is InvalidConfiguration, which is a
// programming error and fails fast.
func (s *Service) CheckLimit(ctx context.Context, identifier, limitType string, rctx RequestContext) (*Result, error) {
	start := s.now()

	if identifier == "" {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "identifier is required")
	}
	if limitType == "" {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "limit type is required")
	}

	ctx, span := s.tracer.Start(ctx, "limiter.check",
		trace.WithAttributes(attribute.String("limit_type", limitType)),
	)
	defer span.End()

	policy := s.policies.For(limitType)
	configs, err := s.resolveConfigs(ctx, identifier, limitType, policy)
	if err != nil {
		span.SetStatus(codes.Error, "invalid configuration")
		return nil, err
	}

	key := BuildKey(identifier, limitType, rctx)
	result := &Result{Allowed: true, Windows: make([]WindowStatus, 0, len(configs))}

	for _, wc := range configs {
		wres, err := s.store.CheckAndCount(ctx, WindowKey(key, wc.Window), wc.Limit, wc.WindowSeconds)
		if err != nil {
			s.metrics.RecordStoreError(limitType, "check_and_count")
			s.logger.Error("counter store unavailable",
				"limit_type", limitType,
				"window", wc.Window,
				"policy", policy.OnStoreUnavailable,
				"error", err,
			)
			if policy.OnStoreUnavailable == FailClosed {
				result.Allowed = false
				result.ViolatingWindow = wc.Window
				result.RetryAfterSeconds = wc.WindowSeconds
				result.Windows = append(result.Windows, WindowStatus{
					Window:  wc.Window,
					Allowed: false,
					Limit:   wc.Limit,
					ResetAt: start.Add(time.Duration(wc.WindowSeconds) * time.Second),
				})
				break
			}
			// Fail open: count nothing, let the request through this window.
			result.Windows = append(result.Windows, WindowStatus{
				Window:    wc.Window,
				Allowed:   true,
				Limit:     wc.Limit,
				Remaining: wc.Limit,
				ResetAt:   start.Add(time.Duration(wc.WindowSeconds) * time.Second),
			})
			continue
		}

		status := s.windowStatus(wc, wres)
		result.Windows = append(result.Windows, status)

		if !wres.Allowed {
			result.Allowed = false
			result.ViolatingWindow = wc.Window
			result.RetryAfterSeconds = wres.TTLSeconds
			if result.RetryAfterSeconds <= 0 {
				// A counter without expiry still resets within one window.
				result.RetryAfterSeconds = wc.WindowSeconds
			}
			s.metrics.RecordWindowDenied(limitType, wc.Window)
			break
		}
	}

	span.SetAttributes(attribute.Bool("allowed", result.Allowed))
	if !result.Allowed {
		span.SetAttributes(attribute.String("violating_window", string(result.ViolatingWindow)))
	}

	s.metrics.RecordCheck(limitType, result.Allowed, s.now().Sub(start))
	if s.trigger != nil {
		s.trigger.Observe(limitType, !result.Allowed)
	}
	return result, nil
}

// Status reports current counts and TTLs without consuming quota. It uses
// the store's non-mutating read path, so status checks never count against
// the limit.
func (s *Service) Status(ctx context.Context, identifier, limitType string, rctx RequestContext) (*StatusReport, error) {
	if identifier == "" {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "identifier is required")
	}
	if limitType == "" {
		return nil, errors.NewError(errors.ErrorTypeBadRequest, "limit type is required")
	}

	policy := s.policies.For(limitType)
	configs, err := s.resolveConfigs(ctx, identifier, limitType, policy)
	if err != nil {
		return nil, err
	}

	key := BuildKey(identifier, limitType, rctx)
	now := s.now()
	report := &StatusReport{
		Identifier:     identifier,
		LimitType:      limitType,
		OverallAllowed: true,
		Windows:        make([]WindowStatus, 0, len(configs)),
	}

	for _, wc := range configs {
		count, ttl, err := s.store.Peek(ctx, WindowKey(key, wc.Window))
		if err != nil {
			s.metrics.RecordStoreError(limitType, "peek")
			return nil, errors.NewError(errors.ErrorTypeStoreUnavailable, "failed to read counter").
				WithDetail("window", string(wc.Window)).
				WithCause(err)
		}

		allowed := count < wc.Limit
		if !allowed {
			report.OverallAllowed = false
		}

		var resetAt time.Time
		if ttl >= 0 {
			resetAt = now.Add(time.Duration(ttl) * time.Second)
		}

		remaining := wc.Limit - count
		if remaining < 0 {
			remaining = 0
		}

		report.Windows = append(report.Windows, WindowStatus{
			Window:       wc.Window,
			Allowed:      allowed,
			CurrentCount: count,
			Limit:        wc.Limit,
			Remaining:    remaining,
			ResetAt:      resetAt,
		})
	}
	return report, nil
}

// Reset removes every counter key of an identifier, optionally scoped to one
// limit type, and returns how many keys were removed. The count is reported
// rather than swallowed so administrative resets stay auditable.
func (s *Service) Reset(ctx context.Context, identifier, limitType string) (int64, error) {
	if identifier == "" {
		return 0, errors.NewError(errors.ErrorTypeBadRequest, "identifier is required")
	}

	removed, err := s.store.DeleteByPattern(ctx, ResetPattern(identifier, limitType))
	if err != nil {
		return removed, errors.NewError(errors.ErrorTypeStoreUnavailable, "failed to reset limits").WithCause(err)
	}

	s.metrics.RecordReset(identifier, removed)
	s.logger.Info("reset rate limits",
		"identifier", identifier,
		"limit_type", limitType,
		"removed", removed,
	)
	return removed, nil
}

// AdjustThresholds persists new adaptive multipliers from a behavior score.
func (s *Service) AdjustThresholds(ctx context.Context, identifier, limitType string, score float64) (AdaptiveConfig, error) {
	if identifier == "" {
		return AdaptiveConfig{}, errors.NewError(errors.ErrorTypeBadRequest, "identifier is required")
	}
	if limitType == "" {
		return AdaptiveConfig{}, errors.NewError(errors.ErrorTypeBadRequest, "limit type is required")
	}

	cfg, band, err := s.adaptive.Adjust(ctx, identifier, limitType, score)
	if err != nil {
		return AdaptiveConfig{}, err
	}
	s.metrics.RecordThresholdAdjust(limitType, band)
	return cfg, nil
}

// ReevaluateThresholds pulls a fresh behavior score from the injected scorer
// and persists the resulting multipliers.
func (s *Service) ReevaluateThresholds(ctx context.Context, identifier, limitType string) (AdaptiveConfig, error) {
	score, err := s.scorer.Score(ctx, identifier, limitType)
	if err != nil {
		return AdaptiveConfig{}, errors.NewError(errors.ErrorTypeInternal, "behavior scorer failed").WithCause(err)
	}
	return s.AdjustThresholds(ctx, identifier, limitType, score)
}

// resolveConfigs loads adaptive multipliers and applies them to the policy.
// A store failure on the adaptive read degrades to neutral multipliers; only
// invalid configuration is returned as an error.
func (s *Service) resolveConfigs(ctx context.Context, identifier, limitType string, policy LimitPolicy) ([]WindowConfig, error) {
	cfg, err := s.adaptive.Load(ctx, identifier, limitType)
	if err != nil {
		s.metrics.RecordStoreError(limitType, "adaptive_load")
		s.logger.Warn("adaptive config unavailable, using neutral multipliers",
			"identifier", identifier,
			"limit_type", limitType,
			"error", err,
		)
		cfg = NeutralAdaptiveConfig()
	}
	return EffectiveConfigs(policy, cfg)
}

func (s *Service) windowStatus(wc WindowConfig, wres storage.WindowResult) WindowStatus {
	current := wres.CountBefore
	if wres.Allowed {
		current++
	}
	remaining := wc.Limit - current
	if remaining < 0 {
		remaining = 0
	}

	var resetAt time.Time
	if wres.TTLSeconds >= 0 {
		resetAt = s.now().Add(time.Duration(wres.TTLSeconds) * time.Second)
	}

	return WindowStatus{
		Window:       wc.Window,
		Allowed:      wres.Allowed,
		CurrentCount: current,
		Limit:        wc.Limit,
		Remaining:    remaining,
		ResetAt:      resetAt,
	}
}
