package limiter

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"throttle/internal/storage/memory"
	"throttle/pkg/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBandFor(t *testing.T) {
	tests := []struct {
		name       string
		score      float64
		wantBand   string
		wantMinute float64
		wantHour   float64
		wantDay    float64
	}{
		{"lowest score", 0.0, BandSuspicious, 0.5, 0.3, 0.2},
		{"just below suspicious boundary", 0.29, BandSuspicious, 0.5, 0.3, 0.2},
		{"suspicious boundary is neutral", 0.3, BandNeutral, 1, 1, 1},
		{"mid neutral", 0.5, BandNeutral, 1, 1, 1},
		{"neutral boundary is trusted", 0.7, BandTrusted, 1.5, 1.8, 2.0},
		{"highest score", 1.0, BandTrusted, 1.5, 1.8, 2.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, band := bandFor(tt.score)
			if band != tt.wantBand {
				t.Errorf("band = %q, want %q", band, tt.wantBand)
			}
			if cfg.MinuteMultiplier != tt.wantMinute || cfg.HourMultiplier != tt.wantHour || cfg.DayMultiplier != tt.wantDay {
				t.Errorf("multipliers = {%v %v %v}, want {%v %v %v}",
					cfg.MinuteMultiplier, cfg.HourMultiplier, cfg.DayMultiplier,
					tt.wantMinute, tt.wantHour, tt.wantDay)
			}
		})
	}
}

func TestAdjustAndLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	engine := NewAdaptiveEngine(store, testLogger())

	written, band, err := engine.Adjust(ctx, "u1", LimitTypeAPICalls, 0.9)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if band != BandTrusted {
		t.Errorf("band = %q, want trusted", band)
	}

	loaded, err := engine.Load(ctx, "u1", LimitTypeAPICalls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if loaded.MinuteMultiplier != written.MinuteMultiplier ||
		loaded.HourMultiplier != written.HourMultiplier ||
		loaded.DayMultiplier != written.DayMultiplier {
		t.Errorf("loaded = %+v, want %+v", loaded, written)
	}
}

func TestAdjustRejectsOutOfRangeScore(t *testing.T) {
	engine := NewAdaptiveEngine(memory.NewStore(nil), testLogger())

	for _, score := range []float64{-0.1, 1.1} {
		if _, _, err := engine.Adjust(context.Background(), "u", LimitTypeAPICalls, score); err == nil {
			t.Errorf("score %v: expected error", score)
		} else if !errors.IsType(err, errors.ErrorTypeBadRequest) {
			t.Errorf("score %v: error type = %v, want bad_request", score, err)
		}
	}
}

func TestLoadMissingConfigIsNeutral(t *testing.T) {
	engine := NewAdaptiveEngine(memory.NewStore(nil), testLogger())

	cfg, err := engine.Load(context.Background(), "unknown", LimitTypeAPICalls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != NeutralAdaptiveConfig() {
		t.Errorf("cfg = %+v, want neutral", cfg)
	}
}

func TestLoadExpiredConfigIsNeutral(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	clock := func() time.Time { return now }

	store := memory.NewStore(nil).WithClock(clock)
	engine := NewAdaptiveEngine(store, testLogger()).WithClock(clock)

	if _, _, err := engine.Adjust(ctx, "u", LimitTypeAPICalls, 0.9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Stale trust must decay
	now = now.Add(25 * time.Hour)

	cfg, err := engine.Load(ctx, "u", LimitTypeAPICalls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != NeutralAdaptiveConfig() {
		t.Errorf("cfg after expiry = %+v, want neutral", cfg)
	}
}

func TestLoadMalformedConfigIsNeutral(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore(nil)
	engine := NewAdaptiveEngine(store, testLogger())

	err := store.HashSetAll(ctx, "adaptive:u:api_calls", map[string]string{"minute": "garbage"}, time.Hour)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg, err := engine.Load(ctx, "u", LimitTypeAPICalls)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg != NeutralAdaptiveConfig() {
		t.Errorf("cfg = %+v, want neutral", cfg)
	}
}

func TestEffectiveConfigs(t *testing.T) {
	policy := LimitPolicy{Minute: 10, Hour: 100, Day: 1000}

	t.Run("suspicious multipliers", func(t *testing.T) {
		cfg, _ := bandFor(0.1)
		configs, err := EffectiveConfigs(policy, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := map[Window]int64{WindowMinute: 5, WindowHour: 30, WindowDay: 200}
		for _, wc := range configs {
			if wc.Limit != want[wc.Window] {
				t.Errorf("%s limit = %d, want %d", wc.Window, wc.Limit, want[wc.Window])
			}
		}
	})

	t.Run("trusted multipliers", func(t *testing.T) {
		cfg, _ := bandFor(0.9)
		configs, err := EffectiveConfigs(policy, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := map[Window]int64{WindowMinute: 15, WindowHour: 180, WindowDay: 2000}
		for _, wc := range configs {
			if wc.Limit != want[wc.Window] {
				t.Errorf("%s limit = %d, want %d", wc.Window, wc.Limit, want[wc.Window])
			}
		}
	})

	t.Run("floored at one", func(t *testing.T) {
		small := LimitPolicy{Minute: 1, Hour: 1, Day: 1}
		cfg, _ := bandFor(0.1)

		configs, err := EffectiveConfigs(small, cfg)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for _, wc := range configs {
			if wc.Limit < 1 {
				t.Errorf("%s limit = %d, rounding must never block outright", wc.Window, wc.Limit)
			}
		}
	})

	t.Run("non-positive base fails fast", func(t *testing.T) {
		bad := LimitPolicy{Minute: 0, Hour: 100, Day: 1000}

		_, err := EffectiveConfigs(bad, NeutralAdaptiveConfig())
		if err == nil {
			t.Fatal("expected error")
		}
		if !errors.IsType(err, errors.ErrorTypeInvalidConfig) {
			t.Errorf("error = %v, want invalid_config", err)
		}
	})

	t.Run("evaluation order preserved", func(t *testing.T) {
		configs, err := EffectiveConfigs(policy, NeutralAdaptiveConfig())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, w := range Windows {
			if configs[i].Window != w {
				t.Errorf("configs[%d] = %s, want %s", i, configs[i].Window, w)
			}
		}
	})
}
