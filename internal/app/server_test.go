package app

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"throttle/internal/config"
	"throttle/internal/limiter"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadDefault()
	if err != nil {
		t.Fatalf("LoadDefault failed: %v", err)
	}
	// Port 0 picks a free port so parallel test runs do not collide
	cfg.Throttle.Management.Port = 0
	return cfg
}

func TestNewServer_MemoryBackend(t *testing.T) {
	srv, err := NewServer(testConfig(t), "", testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	if srv.Service() == nil {
		t.Fatal("Expected non-nil service")
	}

	// The wired service makes real decisions
	res, err := srv.Service().CheckLimit(context.Background(), "user-1", limiter.LimitTypeAPICalls, limiter.RequestContext{})
	if err != nil {
		t.Fatalf("CheckLimit failed: %v", err)
	}
	if !res.Allowed {
		t.Error("Expected first check to be allowed")
	}

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestNewServer_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Throttle.Store.Backend = "cassandra"

	if _, err := NewServer(cfg, "", testLogger()); err == nil {
		t.Error("Expected error for unknown backend")
	}
}

func TestNewServer_RedisBackendRequiresAddrs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Throttle.Store.Backend = "redis"
	cfg.Throttle.Store.Redis = nil

	if _, err := NewServer(cfg, "", testLogger()); err == nil {
		t.Error("Expected error for redis backend without addresses")
	}
}

func TestServer_StartStop(t *testing.T) {
	srv, err := NewServer(testConfig(t), "", testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}

	ctx := context.Background()
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Stop(stopCtx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestServer_ApplyConfigSwapsPolicies(t *testing.T) {
	srv, err := NewServer(testConfig(t), "", testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Stop(context.Background())

	newCfg := testConfig(t)
	newCfg.Throttle.Limits.Types["authentication"] = config.Limit{
		Minute: 99, Hour: 999, Day: 9999, OnStoreUnavailable: "deny",
	}

	if err := srv.applyConfig(newCfg); err != nil {
		t.Fatalf("applyConfig failed: %v", err)
	}

	policy := srv.Service().Policies().For(limiter.LimitTypeAuthentication)
	if policy.Minute != 99 {
		t.Errorf("Expected reloaded minute limit 99, got %d", policy.Minute)
	}
}

func TestServer_ApplyConfigRejectsInvalid(t *testing.T) {
	srv, err := NewServer(testConfig(t), "", testLogger())
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	defer srv.Stop(context.Background())

	before := srv.Service().Policies().For(limiter.LimitTypeAuthentication)

	broken := testConfig(t)
	broken.Throttle.Limits.Default = config.Limit{Minute: -1, Hour: 100, Day: 1000}

	if err := srv.applyConfig(broken); err == nil {
		t.Fatal("Expected error for invalid policies")
	}

	// Live policies are untouched on rejection
	after := srv.Service().Policies().For(limiter.LimitTypeAuthentication)
	if after != before {
		t.Error("Policies changed despite invalid config")
	}
}
