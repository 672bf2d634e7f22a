package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"

	"throttle/internal/circuitbreaker"
	"throttle/internal/config"
	"throttle/internal/limiter"
	"throttle/internal/management"
	"throttle/internal/metrics"
	"throttle/internal/storage"
	"throttle/internal/storage/memory"
	redisstore "throttle/internal/storage/redis"
	"throttle/internal/telemetry"
)

// Server wires the rate limiter, its counter store, the breaker registry,
// and the management API into one runnable unit
type Server struct {
	config     *config.Config
	logger     *slog.Logger
	store      storage.CounterStore
	service    *limiter.Service
	breakers   *circuitbreaker.Registry
	metrics    *metrics.Metrics
	management *management.API
	telemetry  *telemetry.Telemetry
	watcher    *config.Watcher
	configPath string
}

// NewServer builds a server from configuration
func NewServer(cfg *config.Config, configPath string, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config:     cfg,
		logger:     logger,
		configPath: configPath,
	}

	tel, err := telemetry.New(telemetry.Config{
		Enabled: cfg.Throttle.Telemetry.TracingEnabled,
		Service: cfg.Throttle.Telemetry.ServiceName,
		Tracing: telemetry.TracingConfig{
			Enabled:  cfg.Throttle.Telemetry.TracingEnabled,
			Endpoint: cfg.Throttle.Telemetry.OTLPEndpoint,
			Insecure: cfg.Throttle.Telemetry.Insecure,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	s.telemetry = tel

	store, err := buildStore(cfg.Throttle.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s.store = store

	registry := prometheus.NewRegistry()
	s.metrics = metrics.NewWithRegistry(registry, registry)
	s.breakers = circuitbreaker.NewRegistry(circuitbreaker.DefaultConfig(), logger)

	trigger := limiter.NewTrigger(cfg.Throttle.Breaker.ToTriggerConfig(), s.breakers, s.metrics, logger)

	adaptive := limiter.NewAdaptiveEngine(store, logger).WithTTL(cfg.Throttle.Adaptive.TTL())

	s.service = limiter.NewService(store, logger).
		WithPolicies(cfg.Throttle.Limits.ToPolicies()).
		WithAdaptiveEngine(adaptive).
		WithMetrics(s.metrics).
		WithTrigger(trigger)

	mgmt := management.NewAPI(managementConfig(cfg.Throttle.Management), s.service, logger)
	mgmt.SetBreakers(s.breakers)
	mgmt.SetMetricsHandler(s.metrics.Handler())
	s.management = mgmt

	return s, nil
}

// Service returns the rate limit service
func (s *Server) Service() *limiter.Service {
	return s.service
}

// Start starts the management API and the config watcher
func (s *Server) Start(ctx context.Context) error {
	if err := s.management.Start(ctx); err != nil {
		return fmt.Errorf("management API: %w", err)
	}

	if s.configPath != "" {
		watcher, err := config.NewWatcher(s.configPath, &config.WatcherConfig{
			DebounceDuration: 500 * time.Millisecond,
			OnChange:         s.applyConfig,
			OnError: func(err error) {
				s.logger.Error("config reload rejected", "error", err)
			},
		}, s.logger)
		if err != nil {
			// A missing watcher only disables hot reload
			s.logger.Warn("config watcher disabled", "error", err)
		} else {
			s.watcher = watcher
			s.watcher.Start()
		}
	}

	s.logger.Info("throttle started",
		"store", s.config.Throttle.Store.Backend,
		"management_port", s.config.Throttle.Management.Port,
	)
	return nil
}

// Stop shuts everything down in dependency order
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.watcher != nil {
		if err := s.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping config watcher: %w", err))
		}
	}

	if err := s.management.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stopping management API: %w", err))
	}

	if err := s.telemetry.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutting down telemetry: %w", err))
	}

	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("closing store: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	s.logger.Info("throttle stopped")
	return nil
}

// applyConfig swaps in reloaded limit policies. Only the limit section is
// hot-reloadable; store and listener changes need a restart.
func (s *Server) applyConfig(newConfig *config.Config) error {
	policies := newConfig.Throttle.Limits.ToPolicies()
	if err := policies.Validate(); err != nil {
		return err
	}

	current := s.service.Policies()
	current.Replace(policiesByType(newConfig.Throttle.Limits), newConfig.Throttle.Limits.Default.ToPolicy())

	s.logger.Info("limit policies reloaded")
	return nil
}

func policiesByType(limits config.Limits) map[string]limiter.LimitPolicy {
	byType := make(map[string]limiter.LimitPolicy, len(limits.Types))
	for limitType, limit := range limits.Types {
		byType[limitType] = limit.ToPolicy()
	}
	return byType
}

// buildStore constructs the configured counter store
func buildStore(cfg config.Store) (storage.CounterStore, error) {
	storeCfg := cfg.ToStorageConfig()

	switch cfg.Backend {
	case "memory", "":
		return memory.NewStore(storeCfg), nil

	case "redis":
		if cfg.Redis == nil || len(cfg.Redis.Addrs) == 0 {
			return nil, fmt.Errorf("redis backend requires at least one address")
		}

		opts := &goredis.UniversalOptions{
			Addrs:    cfg.Redis.Addrs,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}
		if cfg.Redis.DialTimeout > 0 {
			opts.DialTimeout = time.Duration(cfg.Redis.DialTimeout) * time.Second
		}
		if cfg.Redis.ReadTimeout > 0 {
			opts.ReadTimeout = time.Duration(cfg.Redis.ReadTimeout) * time.Second
		}
		if cfg.Redis.WriteTimeout > 0 {
			opts.WriteTimeout = time.Duration(cfg.Redis.WriteTimeout) * time.Second
		}

		client := goredis.NewUniversalClient(opts)
		return redisstore.NewStore(redisstore.NewClientAdapter(client), storeCfg), nil

	default:
		return nil, fmt.Errorf("unknown store backend: %s", cfg.Backend)
	}
}

func managementConfig(cfg config.Management) management.Config {
	out := management.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Second,
	}
	if cfg.Auth != nil {
		out.Auth = &management.AuthConfig{
			Token:     cfg.Auth.Token,
			JWTSecret: cfg.Auth.JWTSecret,
		}
	}
	return out
}
