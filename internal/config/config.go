package config

import (
	"time"

	"throttle/internal/limiter"
	"throttle/internal/storage"
)

// Config holds throttle configuration
type Config struct {
	Throttle Throttle `yaml:"throttle"`
}

// Throttle configuration
type Throttle struct {
	Management Management `yaml:"management"`
	Store      Store      `yaml:"store"`
	Limits     Limits     `yaml:"limits"`
	Adaptive   Adaptive   `yaml:"adaptive"`
	Breaker    Breaker    `yaml:"breaker"`
	Telemetry  Telemetry  `yaml:"telemetry"`
	Logging    Logging    `yaml:"logging"`
}

// Management configuration for the administrative HTTP API
type Management struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`
	WriteTimeout int    `yaml:"writeTimeout"`
	Auth         *Auth  `yaml:"auth,omitempty"`
}

// Auth configuration for management API access
type Auth struct {
	// Token is a static bearer token. Empty disables static token auth.
	Token string `yaml:"token"`
	// JWTSecret enables HS256 JWT bearer tokens when set.
	JWTSecret string `yaml:"jwtSecret"`
}

// Store configuration for the counter backend
type Store struct {
	// Backend selects the counter store: "redis" or "memory".
	Backend         string `yaml:"backend"`
	KeyPrefix       string `yaml:"keyPrefix"`
	OpTimeoutMillis int    `yaml:"opTimeoutMillis"`
	Redis           *Redis `yaml:"redis,omitempty"`
}

// Redis connection configuration
type Redis struct {
	Addrs        []string `yaml:"addrs"`
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	DB           int      `yaml:"db"`
	PoolSize     int      `yaml:"poolSize"`
	DialTimeout  int      `yaml:"dialTimeout"`
	ReadTimeout  int      `yaml:"readTimeout"`
	WriteTimeout int      `yaml:"writeTimeout"`
}

// Limits configuration: per-type limits plus a default for unknown types
type Limits struct {
	Default Limit            `yaml:"default"`
	Types   map[string]Limit `yaml:"types"`
}

// Limit holds the base window limits for one limit type
type Limit struct {
	Minute int64 `yaml:"minute"`
	Hour   int64 `yaml:"hour"`
	Day    int64 `yaml:"day"`
	// OnStoreUnavailable is "allow" (fail open) or "deny" (fail closed).
	OnStoreUnavailable string `yaml:"onStoreUnavailable"`
}

// Adaptive threshold configuration
type Adaptive struct {
	TTLHours int `yaml:"ttlHours"`
}

// Breaker configuration for the denial-rate trigger
type Breaker struct {
	DenialThreshold float64 `yaml:"denialThreshold"`
	RecoveryTimeout int     `yaml:"recoveryTimeout"`
	MinSamples      int64   `yaml:"minSamples"`
	BucketSeconds   int64   `yaml:"bucketSeconds"`
	BucketCount     int     `yaml:"bucketCount"`
}

// Telemetry configuration
type Telemetry struct {
	ServiceName    string `yaml:"serviceName"`
	TracingEnabled bool   `yaml:"tracingEnabled"`
	OTLPEndpoint   string `yaml:"otlpEndpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// Logging configuration
type Logging struct {
	Level string `yaml:"level"`
}

// ToPolicy converts to limiter.LimitPolicy
func (l Limit) ToPolicy() limiter.LimitPolicy {
	return limiter.LimitPolicy{
		Minute:             l.Minute,
		Hour:               l.Hour,
		Day:                l.Day,
		OnStoreUnavailable: limiter.FailurePolicy(l.OnStoreUnavailable),
	}
}

// ToPolicies converts to the limiter's policy set
func (l Limits) ToPolicies() *limiter.Policies {
	byType := make(map[string]limiter.LimitPolicy, len(l.Types))
	for limitType, limit := range l.Types {
		byType[limitType] = limit.ToPolicy()
	}
	return limiter.NewPolicies(byType, l.Default.ToPolicy())
}

// ToStorageConfig converts to storage.Config, filling unset fields with
// defaults
func (s Store) ToStorageConfig() *storage.Config {
	cfg := storage.DefaultConfig()
	if s.KeyPrefix != "" {
		cfg.KeyPrefix = s.KeyPrefix
	}
	if s.OpTimeoutMillis > 0 {
		cfg.OpTimeout = time.Duration(s.OpTimeoutMillis) * time.Millisecond
	}
	return cfg
}

// ToTriggerConfig converts to the trigger configuration, filling unset
// fields with defaults
func (b Breaker) ToTriggerConfig() limiter.TriggerConfig {
	cfg := limiter.DefaultTriggerConfig()
	if b.DenialThreshold > 0 {
		cfg.DenialThreshold = b.DenialThreshold
	}
	if b.RecoveryTimeout > 0 {
		cfg.RecoveryTimeout = time.Duration(b.RecoveryTimeout) * time.Second
	}
	if b.MinSamples > 0 {
		cfg.MinSamples = b.MinSamples
	}
	if b.BucketSeconds > 0 {
		cfg.BucketSeconds = b.BucketSeconds
	}
	if b.BucketCount > 0 {
		cfg.BucketCount = b.BucketCount
	}
	return cfg
}

// TTL returns the adaptive config lifetime
func (a Adaptive) TTL() time.Duration {
	if a.TTLHours <= 0 {
		return limiter.DefaultAdaptiveTTL
	}
	return time.Duration(a.TTLHours) * time.Hour
}
