package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"throttle/pkg/errors"
)

// Loader loads configuration from file
type Loader struct {
	path       string
	envEnabled bool
}

// NewLoader creates a config loader. An empty path loads the embedded
// default configuration.
func NewLoader(path string) *Loader {
	return &Loader{
		path:       path,
		envEnabled: true, // Enable env vars by default
	}
}

// WithEnvVars enables or disables environment variable loading
func (l *Loader) WithEnvVars(enabled bool) *Loader {
	l.envEnabled = enabled
	return l
}

// Load loads the configuration
func (l *Loader) Load() (*Config, error) {
	var cfg *Config

	if l.path == "" {
		loaded, err := LoadDefault()
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to load default config").WithCause(err)
		}
		cfg = loaded
	} else {
		data, err := os.ReadFile(l.path)
		if err != nil {
			return nil, errors.NewError(errors.ErrorTypeInternal, "failed to read config file").WithCause(err)
		}

		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInvalidConfig, "failed to parse config").WithCause(err)
		}
	}

	// Override with environment variables if enabled
	if l.envEnabled {
		if err := LoadEnv(cfg); err != nil {
			return nil, errors.NewError(errors.ErrorTypeInvalidConfig, "failed to load env vars").WithCause(err)
		}
	}

	normalize(cfg)

	// Validate configuration
	if err := Validate(cfg); err != nil {
		return nil, errors.NewError(errors.ErrorTypeInvalidConfig, "invalid configuration").WithCause(err)
	}

	return cfg, nil
}

// normalize fills omitted sections from the embedded defaults so partial
// config files stay valid
func normalize(cfg *Config) {
	def, err := LoadDefault()
	if err != nil {
		return
	}

	if cfg.Throttle.Limits.Default == (Limit{}) {
		cfg.Throttle.Limits.Default = def.Throttle.Limits.Default
	}
	if cfg.Throttle.Limits.Types == nil {
		cfg.Throttle.Limits.Types = def.Throttle.Limits.Types
	}
	if cfg.Throttle.Store.Backend == "" {
		cfg.Throttle.Store.Backend = def.Throttle.Store.Backend
	}
	if cfg.Throttle.Management.Port == 0 {
		cfg.Throttle.Management.Port = def.Throttle.Management.Port
	}
	if cfg.Throttle.Logging.Level == "" {
		cfg.Throttle.Logging.Level = def.Throttle.Logging.Level
	}
	if cfg.Throttle.Telemetry.ServiceName == "" {
		cfg.Throttle.Telemetry.ServiceName = def.Throttle.Telemetry.ServiceName
	}
}

// Validate checks the configuration for inconsistencies that would only
// surface at request time otherwise
func Validate(cfg *Config) error {
	th := cfg.Throttle

	switch th.Store.Backend {
	case "redis":
		if th.Store.Redis == nil || len(th.Store.Redis.Addrs) == 0 {
			return fmt.Errorf("redis backend requires at least one address")
		}
	case "memory", "":
	default:
		return fmt.Errorf("unknown store backend: %s", th.Store.Backend)
	}

	if th.Management.Port < 0 || th.Management.Port > 65535 {
		return fmt.Errorf("invalid management port: %d", th.Management.Port)
	}

	if th.Breaker.DenialThreshold < 0 || th.Breaker.DenialThreshold > 1 {
		return fmt.Errorf("breaker denial threshold must be in [0, 1], got %v", th.Breaker.DenialThreshold)
	}

	if err := th.Limits.ToPolicies().Validate(); err != nil {
		return fmt.Errorf("limits: %w", err)
	}

	return nil
}
