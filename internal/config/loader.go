package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "poolgate.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "POOLGATE_PORT")
	setString(&cfg.Server.CORSOrigin, "POOLGATE_CORS_ORIGIN")
	setDuration(&cfg.Server.ShutdownGrace, "POOLGATE_SHUTDOWN_GRACE")

	setInt(&cfg.Pool.MinSize, "POOLGATE_POOL_MIN_SIZE")
	setInt(&cfg.Pool.MaxSize, "POOLGATE_POOL_MAX_SIZE")
	setDuration(&cfg.Pool.AcquireTimeout, "POOLGATE_POOL_ACQUIRE_TIMEOUT")
	setDuration(&cfg.Pool.IdleTTL, "POOLGATE_POOL_IDLE_TTL")
	setDuration(&cfg.Pool.ShrinkIdleAfter, "POOLGATE_POOL_SHRINK_IDLE_AFTER")
	setDuration(&cfg.Pool.LeaseTTL, "POOLGATE_POOL_LEASE_TTL")
	setDuration(&cfg.Pool.HealthCheckTimeout, "POOLGATE_POOL_HEALTH_TIMEOUT")
	setDuration(&cfg.Pool.HealthCheckInterval, "POOLGATE_POOL_HEALTH_INTERVAL")
	setDuration(&cfg.Pool.ProvisionTimeout, "POOLGATE_POOL_PROVISION_TIMEOUT")
	setDuration(&cfg.Pool.DrainGrace, "POOLGATE_POOL_DRAIN_GRACE")

	setDuration(&cfg.Sweeper.Interval, "POOLGATE_SWEEP_INTERVAL")

	setString(&cfg.NATS.URL, "NATS_URL")

	setString(&cfg.Logging.Level, "POOLGATE_LOG_LEVEL")
	setString(&cfg.Logging.Service, "POOLGATE_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "POOLGATE_LOG_ASYNC")

	setFloat64(&cfg.Rate.RequestsPerSecond, "POOLGATE_RATE_RPS")
	setInt(&cfg.Rate.Burst, "POOLGATE_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "POOLGATE_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "POOLGATE_RATE_MAX_IDLE_TIME")

	setInt(&cfg.Breaker.MaxFailures, "POOLGATE_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "POOLGATE_BREAKER_TIMEOUT")

	setInt64(&cfg.Cache.StatsSizeMB, "POOLGATE_CACHE_STATS_SIZE_MB")
	setDuration(&cfg.Cache.StatsTTL, "POOLGATE_CACHE_STATS_TTL")

	setString(&cfg.Telemetry.OTLPEndpoint, "POOLGATE_OTLP_ENDPOINT")

	setString(&cfg.Secrets.EnvPrefix, "POOLGATE_SECRETS_ENV_PREFIX")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Pool.MaxSize < 1 {
		return errors.New("pool.max_size must be >= 1")
	}
	if cfg.Pool.MinSize < 0 {
		return errors.New("pool.min_size must be >= 0")
	}
	if cfg.Pool.MinSize > cfg.Pool.MaxSize {
		return errors.New("pool.min_size must not exceed pool.max_size")
	}
	if cfg.Pool.AcquireTimeout <= 0 {
		return errors.New("pool.acquire_timeout must be positive")
	}
	if cfg.Sweeper.Interval <= 0 {
		return errors.New("sweeper.interval must be positive")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
