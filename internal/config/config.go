// Package config provides hierarchical configuration loading for PoolGate.
// Precedence: defaults < YAML file < environment variables.
package config

import "time"

// Config holds all runtime configuration for the pool manager.
type Config struct {
	Server    Server    `yaml:"server"`
	Pool      Pool      `yaml:"pool"`
	Sweeper   Sweeper   `yaml:"sweeper"`
	NATS      NATS      `yaml:"nats"`
	Logging   Logging   `yaml:"logging"`
	Rate      Rate      `yaml:"rate"`
	Breaker   Breaker   `yaml:"breaker"`
	Cache     Cache     `yaml:"cache"`
	Telemetry Telemetry `yaml:"telemetry"`
	Secrets   Secrets   `yaml:"secrets"`
}

// Server holds HTTP server configuration.
type Server struct {
	Port          string        `yaml:"port"`
	CORSOrigin    string        `yaml:"cors_origin"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// Pool holds the default knobs applied to tenant pools when a provisioning
// request leaves them unset. Sizes and the data source always come from the
// request itself.
type Pool struct {
	MinSize             int           `yaml:"min_size"`
	MaxSize             int           `yaml:"max_size"`
	AcquireTimeout      time.Duration `yaml:"acquire_timeout"`
	IdleTTL             time.Duration `yaml:"idle_ttl"`
	ShrinkIdleAfter     time.Duration `yaml:"shrink_idle_after"`
	LeaseTTL            time.Duration `yaml:"lease_ttl"`
	HealthCheckTimeout  time.Duration `yaml:"health_check_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	ProvisionTimeout    time.Duration `yaml:"provision_timeout"`
	DrainGrace          time.Duration `yaml:"drain_grace"`
}

// Sweeper holds eviction sweeper configuration.
type Sweeper struct {
	Interval time.Duration `yaml:"interval"`
}

// NATS holds NATS JetStream configuration. An empty URL disables lifecycle
// event publishing.
type NATS struct {
	URL string `yaml:"url"`
}

// Logging holds structured logging configuration.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
	Async   bool   `yaml:"async"`
}

// Rate holds rate limiter configuration.
type Rate struct {
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
}

// Breaker holds the circuit breaker configuration for physical dials.
type Breaker struct {
	MaxFailures int           `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
}

// Cache holds the stats snapshot cache configuration.
type Cache struct {
	StatsSizeMB int64         `yaml:"stats_size_mb"`
	StatsTTL    time.Duration `yaml:"stats_ttl"`
}

// Telemetry holds tracing configuration. An empty endpoint disables the
// OTLP exporter.
type Telemetry struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Secrets holds credential resolution configuration. Environment variables
// carrying the given prefix are loaded into the vault; a data source's
// credential_ref names the key with the prefix stripped.
type Secrets struct {
	EnvPrefix string `yaml:"env_prefix"`
}

// Defaults returns a Config with sensible default values for local development.
func Defaults() Config {
	return Config{
		Server: Server{
			Port:          "8080",
			CORSOrigin:    "http://localhost:3000",
			ShutdownGrace: 30 * time.Second,
		},
		Pool: Pool{
			MinSize:             1,
			MaxSize:             10,
			AcquireTimeout:      5 * time.Second,
			IdleTTL:             10 * time.Minute,
			ShrinkIdleAfter:     time.Minute,
			LeaseTTL:            5 * time.Minute,
			HealthCheckTimeout:  time.Second,
			HealthCheckInterval: 30 * time.Second,
			ProvisionTimeout:    15 * time.Second,
			DrainGrace:          10 * time.Second,
		},
		Sweeper: Sweeper{
			Interval: time.Minute,
		},
		Logging: Logging{
			Level:   "info",
			Service: "poolgate",
		},
		Rate: Rate{
			RequestsPerSecond: 50,
			Burst:             200,
			CleanupInterval:   time.Minute,
			MaxIdleTime:       10 * time.Minute,
		},
		Breaker: Breaker{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
		},
		Cache: Cache{
			StatsSizeMB: 16,
			StatsTTL:    time.Second,
		},
		Secrets: Secrets{
			EnvPrefix: "POOLGATE_CRED_",
		},
	}
}
