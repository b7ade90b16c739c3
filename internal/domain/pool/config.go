// Package pool implements the per-tenant connection pool: bounded admission,
// FIFO acquire with deadline, health-checked release, idle shrink and drain.
package pool

import (
	"fmt"
	"time"

	"github.com/Strob0t/PoolGate/internal/domain"
	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

// Config holds the immutable settings for one tenant pool.
type Config struct {
	DataSource dbconn.DataSource `json:"data_source"`

	MinSize int `json:"min_size"`
	MaxSize int `json:"max_size"`

	// AcquireTimeout bounds Acquire when the caller's context has no deadline.
	AcquireTimeout time.Duration `json:"acquire_timeout"`

	// IdleTTL is the pool-level eviction TTL: a pool with zero leases idle
	// longer than this is torn down by the sweeper.
	IdleTTL time.Duration `json:"idle_ttl"`

	// ShrinkIdleAfter is the connection-level idle threshold: idle connections
	// above MinSize older than this are closed on the next maintenance pass.
	ShrinkIdleAfter time.Duration `json:"shrink_idle_after"`

	// LeaseTTL bounds how long a caller may hold a lease before the pool
	// force-reclaims it. The reclaimed connection is destroyed, not reused,
	// since the caller may still be touching it.
	LeaseTTL time.Duration `json:"lease_ttl"`

	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`

	// ProvisionTimeout bounds prewarming: the pool must hold at least one
	// connection within this window or creation fails.
	ProvisionTimeout time.Duration `json:"provision_timeout"`

	// DrainGrace is how long Close waits for outstanding leases before
	// force-closing their connections.
	DrainGrace time.Duration `json:"drain_grace"`
}

// Validate checks the size and timing invariants. Errors wrap domain.ErrValidation.
func (c Config) Validate() error {
	if c.MinSize < 0 {
		return fmt.Errorf("%w: min_size must be >= 0", domain.ErrValidation)
	}
	if c.MaxSize < 1 {
		return fmt.Errorf("%w: max_size must be >= 1", domain.ErrValidation)
	}
	if c.MinSize > c.MaxSize {
		return fmt.Errorf("%w: min_size %d exceeds max_size %d", domain.ErrValidation, c.MinSize, c.MaxSize)
	}
	if c.DataSource.Host == "" {
		return fmt.Errorf("%w: data_source.host is required", domain.ErrValidation)
	}
	if c.DataSource.Database == "" {
		return fmt.Errorf("%w: data_source.database is required", domain.ErrValidation)
	}
	for name, d := range map[string]time.Duration{
		"acquire_timeout":   c.AcquireTimeout,
		"idle_ttl":          c.IdleTTL,
		"provision_timeout": c.ProvisionTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%w: %s must be positive", domain.ErrValidation, name)
		}
	}
	return nil
}

// WithDefaults returns a copy of c with zero-valued optional knobs filled in
// from def. Required fields are left untouched; Validate catches those.
func (c Config) WithDefaults(def Config) Config {
	if c.MaxSize == 0 {
		c.MaxSize = def.MaxSize
	}
	if c.AcquireTimeout == 0 {
		c.AcquireTimeout = def.AcquireTimeout
	}
	if c.IdleTTL == 0 {
		c.IdleTTL = def.IdleTTL
	}
	if c.ShrinkIdleAfter == 0 {
		c.ShrinkIdleAfter = def.ShrinkIdleAfter
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = def.LeaseTTL
	}
	if c.HealthCheckTimeout == 0 {
		c.HealthCheckTimeout = def.HealthCheckTimeout
	}
	if c.HealthCheckInterval == 0 {
		c.HealthCheckInterval = def.HealthCheckInterval
	}
	if c.ProvisionTimeout == 0 {
		c.ProvisionTimeout = def.ProvisionTimeout
	}
	if c.DrainGrace == 0 {
		c.DrainGrace = def.DrainGrace
	}
	return c
}
