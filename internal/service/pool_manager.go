// Package service implements the pool manager use cases on top of the
// registry: input validation, typed error passthrough, and fan-out of
// lifecycle events. Pooling logic lives in the pool package, not here.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/Strob0t/PoolGate/internal/adapter/otel"
	"github.com/Strob0t/PoolGate/internal/adapter/ws"
	"github.com/Strob0t/PoolGate/internal/domain"
	"github.com/Strob0t/PoolGate/internal/domain/pool"
	"github.com/Strob0t/PoolGate/internal/logger"
	"github.com/Strob0t/PoolGate/internal/port/broadcast"
	"github.com/Strob0t/PoolGate/internal/port/cache"
	"github.com/Strob0t/PoolGate/internal/port/messagequeue"
	"github.com/Strob0t/PoolGate/internal/registry"
)

// tenantIDRe bounds tenant IDs to DNS-label-ish names. They appear in NATS
// subjects, metric labels, and log lines, so the alphabet stays narrow.
var tenantIDRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,62}$`)

const (
	statsKeyPrefix = "stats:"
	statsKeyAll    = "stats:all"

	publishTimeout = 2 * time.Second
)

// PoolManager orchestrates tenant pool lifecycle and stats.
type PoolManager struct {
	reg *registry.Registry
	log *slog.Logger

	queue      messagequeue.Queue
	hub        broadcast.Broadcaster
	metrics    *otel.Metrics
	statsCache cache.Cache
	statsTTL   time.Duration
}

// NewPoolManager creates a PoolManager over the given registry.
func NewPoolManager(reg *registry.Registry, log *slog.Logger) *PoolManager {
	s := &PoolManager{reg: reg, log: log}
	reg.SetDiscardHook(s.onDiscard)
	return s
}

// SetQueue attaches a message queue for lifecycle events.
func (s *PoolManager) SetQueue(q messagequeue.Queue) {
	s.queue = q
}

// SetBroadcaster attaches a WebSocket broadcaster for live events.
func (s *PoolManager) SetBroadcaster(b broadcast.Broadcaster) {
	s.hub = b
}

// SetMetrics attaches OTel instruments.
func (s *PoolManager) SetMetrics(m *otel.Metrics) {
	s.metrics = m
}

// SetStatsCache attaches a cache for stats snapshots with the given TTL.
func (s *PoolManager) SetStatsCache(c cache.Cache, ttl time.Duration) {
	s.statsCache = c
	s.statsTTL = ttl
}

// CreatePool provisions a pool for the tenant and reports its initial stats.
func (s *PoolManager) CreatePool(ctx context.Context, tenantID string, cfg pool.Config) (registry.TenantStats, error) {
	if err := validateTenantID(tenantID); err != nil {
		return registry.TenantStats{}, err
	}

	ctx, span := otel.StartProvisionSpan(ctx, tenantID)
	defer span.End()

	p, err := s.reg.Create(ctx, tenantID, cfg)
	if err != nil {
		return registry.TenantStats{}, err
	}

	if s.metrics != nil {
		s.metrics.PoolsCreated.Add(ctx, 1)
	}
	s.invalidateStats(ctx, tenantID)
	s.publishEvent(ctx, messagequeue.SubjectPoolCreated, ws.EventPoolCreated, messagequeue.PoolCreatedPayload{
		TenantID:  tenantID,
		Database:  p.Config().DataSource.Database,
		MinSize:   p.Config().MinSize,
		MaxSize:   p.Config().MaxSize,
		CreatedAt: p.CreatedAt().UTC(),
	})

	return registry.TenantStats{TenantID: tenantID, Stats: p.Stats(), CreatedAt: p.CreatedAt()}, nil
}

// DeletePool drains and removes the tenant's pool.
func (s *PoolManager) DeletePool(ctx context.Context, tenantID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return err
	}

	ctx, span := otel.StartDrainSpan(ctx, tenantID, "delete")
	defer span.End()

	if err := s.reg.Delete(ctx, tenantID); err != nil {
		return err
	}

	if s.metrics != nil {
		s.metrics.PoolsDeleted.Add(ctx, 1)
	}
	s.invalidateStats(ctx, tenantID)
	s.publishEvent(ctx, messagequeue.SubjectPoolDeleted, ws.EventPoolDeleted, messagequeue.PoolDeletedPayload{
		TenantID:  tenantID,
		DeletedAt: time.Now().UTC(),
	})
	return nil
}

// EvictPool is the sweeper callback: the registry has already removed the
// pool, so only events and counters remain.
func (s *PoolManager) EvictPool(tenantID string, idleFor time.Duration) {
	ctx := context.Background()
	if s.metrics != nil {
		s.metrics.PoolsEvicted.Add(ctx, 1)
	}
	s.invalidateStats(ctx, tenantID)
	s.publishEvent(ctx, messagequeue.SubjectPoolEvicted, ws.EventPoolEvicted, messagequeue.PoolEvictedPayload{
		TenantID: tenantID,
		IdleFor:  idleFor,
	})
}

// Acquire leases a connection from the tenant's pool.
func (s *PoolManager) Acquire(ctx context.Context, tenantID string) (*pool.Lease, error) {
	if err := validateTenantID(tenantID); err != nil {
		return nil, err
	}

	p, err := s.reg.Get(tenantID)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartAcquireSpan(ctx, tenantID)
	defer span.End()

	start := time.Now()
	lease, err := p.Acquire(ctx)
	if s.metrics != nil {
		s.metrics.AcquireWait.Record(ctx, time.Since(start).Seconds())
		switch {
		case err == nil:
			s.metrics.Acquires.Add(ctx, 1)
		case errors.Is(err, domain.ErrAcquireTimeout):
			s.metrics.AcquireTimeouts.Add(ctx, 1)
		}
	}
	if err != nil {
		return nil, err
	}
	return lease, nil
}

// Release returns a leased connection to the tenant's pool.
func (s *PoolManager) Release(ctx context.Context, tenantID, leaseID string) error {
	if err := validateTenantID(tenantID); err != nil {
		return err
	}
	if leaseID == "" {
		return fmt.Errorf("%w: lease_id is required", domain.ErrValidation)
	}

	p, err := s.reg.Get(tenantID)
	if err != nil {
		return err
	}
	return p.Release(ctx, leaseID)
}

// GetStats returns a point-in-time snapshot for one tenant.
func (s *PoolManager) GetStats(ctx context.Context, tenantID string) (registry.TenantStats, error) {
	if err := validateTenantID(tenantID); err != nil {
		return registry.TenantStats{}, err
	}

	if ts, ok := s.cachedStats(ctx, statsKeyPrefix+tenantID); ok {
		return ts[0], nil
	}

	p, err := s.reg.Get(tenantID)
	if err != nil {
		return registry.TenantStats{}, err
	}

	ts := registry.TenantStats{TenantID: tenantID, Stats: p.Stats(), CreatedAt: p.CreatedAt()}
	s.storeStats(ctx, statsKeyPrefix+tenantID, []registry.TenantStats{ts})

	// A concurrent delete may have invalidated between the snapshot and the
	// store; re-check so a removed tenant is never served from the cache.
	if _, err := s.reg.Get(tenantID); err != nil {
		s.invalidateStats(ctx, tenantID)
		return registry.TenantStats{}, err
	}
	return ts, nil
}

// ListStats returns snapshots for every ready pool, sorted by tenant.
func (s *PoolManager) ListStats(ctx context.Context) []registry.TenantStats {
	if ts, ok := s.cachedStats(ctx, statsKeyAll); ok {
		return ts
	}

	snap := s.reg.Snapshot()
	s.storeStats(ctx, statsKeyAll, snap)
	return snap
}

// onDiscard fans out pools.degraded when a pool destroys a connection.
func (s *PoolManager) onDiscard(tenantID, reason string) {
	ctx := context.Background()
	if s.metrics != nil {
		s.metrics.ConnsDiscarded.Add(ctx, 1)
	}
	s.publishEvent(ctx, messagequeue.SubjectPoolDegraded, ws.EventPoolDegraded, messagequeue.PoolDegradedPayload{
		TenantID: tenantID,
		Reason:   reason,
	})
}

func (s *PoolManager) publishEvent(ctx context.Context, subject, wsType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error("marshal lifecycle event", "subject", subject, "error", err)
		return
	}

	if s.queue != nil && s.queue.IsConnected() {
		pubCtx, cancel := context.WithTimeout(logger.WithRequestID(context.Background(), logger.RequestID(ctx)), publishTimeout)
		defer cancel()
		if err := s.queue.Publish(pubCtx, subject, data); err != nil {
			s.log.Warn("publish lifecycle event", "subject", subject, "error", err)
		}
	}

	if s.hub != nil {
		s.hub.BroadcastEvent(ctx, wsType, payload)
	}
}

func (s *PoolManager) cachedStats(ctx context.Context, key string) ([]registry.TenantStats, bool) {
	if s.statsCache == nil {
		return nil, false
	}
	data, found, err := s.statsCache.Get(ctx, key)
	if err != nil || !found {
		return nil, false
	}
	var ts []registry.TenantStats
	if err := json.Unmarshal(data, &ts); err != nil || len(ts) == 0 && key != statsKeyAll {
		return nil, false
	}
	return ts, true
}

func (s *PoolManager) storeStats(ctx context.Context, key string, ts []registry.TenantStats) {
	if s.statsCache == nil {
		return
	}
	data, err := json.Marshal(ts)
	if err != nil {
		return
	}
	_ = s.statsCache.Set(ctx, key, data, s.statsTTL)
}

func (s *PoolManager) invalidateStats(ctx context.Context, tenantID string) {
	if s.statsCache == nil {
		return
	}
	_ = s.statsCache.Delete(ctx, statsKeyPrefix+tenantID)
	_ = s.statsCache.Delete(ctx, statsKeyAll)
}

func validateTenantID(id string) error {
	if !tenantIDRe.MatchString(id) {
		return fmt.Errorf("%w: tenant ID must match %s", domain.ErrValidation, tenantIDRe.String())
	}
	return nil
}
