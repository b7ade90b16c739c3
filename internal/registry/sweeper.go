package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/Strob0t/PoolGate/internal/domain/pool"
)

// Sweeper periodically tears down pools that have sat idle past their
// IdleTTL with zero outstanding leases.
type Sweeper struct {
	reg      *Registry
	interval time.Duration
	onEvict  func(tenantID string, idleFor time.Duration)
}

// NewSweeper creates a sweeper over reg. onEvict, if non-nil, is invoked
// after each successful eviction.
func NewSweeper(reg *Registry, interval time.Duration, onEvict func(tenantID string, idleFor time.Duration)) *Sweeper {
	return &Sweeper{reg: reg, interval: interval, onEvict: onEvict}
}

// Run sweeps until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

// sweep snapshots candidate tenants without holding the registry lock across
// the scan, then evicts them one at a time. Evict re-checks idleness inside
// the pool's closing critical section, so a racing acquire keeps its pool.
func (s *Sweeper) sweep(ctx context.Context) {
	s.reg.mu.RLock()
	ready := make(map[string]struct{}, len(s.reg.pools))
	for id, ent := range s.reg.pools {
		if ent.state == stateReady {
			ready[id] = struct{}{}
		}
	}
	s.reg.mu.RUnlock()

	var candidates []string
	for id := range ready {
		if p, err := s.reg.Get(id); err == nil && poolExpired(p) {
			candidates = append(candidates, id)
		}
	}

	for _, id := range candidates {
		p, err := s.reg.Get(id)
		if err != nil {
			continue
		}
		_, lastUsed := p.IdleInfo()
		evicted, err := s.reg.Evict(ctx, id)
		if err != nil || !evicted {
			continue
		}
		slog.Info("idle pool evicted", "tenant", id)
		if s.onEvict != nil {
			s.onEvict(id, time.Since(lastUsed))
		}
	}
}

// poolExpired reports whether p has zero leases and has been unused past its
// IdleTTL.
func poolExpired(p *pool.Pool) bool {
	active, lastUsed := p.IdleInfo()
	return active == 0 && time.Since(lastUsed) > p.Config().IdleTTL
}
