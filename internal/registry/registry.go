// Package registry maps tenant IDs to their connection pools. It is the
// single source of truth for pool existence; all key-set mutations are
// serialized per tenant while pool work happens outside the registry lock.
package registry

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/PoolGate/internal/domain"
	"github.com/Strob0t/PoolGate/internal/domain/pool"
	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

type entryState int

const (
	stateProvisioning entryState = iota
	stateReady
	stateClosing
)

type entry struct {
	state entryState
	pool  *pool.Pool
}

// Registry owns the tenant → pool mapping. The registry mutex guards only the
// map and entry states; dialing, draining, and probing never run under it, so
// operations on different tenants do not block each other.
type Registry struct {
	connector dbconn.Connector
	probe     pool.Prober
	defaults  pool.Config

	onDiscard func(tenantID, reason string) // optional, see SetDiscardHook

	mu    sync.RWMutex
	pools map[string]*entry
}

// New creates an empty registry. defaults fills optional knobs on incoming
// pool configs.
func New(connector dbconn.Connector, probe pool.Prober, defaults pool.Config) *Registry {
	return &Registry{
		connector: connector,
		probe:     probe,
		defaults:  defaults,
		pools:     make(map[string]*entry),
	}
}

// SetDiscardHook registers fn to run whenever any pool destroys an unhealthy
// or overdue connection. Applies to pools created after the call.
func (r *Registry) SetDiscardHook(fn func(tenantID, reason string)) {
	r.onDiscard = fn
}

// Create provisions a pool for the tenant. Exactly one concurrent caller wins;
// the rest fail with ErrAlreadyExists, including while prewarming is still in
// flight. The entry becomes visible to Get only once provisioned.
func (r *Registry) Create(ctx context.Context, tenantID string, cfg pool.Config) (*pool.Pool, error) {
	cfg = cfg.WithDefaults(r.defaults)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := pool.New(tenantID, cfg, r.connector, r.probe)
	if r.onDiscard != nil {
		p.SetDiscardHook(func(reason string) { r.onDiscard(tenantID, reason) })
	}

	r.mu.Lock()
	if _, exists := r.pools[tenantID]; exists {
		r.mu.Unlock()
		return nil, domain.ErrAlreadyExists
	}
	r.pools[tenantID] = &entry{state: stateProvisioning, pool: p}
	r.mu.Unlock()

	if err := p.Prewarm(ctx); err != nil {
		_ = p.Close(context.Background())
		r.mu.Lock()
		delete(r.pools, tenantID)
		r.mu.Unlock()
		return nil, err
	}

	p.Start(context.Background())

	r.mu.Lock()
	r.pools[tenantID].state = stateReady
	r.mu.Unlock()

	slog.Info("pool created", "tenant", tenantID, "min", cfg.MinSize, "max", cfg.MaxSize)
	return p, nil
}

// Get returns the tenant's pool, or ErrNotFound if absent or still
// provisioning. A closing pool is returned as-is; its own operations report
// ErrPoolClosed.
func (r *Registry) Get(tenantID string) (*pool.Pool, error) {
	r.mu.RLock()
	ent, ok := r.pools[tenantID]
	var state entryState
	if ok {
		state = ent.state
	}
	r.mu.RUnlock()

	if !ok || state == stateProvisioning {
		return nil, domain.ErrNotFound
	}
	return ent.pool, nil
}

// Delete drains and removes the tenant's pool. The first caller wins;
// concurrent callers observe ErrAlreadyClosing while the drain is in
// progress and ErrNotFound once the entry is gone.
func (r *Registry) Delete(ctx context.Context, tenantID string) error {
	r.mu.Lock()
	ent, ok := r.pools[tenantID]
	if !ok || ent.state == stateProvisioning {
		r.mu.Unlock()
		return domain.ErrNotFound
	}
	if ent.state == stateClosing {
		r.mu.Unlock()
		return domain.ErrAlreadyClosing
	}
	ent.state = stateClosing
	r.mu.Unlock()

	if err := ent.pool.Close(ctx); err != nil && !errors.Is(err, domain.ErrAlreadyClosing) {
		slog.Warn("pool close failed", "tenant", tenantID, "error", err)
	}

	r.mu.Lock()
	delete(r.pools, tenantID)
	r.mu.Unlock()

	slog.Info("pool deleted", "tenant", tenantID)
	return nil
}

// Evict removes the tenant's pool only if it is still idle at the moment of
// closing. The idleness check and the close decision run in one critical
// section of the pool's own lock (CloseIfIdle), so an acquire racing the
// sweeper keeps its pool. Reports whether the pool was evicted.
func (r *Registry) Evict(ctx context.Context, tenantID string) (bool, error) {
	r.mu.RLock()
	ent, ok := r.pools[tenantID]
	var state entryState
	if ok {
		state = ent.state
	}
	r.mu.RUnlock()
	if !ok || state != stateReady {
		return false, nil
	}

	closed, err := ent.pool.CloseIfIdle(ctx)
	if err != nil || !closed {
		return false, err
	}

	r.mu.Lock()
	delete(r.pools, tenantID)
	r.mu.Unlock()
	return true, nil
}

// TenantStats pairs a tenant ID with its pool snapshot.
type TenantStats struct {
	TenantID  string     `json:"tenant_id"`
	Stats     pool.Stats `json:"stats"`
	CreatedAt time.Time  `json:"created_at"`
}

// Snapshot returns per-tenant stats for every ready pool, sorted by tenant.
// Each pool is snapshotted under its own lock only.
func (r *Registry) Snapshot() []TenantStats {
	r.mu.RLock()
	pools := make([]*pool.Pool, 0, len(r.pools))
	for _, ent := range r.pools {
		if ent.state == stateReady {
			pools = append(pools, ent.pool)
		}
	}
	r.mu.RUnlock()

	out := make([]TenantStats, 0, len(pools))
	for _, p := range pools {
		out = append(out, TenantStats{TenantID: p.Tenant(), Stats: p.Stats(), CreatedAt: p.CreatedAt()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out
}

// Len returns the number of registered pools, in any state.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.pools)
}

// Close drains every pool in parallel. Used at manager shutdown; each pool's
// DrainGrace bounds its own drain, ctx bounds the whole teardown.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.RLock()
	ids := make([]string, 0, len(r.pools))
	for id := range r.pools {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	var g errgroup.Group
	for _, id := range ids {
		id := id
		g.Go(func() error {
			err := r.Delete(ctx, id)
			if err != nil && !errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrAlreadyClosing) {
				return err
			}
			return nil
		})
	}
	return g.Wait()
}
