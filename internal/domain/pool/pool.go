package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/PoolGate/internal/domain"
	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

const (
	// dialRetries is the per-connection retry budget during prewarm.
	dialRetries = 3
	dialBackoff = 100 * time.Millisecond

	// spentLeaseRetention is how long released lease IDs are remembered so a
	// double release maps to ErrAlreadyReleased instead of ErrLeaseNotFound.
	spentLeaseRetention = time.Minute

	closeTimeout = 5 * time.Second
)

// Stats is a point-in-time snapshot of one pool's counters.
type Stats struct {
	Active          int    `json:"active"`
	Idle            int    `json:"idle"`
	Waiters         int    `json:"waiters"`
	TotalIssued     uint64 `json:"total_issued"`
	TotalRejected   uint64 `json:"total_rejected"`
	AcquireTimeouts uint64 `json:"acquire_timeouts"`
}

// pconn is one physical connection tracked by the pool.
type pconn struct {
	conn      dbconn.Conn
	createdAt time.Time
	idleSince time.Time
	deadline  time.Time // lease deadline while leased
}

// waiter is one queued Acquire call. A nil delivery means the pool closed.
type waiter struct {
	ready chan *pconn
}

// Pool owns the physical connections for one tenant. All state is guarded by
// mu; connections are never dialed, probed, or closed while holding it.
type Pool struct {
	cfg       Config
	tenant    string
	connector dbconn.Connector
	probe     Prober

	mu         sync.Mutex
	idle       []*pconn // oldest first; reuse pops from the end
	leased     map[string]*pconn
	waiters    *list.List // of *waiter, strict arrival order
	total      int        // admission counter: idle + leased + in-flight dials
	closing    bool
	lastUsedAt time.Time
	createdAt  time.Time

	totalIssued     uint64
	totalRejected   uint64
	acquireTimeouts uint64

	spent map[string]time.Time // released lease IDs, pruned by maintenance

	onDiscard func(reason string) // optional, set before Start

	drainOnce sync.Once
	drained   chan struct{} // closed once the last lease is gone after closing
	stop      chan struct{} // stops the maintenance loop
}

// New creates an empty pool. Call Prewarm to seed it and Start to launch
// maintenance.
func New(tenant string, cfg Config, connector dbconn.Connector, probe Prober) *Pool {
	now := time.Now()
	return &Pool{
		cfg:        cfg,
		tenant:     tenant,
		connector:  connector,
		probe:      probe,
		leased:     make(map[string]*pconn),
		waiters:    list.New(),
		spent:      make(map[string]time.Time),
		lastUsedAt: now,
		createdAt:  now,
		drained:    make(chan struct{}),
		stop:       make(chan struct{}),
	}
}

// SetDiscardHook registers fn to run whenever the pool destroys a connection
// that failed a health probe or overstayed its lease. Must be set before
// Start; fn runs on its own goroutine and must not call back into the pool.
func (p *Pool) SetDiscardHook(fn func(reason string)) {
	p.onDiscard = fn
}

// Prewarm dials the pool's initial connections concurrently. Individual dial
// failures are tolerated up to the retry budget; the pool may start below
// MinSize and grow on demand, but must hold at least one connection within
// ProvisionTimeout or Prewarm fails with ErrProvisioningFailed.
func (p *Pool) Prewarm(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ProvisionTimeout)
	defer cancel()

	n := p.cfg.MinSize
	if n == 0 {
		// Still dial once so an unreachable data source fails creation.
		n = 1
	}

	var (
		g       errgroup.Group
		errMu   sync.Mutex
		lastErr error
	)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			pc, err := p.dialWithRetry(ctx)
			if err != nil {
				errMu.Lock()
				lastErr = err
				errMu.Unlock()
				return nil
			}
			p.mu.Lock()
			if p.closing || p.total >= p.cfg.MaxSize {
				p.mu.Unlock()
				closeConn(pc.conn)
				return nil
			}
			p.total++
			p.idle = append(p.idle, pc)
			p.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	p.mu.Lock()
	seeded := p.total
	p.mu.Unlock()
	if seeded == 0 {
		return fmt.Errorf("%w: %v", domain.ErrProvisioningFailed, lastErr)
	}
	return nil
}

func (p *Pool) dialWithRetry(ctx context.Context) (*pconn, error) {
	var lastErr error
	for attempt := 0; attempt < dialRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(dialBackoff << attempt):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		conn, err := p.connector.Connect(ctx, p.cfg.DataSource)
		if err == nil {
			now := time.Now()
			return &pconn{conn: conn, createdAt: now, idleSince: now}, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Start launches the maintenance loop: idle probing, shrink, and expired
// lease reclaim. It exits when the pool closes or ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	interval := p.cfg.HealthCheckInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.probeIdle(ctx)
				p.Shrink()
				p.reclaimExpired()
				p.mu.Lock()
				p.pruneSpentLocked(time.Now())
				p.mu.Unlock()
			}
		}
	}()
}

// Acquire leases a connection: idle first, then growth up to MaxSize, then a
// FIFO wait bounded by the context deadline (or AcquireTimeout when the
// context carries none).
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.AcquireTimeout)
		defer cancel()
	}

	p.mu.Lock()
	if p.closing {
		p.totalRejected++
		p.mu.Unlock()
		return nil, domain.ErrPoolClosed
	}
	p.lastUsedAt = time.Now()

	if n := len(p.idle); n > 0 {
		pc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		lease := p.grantLocked(pc)
		p.mu.Unlock()
		return lease, nil
	}

	if p.total < p.cfg.MaxSize {
		p.total++ // reserve the admission slot before dialing
		p.mu.Unlock()
		return p.dialAndGrant(ctx)
	}

	w := &waiter{ready: make(chan *pconn, 1)}
	elem := p.waiters.PushBack(w)
	p.mu.Unlock()

	select {
	case pc := <-w.ready:
		if pc == nil {
			return nil, domain.ErrPoolClosed
		}
		p.mu.Lock()
		if p.closing {
			p.total--
			p.mu.Unlock()
			closeConn(pc.conn)
			return nil, domain.ErrPoolClosed
		}
		lease := p.grantLocked(pc)
		p.mu.Unlock()
		return lease, nil
	case <-ctx.Done():
		return nil, p.abandonWait(elem, w, ctx.Err())
	}
}

func (p *Pool) dialAndGrant(ctx context.Context) (*Lease, error) {
	conn, err := p.connector.Connect(ctx, p.cfg.DataSource)
	if err != nil {
		p.mu.Lock()
		p.totalRejected++
		// Hand the reserved slot to the queue instead of freeing it, or the
		// oldest waiter starves while a later Acquire grabs the capacity.
		replace := p.waiters.Len() > 0 && !p.closing
		if !replace {
			p.total--
		}
		p.mu.Unlock()
		if replace {
			go p.dialForWaiter()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, domain.ErrAcquireTimeout
		}
		return nil, fmt.Errorf("%w: dial: %v", domain.ErrProvisioningFailed, err)
	}

	now := time.Now()
	pc := &pconn{conn: conn, createdAt: now, idleSince: now}
	p.mu.Lock()
	if p.closing {
		p.total--
		p.mu.Unlock()
		closeConn(conn)
		return nil, domain.ErrPoolClosed
	}
	lease := p.grantLocked(pc)
	p.mu.Unlock()
	return lease, nil
}

// abandonWait unlinks a timed-out or cancelled waiter. A connection handed
// off in the same instant is recycled, never lost.
func (p *Pool) abandonWait(elem *list.Element, w *waiter, cause error) error {
	p.mu.Lock()
	p.waiters.Remove(elem) // no-op if a handoff already unlinked us
	select {
	case pc := <-w.ready:
		if pc == nil {
			p.mu.Unlock()
			return domain.ErrPoolClosed
		}
		if p.closing {
			p.total--
			p.mu.Unlock()
			closeConn(pc.conn)
			return domain.ErrPoolClosed
		}
		p.recycleLocked(pc)
	default:
	}
	p.totalRejected++
	timedOut := errors.Is(cause, context.DeadlineExceeded)
	if timedOut {
		p.acquireTimeouts++
	}
	p.mu.Unlock()

	if timedOut {
		return domain.ErrAcquireTimeout
	}
	return cause
}

// grantLocked issues a lease for pc. Caller holds p.mu.
func (p *Pool) grantLocked(pc *pconn) *Lease {
	now := time.Now()
	var deadline time.Time
	if p.cfg.LeaseTTL > 0 {
		deadline = now.Add(p.cfg.LeaseTTL)
	}
	pc.deadline = deadline

	id := uuid.NewString()
	p.leased[id] = pc
	p.totalIssued++
	p.lastUsedAt = now
	return &Lease{ID: id, AcquiredAt: now, Deadline: deadline, conn: pc.conn}
}

// Release returns a leased connection. The connection is health-probed before
// reuse: healthy goes to the oldest waiter or the idle list, unhealthy is
// destroyed and its admission slot freed (with an async replacement dial when
// someone is waiting).
func (p *Pool) Release(ctx context.Context, leaseID string) error {
	p.mu.Lock()
	pc, ok := p.leased[leaseID]
	if !ok {
		_, wasIssued := p.spent[leaseID]
		p.mu.Unlock()
		if wasIssued {
			return domain.ErrAlreadyReleased
		}
		return domain.ErrLeaseNotFound
	}
	delete(p.leased, leaseID)
	p.spent[leaseID] = time.Now()
	closing := p.closing
	if closing {
		p.total--
		p.signalDrainLocked()
	}
	p.mu.Unlock()

	if closing {
		closeConn(pc.conn)
		return nil
	}

	healthy := p.probe(ctx, pc.conn)

	p.mu.Lock()
	if p.closing {
		p.total--
		p.mu.Unlock()
		closeConn(pc.conn)
		return nil
	}
	if healthy {
		pc.idleSince = time.Now()
		p.recycleLocked(pc)
		p.mu.Unlock()
		return nil
	}

	p.total--
	replace := p.waiters.Len() > 0 && p.total < p.cfg.MaxSize
	if replace {
		p.total++
	}
	p.mu.Unlock()

	closeConn(pc.conn)
	p.notifyDiscard("health probe failed on release")
	if replace {
		go p.dialForWaiter()
	}
	return nil
}

// recycleLocked hands pc to the oldest waiter, or parks it on the idle list.
// Caller holds p.mu and has set idleSince as appropriate.
func (p *Pool) recycleLocked(pc *pconn) {
	if e := p.waiters.Front(); e != nil {
		p.waiters.Remove(e)
		e.Value.(*waiter).ready <- pc
		return
	}
	p.idle = append(p.idle, pc)
}

// dialForWaiter replaces a discarded connection on behalf of a queued waiter.
func (p *Pool) dialForWaiter() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.ProvisionTimeout)
	defer cancel()

	conn, err := p.connector.Connect(ctx, p.cfg.DataSource)
	p.mu.Lock()
	if err != nil {
		p.total--
		p.mu.Unlock()
		slog.Warn("replacement dial failed", "tenant", p.tenant, "error", err)
		return
	}
	if p.closing {
		p.total--
		p.mu.Unlock()
		closeConn(conn)
		return
	}
	now := time.Now()
	p.recycleLocked(&pconn{conn: conn, createdAt: now, idleSince: now})
	p.mu.Unlock()
}

// Shrink closes idle connections above MinSize that have been idle longer
// than ShrinkIdleAfter.
func (p *Pool) Shrink() {
	if p.cfg.ShrinkIdleAfter <= 0 {
		return
	}
	now := time.Now()
	var victims []dbconn.Conn

	p.mu.Lock()
	for len(p.idle) > 0 && p.total > p.cfg.MinSize {
		oldest := p.idle[0]
		if now.Sub(oldest.idleSince) <= p.cfg.ShrinkIdleAfter {
			break
		}
		p.idle = p.idle[1:]
		p.total--
		victims = append(victims, oldest.conn)
	}
	p.mu.Unlock()

	for _, c := range victims {
		closeConn(c)
	}
}

// probeIdle round-trips each currently idle connection and discards rot
// before it can be handed to a caller. One connection at a time so acquires
// are never blocked behind a probing pass.
func (p *Pool) probeIdle(ctx context.Context) {
	p.mu.Lock()
	n := len(p.idle)
	p.mu.Unlock()

	for i := 0; i < n; i++ {
		p.mu.Lock()
		if p.closing || len(p.idle) == 0 {
			p.mu.Unlock()
			return
		}
		pc := p.idle[0]
		p.idle = p.idle[1:]
		p.mu.Unlock()

		healthy := p.probe(ctx, pc.conn)

		p.mu.Lock()
		if p.closing {
			p.total--
			p.mu.Unlock()
			closeConn(pc.conn)
			return
		}
		if healthy {
			// idleSince is preserved: probing is not use.
			p.recycleLocked(pc)
			p.mu.Unlock()
			continue
		}
		p.total--
		replace := p.waiters.Len() > 0 && p.total < p.cfg.MaxSize
		if replace {
			p.total++
		}
		p.mu.Unlock()
		closeConn(pc.conn)
		p.notifyDiscard("idle probe failed")
		if replace {
			go p.dialForWaiter()
		}
		slog.Debug("idle connection failed probe", "tenant", p.tenant)
	}
}

// reclaimExpired force-releases leases held past their deadline. The
// connection is destroyed, not reused: the holder may still be touching it.
func (p *Pool) reclaimExpired() {
	now := time.Now()
	var victims []dbconn.Conn

	p.mu.Lock()
	for id, pc := range p.leased {
		if pc.deadline.IsZero() || now.Before(pc.deadline) {
			continue
		}
		delete(p.leased, id)
		p.spent[id] = now
		p.total--
		victims = append(victims, pc.conn)
	}
	replace := 0
	if len(victims) > 0 {
		p.signalDrainLocked()
		if !p.closing {
			replace = min(p.waiters.Len(), len(victims), p.cfg.MaxSize-p.total)
			p.total += replace
		}
	}
	p.mu.Unlock()

	for _, c := range victims {
		closeConn(c)
	}
	for i := 0; i < replace; i++ {
		go p.dialForWaiter()
	}
	if len(victims) > 0 {
		p.notifyDiscard("lease deadline exceeded")
		slog.Warn("reclaimed expired leases", "tenant", p.tenant, "count", len(victims))
	}
}

func (p *Pool) notifyDiscard(reason string) {
	if p.onDiscard != nil {
		go p.onDiscard(reason)
	}
}

// pruneSpentLocked drops released lease IDs past retention. Caller holds p.mu.
func (p *Pool) pruneSpentLocked(now time.Time) {
	for id, at := range p.spent {
		if now.Sub(at) > spentLeaseRetention {
			delete(p.spent, id)
		}
	}
}

// Close marks the pool non-acceptant, fails queued waiters, waits up to
// DrainGrace for outstanding leases, then force-closes everything left.
// A second Close returns ErrAlreadyClosing.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return domain.ErrAlreadyClosing
	}
	idle := p.beginCloseLocked()
	p.mu.Unlock()

	return p.finishClose(ctx, idle)
}

// CloseIfIdle closes the pool only if it still has zero leases, zero waiters,
// and has been unused past its IdleTTL. The check and the flip to closing
// happen in one critical section, so an acquire can never slip in between.
// Reports whether the pool was closed.
func (p *Pool) CloseIfIdle(ctx context.Context) (bool, error) {
	p.mu.Lock()
	if p.closing {
		p.mu.Unlock()
		return false, domain.ErrAlreadyClosing
	}
	if len(p.leased) > 0 || p.waiters.Len() > 0 || time.Since(p.lastUsedAt) <= p.cfg.IdleTTL {
		p.mu.Unlock()
		return false, nil
	}
	idle := p.beginCloseLocked()
	p.mu.Unlock()

	return true, p.finishClose(ctx, idle)
}

// beginCloseLocked flips the pool to closing, fails queued waiters, and
// detaches the idle list for the caller to close. Caller holds p.mu.
func (p *Pool) beginCloseLocked() []*pconn {
	p.closing = true
	close(p.stop)

	for e := p.waiters.Front(); e != nil; e = e.Next() {
		e.Value.(*waiter).ready <- nil
	}
	p.waiters.Init()

	idle := p.idle
	p.idle = nil
	p.total -= len(idle)
	p.signalDrainLocked()
	return idle
}

func (p *Pool) finishClose(ctx context.Context, idle []*pconn) error {
	for _, pc := range idle {
		closeConn(pc.conn)
	}

	grace := time.NewTimer(p.cfg.DrainGrace)
	defer grace.Stop()
	select {
	case <-p.drained:
	case <-grace.C:
	case <-ctx.Done():
	}

	now := time.Now()
	var victims []dbconn.Conn
	p.mu.Lock()
	for id, pc := range p.leased {
		delete(p.leased, id)
		p.spent[id] = now
		p.total--
		victims = append(victims, pc.conn)
	}
	p.mu.Unlock()

	for _, c := range victims {
		closeConn(c)
	}
	if len(victims) > 0 {
		slog.Warn("force-closed leased connections on drain", "tenant", p.tenant, "count", len(victims))
	}
	return nil
}

// signalDrainLocked fires the drain signal once the last lease is gone after
// closing. Caller holds p.mu.
func (p *Pool) signalDrainLocked() {
	if p.closing && len(p.leased) == 0 {
		p.drainOnce.Do(func() { close(p.drained) })
	}
}

// Stats returns a point-in-time snapshot using only the pool's own lock.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Active:          len(p.leased),
		Idle:            len(p.idle),
		Waiters:         p.waiters.Len(),
		TotalIssued:     p.totalIssued,
		TotalRejected:   p.totalRejected,
		AcquireTimeouts: p.acquireTimeouts,
	}
}

// IdleInfo reports the lease count and last-use time for the eviction sweeper.
func (p *Pool) IdleInfo() (active int, lastUsed time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.leased), p.lastUsedAt
}

// Tenant returns the owning tenant ID.
func (p *Pool) Tenant() string { return p.tenant }

// Config returns the pool's immutable configuration.
func (p *Pool) Config() Config { return p.cfg }

// CreatedAt returns when the pool was created.
func (p *Pool) CreatedAt() time.Time { return p.createdAt }

func closeConn(c dbconn.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.Close(ctx); err != nil {
		slog.Debug("connection close failed", "error", err)
	}
}
