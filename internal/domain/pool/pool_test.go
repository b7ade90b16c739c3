package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Strob0t/PoolGate/internal/domain"
	"github.com/Strob0t/PoolGate/internal/port/dbconn"
)

// fakeConn is an in-memory physical connection for pool tests.
type fakeConn struct {
	healthy atomic.Bool
	closed  atomic.Bool
}

func newFakeConn() *fakeConn {
	c := &fakeConn{}
	c.healthy.Store(true)
	return c
}

func (c *fakeConn) Ping(context.Context) error {
	if !c.healthy.Load() || c.closed.Load() {
		return errors.New("ping failed")
	}
	return nil
}

func (c *fakeConn) Close(context.Context) error {
	c.closed.Store(true)
	return nil
}

// fakeConnector dials fakeConns and records every dial.
type fakeConnector struct {
	mu    sync.Mutex
	dials int
	fail  bool
	conns []*fakeConn
}

func (f *fakeConnector) Connect(context.Context, dbconn.DataSource) (dbconn.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dials++
	if f.fail {
		return nil, errors.New("connection refused")
	}
	c := newFakeConn()
	f.conns = append(f.conns, c)
	return c, nil
}

func (f *fakeConnector) dialCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.dials
}

func testConfig() Config {
	return Config{
		DataSource:          dbconn.DataSource{Host: "localhost", Database: "app"},
		MinSize:             0,
		MaxSize:             5,
		AcquireTimeout:      time.Second,
		IdleTTL:             time.Minute,
		ShrinkIdleAfter:     time.Minute,
		LeaseTTL:            time.Minute,
		HealthCheckTimeout:  100 * time.Millisecond,
		HealthCheckInterval: 0, // maintenance driven manually in tests
		ProvisionTimeout:    time.Second,
		DrainGrace:          100 * time.Millisecond,
	}
}

func newTestPool(t *testing.T, cfg Config) (*Pool, *fakeConnector) {
	t.Helper()
	conn := &fakeConnector{}
	p := New("acme", cfg, conn, PingProber(cfg.HealthCheckTimeout))
	if err := p.Prewarm(context.Background()); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	return p, conn
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestPrewarmSeedsMinSize(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 2
	p, conns := newTestPool(t, cfg)

	s := p.Stats()
	if s.Idle != 2 {
		t.Fatalf("expected 2 idle after prewarm, got %d", s.Idle)
	}
	if conns.dialCount() != 2 {
		t.Fatalf("expected 2 dials, got %d", conns.dialCount())
	}
}

func TestPrewarmUnreachableFails(t *testing.T) {
	conn := &fakeConnector{fail: true}
	p := New("acme", testConfig(), conn, PingProber(time.Second))

	err := p.Prewarm(context.Background())
	if !errors.Is(err, domain.ErrProvisioningFailed) {
		t.Fatalf("expected ErrProvisioningFailed, got %v", err)
	}
}

func TestAcquireReusesIdleBeforeDialing(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	p, conns := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if conns.dialCount() != 1 {
		t.Fatalf("expected 1 dial (prewarm only), got %d", conns.dialCount())
	}
	if err := p.Release(ctx, l.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	l2, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	if conns.dialCount() != 1 {
		t.Fatalf("released connection should be reused, got %d dials", conns.dialCount())
	}
	if l2.ID == l.ID {
		t.Fatal("lease IDs must be unique per acquire")
	}
}

// The scenario from the pool contract: max 5 concurrent leases, the 6th
// caller times out, and succeeds after one release.
func TestAdmissionBound(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 2
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	leases := make([]*Lease, 0, 5)
	for it166 := 0; it166 < 5; it166++ {
		l, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		leases = append(leases, l)
	}

	s := p.Stats()
	if s.Active != 5 || s.Idle != 0 {
		t.Fatalf("expected 5 active 0 idle, got %+v", s)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := p.Acquire(shortCtx); !errors.Is(err, domain.ErrAcquireTimeout) {
		t.Fatalf("expected ErrAcquireTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Fatalf("6th caller failed before its timeout elapsed: %v", elapsed)
	}

	if err := p.Release(ctx, leases[0].ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("retry after release should succeed, got %v", err)
	}

	if got := p.Stats().AcquireTimeouts; got != 1 {
		t.Fatalf("expected 1 recorded timeout, got %d", got)
	}
}

func TestWaitersServedInFIFOOrder(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	first, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	order := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		go func() {
			l, err := p.Acquire(ctx)
			if err != nil {
				t.Errorf("waiter %d: %v", i, err)
				return
			}
			order <- i
			_ = p.Release(ctx, l.ID)
		}()
		// Pin arrival order before starting the next waiter.
		waitFor(t, func() bool { return p.Stats().Waiters == i+1 })
	}

	if err := p.Release(ctx, first.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	for want := 0; want < 3; want++ {
		select {
		case got := <-order:
			if got != want {
				t.Fatalf("expected waiter %d to be served, got %d", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("waiter %d never served", want)
		}
	}
}

func TestAcquireCancellationFreesSlot(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(waitCtx)
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := p.Stats().Waiters; got != 0 {
		t.Fatalf("cancelled waiter still queued: %d", got)
	}

	// The freed waiter must not have leaked an admission slot.
	if err := p.Release(ctx, l.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after cancel: %v", err)
	}
}

func TestReleaseUnknownAndDoubleRelease(t *testing.T) {
	p, _ := newTestPool(t, testConfig())
	ctx := context.Background()

	if err := p.Release(ctx, "no-such-lease"); !errors.Is(err, domain.ErrLeaseNotFound) {
		t.Fatalf("expected ErrLeaseNotFound, got %v", err)
	}

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := p.Release(ctx, l.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := p.Release(ctx, l.ID); !errors.Is(err, domain.ErrAlreadyReleased) {
		t.Fatalf("expected ErrAlreadyReleased, got %v", err)
	}
}

func TestReleaseUnhealthyDiscardsAndReplaces(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 2
	p, conns := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	conns.conns[0].healthy.Store(false)

	if err := p.Release(ctx, l.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if !conns.conns[0].closed.Load() {
		t.Fatal("unhealthy connection must be closed on release")
	}
	s := p.Stats()
	if s.Idle != 0 || s.Active != 0 {
		t.Fatalf("discarded connection still counted: %+v", s)
	}

	// The freed slot admits a fresh dial.
	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire after discard: %v", err)
	}
	if conns.dialCount() != 2 {
		t.Fatalf("expected replacement dial, got %d dials", conns.dialCount())
	}
}

func TestShrinkClosesExcessIdle(t *testing.T) {
	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 5
	cfg.ShrinkIdleAfter = 10 * time.Millisecond
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	// Grow to 3 and park them all.
	var leases []*Lease
	for it341 := 0; it341 < 3; it341++ {
		l, err := p.Acquire(ctx)
		if err != nil {
			t.Fatalf("Acquire: %v", err)
		}
		leases = append(leases, l)
	}
	for _, l := range leases {
		if err := p.Release(ctx, l.ID); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	time.Sleep(20 * time.Millisecond)
	p.Shrink()

	if got := p.Stats().Idle; got != 1 {
		t.Fatalf("expected shrink down to MinSize=1, got %d idle", got)
	}
}

func TestCloseFailsQueuedWaiters(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		done <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	closeDone := make(chan error, 1)
	go func() { closeDone <- p.Close(ctx) }()

	if err := <-done; !errors.Is(err, domain.ErrPoolClosed) {
		t.Fatalf("waiter expected ErrPoolClosed, got %v", err)
	}

	// Release the outstanding lease so Close drains without force-reclaim.
	_ = p.Release(ctx, l.ID)
	if err := <-closeDone; err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, domain.ErrPoolClosed) {
		t.Fatalf("Acquire after Close expected ErrPoolClosed, got %v", err)
	}
}

func TestCloseForceReclaimsAfterGrace(t *testing.T) {
	cfg := testConfig()
	cfg.DrainGrace = 50 * time.Millisecond
	p, conns := newTestPool(t, cfg)
	ctx := context.Background()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	start := time.Now()
	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("Close returned before the grace deadline: %v", elapsed)
	}
	if !conns.conns[0].closed.Load() {
		t.Fatal("leased connection must be force-closed after grace")
	}
	if got := p.Stats().Active; got != 0 {
		t.Fatalf("expected 0 active after force reclaim, got %d", got)
	}
}

func TestCloseTwice(t *testing.T) {
	p, _ := newTestPool(t, testConfig())
	ctx := context.Background()

	if err := p.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := p.Close(ctx); !errors.Is(err, domain.ErrAlreadyClosing) {
		t.Fatalf("expected ErrAlreadyClosing, got %v", err)
	}
}

func TestReclaimExpiredLeases(t *testing.T) {
	cfg := testConfig()
	cfg.LeaseTTL = 10 * time.Millisecond
	p, conns := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	p.reclaimExpired()

	if !conns.conns[0].closed.Load() {
		t.Fatal("expired lease's connection must be destroyed")
	}
	if err := p.Release(ctx, l.ID); !errors.Is(err, domain.ErrAlreadyReleased) {
		t.Fatalf("release after reclaim expected ErrAlreadyReleased, got %v", err)
	}
}

// Hammer the pool from many goroutines and check the admission invariant
// leased+idle <= MaxSize is never observed broken.
func TestConcurrentAcquireReleaseInvariant(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 4
	cfg.AcquireTimeout = 250 * time.Millisecond
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	var wg sync.WaitGroup
	for it467 := 0; it467 < 16; it467++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for it471 := 0; it471 < 25; it471++ {
				l, err := p.Acquire(ctx)
				if err != nil {
					if errors.Is(err, domain.ErrAcquireTimeout) {
						continue
					}
					t.Errorf("Acquire: %v", err)
					return
				}
				s := p.Stats()
				if s.Active+s.Idle > cfg.MaxSize {
					t.Errorf("admission invariant broken: active=%d idle=%d", s.Active, s.Idle)
				}
				_ = p.Release(ctx, l.ID)
			}
		}()
	}
	wg.Wait()
}

// scriptConnector runs a scripted step per dial, falling back to healthy
// fakeConns once the script is exhausted.
type scriptConnector struct {
	mu    sync.Mutex
	dials int
	steps []func() (dbconn.Conn, error)
}

func (s *scriptConnector) Connect(context.Context, dbconn.DataSource) (dbconn.Conn, error) {
	s.mu.Lock()
	n := s.dials
	s.dials++
	s.mu.Unlock()
	if n < len(s.steps) {
		return s.steps[n]()
	}
	return newFakeConn(), nil
}

func TestGrowthDialFailureHandsSlotToWaiter(t *testing.T) {
	gate := make(chan struct{})
	conns := &scriptConnector{steps: []func() (dbconn.Conn, error){
		func() (dbconn.Conn, error) { return newFakeConn(), nil },
		func() (dbconn.Conn, error) { <-gate; return nil, errors.New("connection refused") },
	}}

	cfg := testConfig()
	cfg.MaxSize = 2
	p := New("acme", cfg, conns, PingProber(cfg.HealthCheckTimeout))
	ctx := context.Background()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	// Growth acquire reserves the second slot and blocks in its dial.
	growthErr := make(chan error, 1)
	go func() {
		_, err := p.Acquire(ctx)
		growthErr <- err
	}()
	waitFor(t, func() bool {
		conns.mu.Lock()
		defer conns.mu.Unlock()
		return conns.dials == 2
	})

	// Third acquire finds total == MaxSize and queues.
	waiterLease := make(chan *Lease, 1)
	waiterErr := make(chan error, 1)
	go func() {
		l, err := p.Acquire(ctx)
		waiterLease <- l
		waiterErr <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	// Fail the growth dial. The freed slot must go to the queued waiter.
	close(gate)

	select {
	case err := <-growthErr:
		if !errors.Is(err, domain.ErrProvisioningFailed) {
			t.Fatalf("growth acquire: expected ErrProvisioningFailed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("growth acquire never returned")
	}

	select {
	case l := <-waiterLease:
		if err := <-waiterErr; err != nil {
			t.Fatalf("queued waiter: %v", err)
		}
		if l == nil {
			t.Fatal("queued waiter got nil lease")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queued waiter starved after failed growth dial")
	}

	if st := p.Stats(); st.Active != 2 || st.Active+st.Idle > cfg.MaxSize {
		t.Errorf("unexpected stats after replacement: %+v", st)
	}
}

func TestIdleProbeDiscardHandsSlotToWaiter(t *testing.T) {
	gate := make(chan struct{})
	probe := func(ctx context.Context, c dbconn.Conn) bool {
		<-gate
		return c.Ping(ctx) == nil
	}

	cfg := testConfig()
	cfg.MinSize = 1
	cfg.MaxSize = 1
	conns := &fakeConnector{}
	p := New("acme", cfg, conns, probe)
	if err := p.Prewarm(context.Background()); err != nil {
		t.Fatalf("Prewarm: %v", err)
	}
	conns.conns[0].healthy.Store(false)

	// Probe pass pops the sole idle connection and blocks in the probe.
	probeDone := make(chan struct{})
	go func() {
		p.probeIdle(context.Background())
		close(probeDone)
	}()
	// Pin the ordering the comment above describes: the probe must have
	// popped the idle connection before the acquire arrives.
	waitFor(t, func() bool { return p.Stats().Idle == 0 })

	// An acquire arriving mid-probe sees no idle and no free slot: it queues.
	lease := make(chan *Lease, 1)
	acqErr := make(chan error, 1)
	go func() {
		l, err := p.Acquire(context.Background())
		lease <- l
		acqErr <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	// Probe fails, the rotten connection is discarded; the waiter must get a
	// replacement instead of timing out against free capacity.
	close(gate)
	<-probeDone

	select {
	case l := <-lease:
		if err := <-acqErr; err != nil {
			t.Fatalf("waiter after idle discard: %v", err)
		}
		if l == nil {
			t.Fatal("waiter got nil lease")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter starved after idle probe discard")
	}
}

func TestReclaimExpiredHandsSlotToWaiter(t *testing.T) {
	cfg := testConfig()
	cfg.MaxSize = 1
	cfg.LeaseTTL = 10 * time.Millisecond
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	if _, err := p.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	lease := make(chan *Lease, 1)
	acqErr := make(chan error, 1)
	go func() {
		l, err := p.Acquire(ctx)
		lease <- l
		acqErr <- err
	}()
	waitFor(t, func() bool { return p.Stats().Waiters == 1 })

	time.Sleep(20 * time.Millisecond)
	p.reclaimExpired()

	select {
	case l := <-lease:
		if err := <-acqErr; err != nil {
			t.Fatalf("waiter after reclaim: %v", err)
		}
		if l == nil {
			t.Fatal("waiter got nil lease")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter starved after lease reclaim")
	}
}

func TestCloseIfIdle(t *testing.T) {
	cfg := testConfig()
	cfg.IdleTTL = 10 * time.Millisecond
	p, _ := newTestPool(t, cfg)
	ctx := context.Background()

	l, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	// A held lease blocks the conditional close even past IdleTTL.
	if closed, err := p.CloseIfIdle(ctx); err != nil || closed {
		t.Fatalf("CloseIfIdle with lease = %v, %v; want false, nil", closed, err)
	}

	if err := p.Release(ctx, l.ID); err != nil {
		t.Fatalf("Release: %v", err)
	}

	// Last use was the acquire, already past IdleTTL, so the pool closes now.
	if closed, err := p.CloseIfIdle(ctx); err != nil || !closed {
		t.Fatalf("CloseIfIdle when idle = %v, %v; want true, nil", closed, err)
	}

	if _, err := p.Acquire(ctx); !errors.Is(err, domain.ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed after conditional close, got %v", err)
	}
	if _, err := p.CloseIfIdle(ctx); !errors.Is(err, domain.ErrAlreadyClosing) {
		t.Fatalf("expected ErrAlreadyClosing on second close, got %v", err)
	}
}
