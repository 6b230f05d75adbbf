package database

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
)

// deallocateTimeout bounds a best-effort DEALLOCATE issued during statement
// cache eviction or connection teardown.
const deallocateTimeout = 2 * time.Second

// Config controls Pool sizing and health-check cadence.
type Config struct {
	DSN string

	MinSize int
	MaxSize int

	// AcquireTimeout bounds how long Acquire waits for a Session to become
	// available before returning ErrPoolExhausted.
	AcquireTimeout time.Duration

	// HealthCheckInterval is how often the health sweep pings idle
	// connections and closes any that fail. Zero disables the sweep.
	HealthCheckInterval time.Duration

	// StatementCacheSize bounds each Session's StatementCache. Zero uses
	// defaultStatementCacheSize.
	StatementCacheSize int

	Logger *slog.Logger
}

// DefaultConfig returns sizing defaults suitable for a single-service
// workload: a handful of always-warm connections, headroom under load, and a
// health sweep every thirty seconds.
func DefaultConfig(dsn string) Config {
	return Config{
		DSN:                 dsn,
		MinSize:             2,
		MaxSize:             10,
		AcquireTimeout:      5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
		StatementCacheSize:  defaultStatementCacheSize,
	}
}

// waiter is a blocked Acquire call parked in the FIFO wait queue.
type waiter struct {
	ready chan *Session
}

// Pool manages a bounded set of *pgx.Conn-backed Sessions: an idle LIFO
// stack (most-recently-released connection handed out first, so warm
// backend caches and prepared statements stay hot) and a FIFO wait queue for
// callers blocked when the pool is at MaxSize and nothing is idle.
type Pool struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	idle    []*Session      // LIFO: idle[len-1] is handed out next
	inUse   map[*Session]struct{}
	waiters []*waiter       // FIFO: waiters[0] is served next
	size    int             // idle + inUse + in-flight dials
	closed  bool

	totalAcquires   atomic.Int64
	totalReleases   atomic.Int64
	acquireTimeouts atomic.Int64
	healthEvictions atomic.Int64
	acquireWaitNs   atomic.Int64 // running sum, divided by totalAcquires for the average

	stopHealth context.CancelFunc
	healthWG   sync.WaitGroup
}

// Open establishes MinSize connections and starts the health sweep.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.MaxSize <= 0 {
		return nil, fmt.Errorf("database: MaxSize must be positive")
	}
	if cfg.MinSize < 0 || cfg.MinSize > cfg.MaxSize {
		return nil, fmt.Errorf("database: MinSize must be between 0 and MaxSize")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pool{
		cfg:     cfg,
		logger:  logger,
		inUse:   make(map[*Session]struct{}),
		idle:    make([]*Session, 0, cfg.MaxSize),
		waiters: make([]*waiter, 0),
	}

	for i := 0; i < cfg.MinSize; i++ {
		sess, err := p.dial(ctx)
		if err != nil {
			p.CloseAll(ctx)
			return nil, fmt.Errorf("database: warm connection %d/%d: %w", i+1, cfg.MinSize, err)
		}
		p.mu.Lock()
		p.idle = append(p.idle, sess)
		p.mu.Unlock()
	}

	if cfg.HealthCheckInterval > 0 {
		healthCtx, cancel := context.WithCancel(context.Background())
		p.stopHealth = cancel
		p.healthWG.Add(1)
		go p.healthSweepLoop(healthCtx)
	}

	return p, nil
}

func (p *Pool) dial(ctx context.Context) (*Session, error) {
	conn, err := pgx.Connect(ctx, p.cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:  conn,
		cache: newStatementCache(conn, p.cfg.StatementCacheSize),
		info: ConnInfo{
			BackendPID: conn.PgConn().PID(),
			AcquiredAt: time.Time{},
		},
	}, nil
}

// Acquire hands out an idle Session, dialing a new one if the pool has
// capacity, or blocks in FIFO order until one is released or ctx/cfg's
// AcquireTimeout elapses.
func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	start := time.Now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}

	if n := len(p.idle); n > 0 {
		sess := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.inUse[sess] = struct{}{}
		p.mu.Unlock()
		p.onAcquired(sess, start)
		return sess, nil
	}

	if p.size < p.cfg.MaxSize {
		p.size++
		p.mu.Unlock()
		sess, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.size--
			p.mu.Unlock()
			return nil, fmt.Errorf("database: dial: %w", err)
		}
		p.mu.Lock()
		p.inUse[sess] = struct{}{}
		p.mu.Unlock()
		p.onAcquired(sess, start)
		return sess, nil
	}

	w := &waiter{ready: make(chan *Session, 1)}
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	timeout := p.cfg.AcquireTimeout
	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case sess, ok := <-w.ready:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.onAcquired(sess, start)
		return sess, nil
	case <-timeoutCh:
		p.removeWaiter(w)
		p.acquireTimeouts.Add(1)
		return nil, ErrPoolExhausted
	case <-ctx.Done():
		p.removeWaiter(w)
		return nil, ctx.Err()
	}
}

func (p *Pool) onAcquired(sess *Session, start time.Time) {
	sess.info.AcquiredAt = time.Now()
	p.totalAcquires.Add(1)
	p.acquireWaitNs.Add(int64(time.Since(start)))
}

func (p *Pool) removeWaiter(target *waiter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, w := range p.waiters {
		if w == target {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return
		}
	}
}

// Release returns sess to the pool. If a waiter is queued, sess is handed to
// it directly (FIFO) without ever touching the idle stack. A sess flagged
// invalid by the caller (via MarkInvalid) is closed and its slot freed
// instead of being recycled.
func (p *Pool) Release(sess *Session) {
	p.totalReleases.Add(1)

	p.mu.Lock()
	if sess.invalid {
		delete(p.inUse, sess)
		p.size--
		p.mu.Unlock()
		p.discard(sess)
		return
	}

	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.mu.Unlock()
		w.ready <- sess
		return
	}

	delete(p.inUse, sess)
	p.idle = append(p.idle, sess)
	p.mu.Unlock()
}

func (p *Pool) discard(sess *Session) {
	sess.cache.Purge()
	if sess.conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), deallocateTimeout)
	defer cancel()
	_ = sess.conn.Close(ctx)
}

// Stats returns a snapshot of current pool occupancy and cumulative
// counters.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	var avgWait time.Duration
	if n := p.totalAcquires.Load(); n > 0 {
		avgWait = time.Duration(p.acquireWaitNs.Load() / n)
	}

	return PoolStats{
		MaxSize:          p.cfg.MaxSize,
		Idle:             len(p.idle),
		InUse:            len(p.inUse),
		WaitingAcquirers: len(p.waiters),
		AcquireTimeouts:  p.acquireTimeouts.Load(),
		TotalAcquires:    p.totalAcquires.Load(),
		TotalReleases:    p.totalReleases.Load(),
		AvgAcquireWait:   avgWait,
		HealthEvictions:  p.healthEvictions.Load(),
	}
}

// CloseAll cancels the health sweep and closes every idle and in-use
// connection. In-flight Acquire waiters are unblocked with ErrPoolClosed.
func (p *Pool) CloseAll(ctx context.Context) {
	if p.stopHealth != nil {
		p.stopHealth()
		p.healthWG.Wait()
	}

	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	inUse := make([]*Session, 0, len(p.inUse))
	for s := range p.inUse {
		inUse = append(inUse, s)
	}
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		close(w.ready)
	}
	for _, sess := range append(idle, inUse...) {
		p.discard(sess)
	}
}

// healthSweepLoop periodically pings idle connections and evicts any that
// fail, keeping MinSize warm by dialing replacements.
func (p *Pool) healthSweepLoop(ctx context.Context) {
	defer p.healthWG.Done()
	ticker := time.NewTicker(p.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.sweepOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Pool) sweepOnce(ctx context.Context) {
	p.mu.Lock()
	candidates := make([]*Session, len(p.idle))
	copy(candidates, p.idle)
	p.mu.Unlock()

	for _, sess := range candidates {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err := sess.conn.Ping(pingCtx)
		cancel()
		if err == nil {
			continue
		}

		p.mu.Lock()
		for i, s := range p.idle {
			if s == sess {
				p.idle = append(p.idle[:i], p.idle[i+1:]...)
				p.size--
				break
			}
		}
		p.mu.Unlock()

		p.healthEvictions.Add(1)
		p.logger.Warn("health sweep evicted unresponsive connection", "backend_pid", sess.info.BackendPID, "error", err)
		p.discard(sess)

		if replacement, derr := p.dial(ctx); derr == nil {
			p.mu.Lock()
			p.idle = append(p.idle, replacement)
			p.size++
			p.mu.Unlock()
		} else {
			p.logger.Error("health sweep replacement dial failed", "error", derr)
		}
	}
}
