package database

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestPool builds a Pool with n pre-warmed fake Sessions, bypassing Open
// (which requires a live DSN). Fake Sessions carry a nil *pgx.Conn: fine for
// exercising Acquire/Release bookkeeping, since the recycling path never
// touches conn and the discard path skips closing a nil conn.
func newTestPool(n int) *Pool {
	p := &Pool{
		cfg:     Config{MaxSize: n, AcquireTimeout: 200 * time.Millisecond},
		logger:  discardLogger(),
		inUse:   make(map[*Session]struct{}),
		idle:    make([]*Session, 0, n),
		waiters: make([]*waiter, 0),
		size:    n,
	}
	for i := 0; i < n; i++ {
		p.idle = append(p.idle, &Session{cache: newStatementCache(nil, 4)})
	}
	return p
}

func TestAcquireReusesMostRecentlyReleasedSession(t *testing.T) {
	p := newTestPool(2)
	ctx := context.Background()

	a, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	b, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}

	p.Release(a)
	p.Release(b)

	// LIFO: b was released last, so it must come back first.
	got, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	if got != b {
		t.Fatalf("expected LIFO reuse of most recently released session, got a different one")
	}
}

func TestAcquireBlocksThenServesWaitersFIFO(t *testing.T) {
	p := newTestPool(1)
	ctx := context.Background()

	sess, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	order := make(chan int, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	start := make(chan struct{})
	go func() {
		defer wg.Done()
		<-start
		if _, err := p.Acquire(ctx); err == nil {
			order <- 1
		}
	}()
	go func() {
		defer wg.Done()
		<-start
		time.Sleep(20 * time.Millisecond) // ensures this goroutine queues second
		if _, err := p.Acquire(ctx); err == nil {
			order <- 2
		}
	}()
	close(start)
	time.Sleep(60 * time.Millisecond) // let both enqueue as waiters before release

	p.Release(sess)

	wg.Wait()
	close(order)

	first := <-order
	if first != 1 {
		t.Fatalf("expected first-queued waiter to be served first (FIFO), got waiter %d served first", first)
	}
}

func TestAcquireTimesOutWhenPoolExhausted(t *testing.T) {
	p := newTestPool(1)
	ctx := context.Background()

	sess, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer p.Release(sess)

	_, err = p.Acquire(ctx)
	if err != ErrPoolExhausted {
		t.Fatalf("expected ErrPoolExhausted, got %v", err)
	}

	stats := p.Stats()
	if stats.AcquireTimeouts != 1 {
		t.Fatalf("expected 1 recorded acquire timeout, got %d", stats.AcquireTimeouts)
	}
}

func TestReleaseDiscardsInvalidSessionInsteadOfRecycling(t *testing.T) {
	p := newTestPool(1)
	ctx := context.Background()

	sess, err := p.Acquire(ctx)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	sess.MarkInvalid()
	p.Release(sess)

	p.mu.Lock()
	idleLen := len(p.idle)
	_, stillInUse := p.inUse[sess]
	p.mu.Unlock()
	if stillInUse {
		t.Fatalf("expected invalid session removed from inUse set")
	}
	if idleLen != 0 {
		t.Fatalf("expected idle stack empty after discarding the only session, got %d", idleLen)
	}
}

func TestStatsReflectsOccupancy(t *testing.T) {
	p := newTestPool(3)
	ctx := context.Background()

	a, _ := p.Acquire(ctx)
	stats := p.Stats()
	if stats.InUse != 1 || stats.Idle != 2 {
		t.Fatalf("expected 1 in-use, 2 idle; got %+v", stats)
	}
	p.Release(a)
	stats = p.Stats()
	if stats.InUse != 0 || stats.Idle != 3 {
		t.Fatalf("expected 0 in-use, 3 idle after release; got %+v", stats)
	}
}
