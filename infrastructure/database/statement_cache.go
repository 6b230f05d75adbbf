package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jackc/pgx/v5"
)

// defaultStatementCacheSize bounds how many prepared statements a single
// Session keeps live on its backend before the LRU evicts and deallocates
// the least recently used one.
const defaultStatementCacheSize = 128

// preparedEntry is the LRU's value type: the statement name pgx prepared it
// under, used to DEALLOCATE on eviction.
type preparedEntry struct {
	name string
}

// StatementCache tracks prepared statements live on one backend connection
// and evicts the least recently used entry once it grows past its capacity,
// issuing DEALLOCATE for the evicted statement so the backend doesn't
// accumulate dead prepared statements across a long-lived Session.
type StatementCache struct {
	mu    sync.Mutex
	conn  *pgx.Conn
	lru   *simplelru.LRU[StatementKey, preparedEntry]
	count int
}

// newStatementCache builds a StatementCache bound to conn with the given
// capacity (0 uses defaultStatementCacheSize).
func newStatementCache(conn *pgx.Conn, capacity int) *StatementCache {
	if capacity <= 0 {
		capacity = defaultStatementCacheSize
	}
	sc := &StatementCache{conn: conn}
	lru, err := simplelru.NewLRU[StatementKey, preparedEntry](capacity, sc.onEvict)
	if err != nil {
		// capacity is always > 0 by construction above; NewLRU only errors
		// on non-positive size.
		panic(fmt.Sprintf("database: statement cache: %v", err))
	}
	sc.lru = lru
	return sc
}

// onEvict runs synchronously under sc.mu (simplelru calls back into the
// evicting goroutine) and best-effort deallocates the evicted statement.
// Deallocation failure is not fatal: a dropped connection will clear the
// statement anyway, and the cache has already forgotten it.
func (sc *StatementCache) onEvict(_ StatementKey, entry preparedEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), deallocateTimeout)
	defer cancel()
	_, _ = sc.conn.Exec(ctx, fmt.Sprintf("DEALLOCATE %s", pgx.Identifier{entry.name}.Sanitize()))
}

// Prepare returns the statement name to pass as conn.Exec/Query's sql
// argument, preparing it on first use and marking it most-recently-used on
// every subsequent call.
func (sc *StatementCache) Prepare(ctx context.Context, sql string) (string, error) {
	key := newStatementKey(sql)

	sc.mu.Lock()
	if entry, ok := sc.lru.Get(key); ok {
		sc.mu.Unlock()
		return entry.name, nil
	}
	sc.count++
	name := fmt.Sprintf("upholder_stmt_%d", sc.count)
	sc.mu.Unlock()

	if _, err := sc.conn.Prepare(ctx, name, sql); err != nil {
		return "", fmt.Errorf("database: prepare statement: %w", err)
	}

	sc.mu.Lock()
	sc.lru.Add(key, preparedEntry{name: name})
	sc.mu.Unlock()
	return name, nil
}

// Len reports how many statements are currently prepared on the backend.
func (sc *StatementCache) Len() int {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.lru.Len()
}

// Purge deallocates every prepared statement and empties the cache. Called
// when a Session is discarded rather than returned to the pool.
func (sc *StatementCache) Purge() {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.lru.Purge()
}
