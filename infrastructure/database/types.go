// Package database implements the pool and statement cache the upholder
// audits and tunes. Unlike the teacher's internal/db (a thin pgxpool.Config
// wrapper used by the CRUD layer), Pool manages raw *pgx.Conn values itself,
// so the audit cycle can observe and influence exactly the bookkeeping it is
// responsible for: idle/in-use counts, acquire wait times, statement cache
// occupancy.
package database

import (
	"time"
)

// PoolStats is a point-in-time snapshot of pool occupancy and activity,
// surfaced through Pool.Stats and folded into upholder Reports.
type PoolStats struct {
	MaxSize          int           `json:"max_size"`
	Idle             int           `json:"idle"`
	InUse            int           `json:"in_use"`
	WaitingAcquirers int           `json:"waiting_acquirers"`
	AcquireTimeouts  int64         `json:"acquire_timeouts"`
	TotalAcquires    int64         `json:"total_acquires"`
	TotalReleases    int64         `json:"total_releases"`
	AvgAcquireWait   time.Duration `json:"avg_acquire_wait_ns"`
	HealthEvictions  int64         `json:"health_evictions"`
}

// StatementKey identifies one prepared statement within a Session's
// StatementCache. Two sessions never share a cache entry: prepared
// statements are scoped to the backend connection that prepared them.
type StatementKey string

// newStatementKey derives a StatementKey from SQL text. Statements are keyed
// on exact text, not a normalized/fingerprinted form — the Query Analyzer
// does its own fingerprinting independently over pg_stat_statements.
func newStatementKey(sql string) StatementKey {
	return StatementKey(sql)
}

// ConnInfo describes the backend a Session is bound to, exposed for
// diagnostics and for the Index Auditor/Cache Monitor's audit trail.
type ConnInfo struct {
	BackendPID   uint32    `json:"backend_pid"`
	AcquiredAt   time.Time `json:"acquired_at"`
	PreparedStmt int       `json:"prepared_statement_count"`
}
