package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Session wraps one backend connection and its StatementCache. A Session is
// acquired from a Pool, used for a unit of work, and released back — never
// shared across goroutines concurrently.
type Session struct {
	conn    *pgx.Conn
	cache   *StatementCache
	info    ConnInfo
	invalid bool
}

// ID returns the backend process id pg_stat_activity would report for this
// connection, used to correlate Session activity with catalog views in the
// monitoring package.
func (s *Session) ID() uint32 {
	return s.info.BackendPID
}

// ConnInfo reports acquisition time and current prepared statement count.
func (s *Session) ConnInfo() ConnInfo {
	info := s.info
	info.PreparedStmt = s.cache.Len()
	return info
}

// MarkInvalid flags the Session for disposal instead of recycling on the
// next Release — used after an error classified as permanent damage to the
// backend (connection reset, protocol desync).
func (s *Session) MarkInvalid() {
	s.invalid = true
}

// Exec prepares sql (via the Session's StatementCache) and executes it with
// args, returning the command tag's affected-row count.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	name, err := s.cache.Prepare(ctx, sql)
	if err != nil {
		return 0, err
	}
	tag, err := s.conn.Exec(ctx, name, args...)
	if err != nil {
		s.maybeInvalidate(err)
		return 0, fmt.Errorf("database: exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Query prepares sql and runs it, returning the live pgx.Rows for the
// caller to scan and close.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	name, err := s.cache.Prepare(ctx, sql)
	if err != nil {
		return nil, err
	}
	rows, err := s.conn.Query(ctx, name, args...)
	if err != nil {
		s.maybeInvalidate(err)
		return nil, fmt.Errorf("database: query: %w", err)
	}
	return rows, nil
}

// QueryRow prepares sql and runs it, returning a single-row result.
func (s *Session) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	name, err := s.cache.Prepare(ctx, sql)
	if err != nil {
		return errRow{err}
	}
	return s.conn.QueryRow(ctx, name, args...)
}

// RawConn exposes the underlying *pgx.Conn for callers that need
// capabilities Session doesn't wrap directly, such as pgx.CopyFrom in the
// bulk loader or LISTEN/NOTIFY in the existing listener.
func (s *Session) RawConn() *pgx.Conn {
	return s.conn
}

// maybeInvalidate marks the Session invalid when err indicates the backend
// connection itself is no longer usable (a connection-level failure rather
// than a constraint violation or a well-formed PgError response), so
// Release disposes of it instead of recycling a broken connection into the
// idle stack.
func (s *Session) maybeInvalidate(err error) {
	var pgErr *pgconn.PgError
	if classify(err) == errKindTransient && !errors.As(err, &pgErr) {
		s.invalid = true
	}
}

// errRow is a pgx.Row that always returns err from Scan, used when
// statement preparation fails before a query could even be issued.
type errRow struct{ err error }

func (r errRow) Scan(dest ...any) error { return r.err }
