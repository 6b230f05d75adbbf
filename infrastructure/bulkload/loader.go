package bulkload

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/time/rate"

	"github.com/albapepper/scoracle-data/infrastructure/database"
)

// session is the narrow slice of database.Session the loader depends on.
type session interface {
	Exec(ctx context.Context, sql string, args ...any) (int64, error)
	RawConn() *pgx.Conn
}

var _ session = (*database.Session)(nil)

// sessionSource acquires and releases a session per retry attempt, so a
// connection that went bad on one attempt isn't reused on the next.
type sessionSource interface {
	Acquire(ctx context.Context) (session, error)
	Release(sess session)
}

// PoolSource adapts *database.Pool to sessionSource.
type PoolSource struct {
	Pool *database.Pool
}

func (p PoolSource) Acquire(ctx context.Context) (session, error) {
	return p.Pool.Acquire(ctx)
}

func (p PoolSource) Release(sess session) {
	if s, ok := sess.(*database.Session); ok {
		p.Pool.Release(s)
	}
}

const (
	singleInsertCeiling  = 50
	multiValuesCeiling   = 1000
	preparedBatchCeiling = 10_000
	valuesPerStatement   = 500
)

// Config tunes retry behavior. Method thresholds are fixed (see
// chooseMethod) and not configurable — they reflect where each mechanism
// stops being the cheapest option on typical hardware, not a per-deployment
// tuning knob.
type Config struct {
	MaxRetries   int
	InitialBackoff time.Duration
}

// DefaultConfig makes up to three attempts in total, with exponential backoff
// between them starting at 100ms.
func DefaultConfig() Config {
	return Config{MaxRetries: 3, InitialBackoff: 100 * time.Millisecond}
}

// BulkLoader routes Load calls to the cheapest viable mechanism for the
// job's row count, translating ConflictPolicy into the right SQL for
// whichever mechanism is chosen.
type BulkLoader struct {
	cfg Config
}

// NewBulkLoader builds a loader using cfg.
func NewBulkLoader(cfg Config) *BulkLoader {
	return &BulkLoader{cfg: cfg}
}

// chooseMethod implements the method table: fewer than 50 rows goes row by
// row, under 1000 batches into multi-row VALUES statements, under 10,000
// uses a cached prepared statement per row, and 10,000 or more streams via
// COPY.
func chooseMethod(rowCount int) Method {
	switch {
	case rowCount < singleInsertCeiling:
		return MethodSingleInsert
	case rowCount < multiValuesCeiling:
		return MethodMultiValues
	case rowCount < preparedBatchCeiling:
		return MethodPreparedBatch
	default:
		return MethodCopyFrom
	}
}

// Load runs job against a freshly acquired session on every attempt,
// retrying transient failures with exponential backoff for up to
// cfg.MaxRetries attempts in total — a session that failed once may be wedged or holding a
// broken connection, so retries never reuse it.
func (l *BulkLoader) Load(ctx context.Context, src sessionSource, job BulkJob) (BulkResult, error) {
	start := time.Now()
	method := chooseMethod(len(job.Rows))

	maxRetries := l.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	backoff := l.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	limiter := rate.NewLimiter(rate.Every(backoff), 1)
	limiter.Allow() // spend the initial token so the first retry waits a full backoff

	var lastErr error
	var rowsAffected, conflictsSkipped int64
	var errMsgs []string
	attempts := 0

	for attempt := 0; attempt < maxRetries; attempt++ {
		attempts++
		if attempt > 0 {
			limiter.SetLimit(rate.Every(backoff))
			if err := limiter.Wait(ctx); err != nil {
				return BulkResult{}, fmt.Errorf("bulkload: backoff wait: %w", err)
			}
			backoff *= 2
		}

		sess, err := src.Acquire(ctx)
		if err != nil {
			lastErr = fmt.Errorf("acquire session: %w", err)
			errMsgs = append(errMsgs, lastErr.Error())
			continue
		}

		var fellBack bool
		rowsAffected, conflictsSkipped, method, fellBack, err = l.loadOnce(ctx, sess, job, method)
		src.Release(sess)
		if fellBack {
			// The COPY-path privilege fallback is itself a distinct attempt
			// against the connection: it ran a different code path after
			// the first one failed, not a retry of the same statement.
			attempts++
		}
		if err == nil {
			return BulkResult{
				Method: method, RowsAffected: rowsAffected, ConflictsSkipped: conflictsSkipped,
				Attempts: attempts, Errors: errMsgs, Duration: time.Since(start),
			}, nil
		}
		lastErr = err
		errMsgs = append(errMsgs, err.Error())
		if !database.IsRetryable(err) {
			break
		}
	}

	return BulkResult{Method: method, Attempts: attempts, Errors: errMsgs, Duration: time.Since(start)},
		fmt.Errorf("bulkload: load %q via %s: %w", job.Table, method, lastErr)
}

// loadOnce dispatches to the chosen mechanism. copy_from falls back to
// prepared_batch when the role lacks COPY privilege (insufficient_privilege,
// 42501), reporting the method actually used and that a fallback occurred.
func (l *BulkLoader) loadOnce(ctx context.Context, sess session, job BulkJob, method Method) (rows, conflictsSkipped int64, used Method, fellBack bool, err error) {
	switch method {
	case MethodSingleInsert:
		n, err := l.singleInsert(ctx, sess, job)
		return n, 0, MethodSingleInsert, false, err
	case MethodMultiValues:
		n, err := l.multiValues(ctx, sess, job)
		return n, 0, MethodMultiValues, false, err
	case MethodPreparedBatch:
		n, err := l.preparedBatch(ctx, sess, job)
		return n, 0, MethodPreparedBatch, false, err
	case MethodCopyFrom:
		n, skipped, err := l.copyFrom(ctx, sess, job)
		if err != nil && isInsufficientPrivilege(err) {
			n, err = l.preparedBatch(ctx, sess, job)
			return n, 0, MethodPreparedBatch, true, err
		}
		return n, skipped, MethodCopyFrom, false, err
	default:
		return 0, 0, method, false, fmt.Errorf("bulkload: unknown method %q", method)
	}
}

func isInsufficientPrivilege(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42501"
}

func (l *BulkLoader) singleInsert(ctx context.Context, sess session, job BulkJob) (int64, error) {
	sql := buildInsertSQL(job, job.Columns)
	var total int64
	for _, row := range job.Rows {
		n, err := sess.Exec(ctx, sql, row...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (l *BulkLoader) multiValues(ctx context.Context, sess session, job BulkJob) (int64, error) {
	var total int64
	for start := 0; start < len(job.Rows); start += valuesPerStatement {
		end := start + valuesPerStatement
		if end > len(job.Rows) {
			end = len(job.Rows)
		}
		chunk := job.Rows[start:end]
		sql := buildMultiValuesSQL(job, len(chunk))
		args := make([]any, 0, len(chunk)*len(job.Columns))
		for _, row := range chunk {
			args = append(args, row...)
		}
		n, err := sess.Exec(ctx, sql, args...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (l *BulkLoader) preparedBatch(ctx context.Context, sess session, job BulkJob) (int64, error) {
	// Same SQL text for every row: the Session's StatementCache prepares it
	// once and reuses the prepared statement for every subsequent call.
	sql := buildInsertSQL(job, job.Columns)
	var total int64
	for _, row := range job.Rows {
		n, err := sess.Exec(ctx, sql, row...)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (l *BulkLoader) copyFrom(ctx context.Context, sess session, job BulkJob) (int64, int64, error) {
	conn := sess.RawConn()
	if job.ConflictPolicy == ConflictError || job.ConflictPolicy == "" {
		n, err := conn.CopyFrom(ctx, pgx.Identifier{job.Table}, job.Columns, newRowSource(job.Rows))
		if err != nil {
			return 0, 0, fmt.Errorf("bulkload: copy from: %w", err)
		}
		return n, 0, nil
	}
	return l.copyFromWithConflictHandling(ctx, sess, job)
}

// copyFromWithConflictHandling streams rows into a transaction-scoped
// staging table via COPY, then folds them into the target with a single
// INSERT ... SELECT ... ON CONFLICT, so COPY's throughput is preserved even
// when the caller needs conflict handling COPY itself doesn't support. The
// gap between rows copied into staging and rows actually inserted is exact
// under ConflictIgnore (every other policy either errors or overwrites, so
// there's nothing to call "skipped").
func (l *BulkLoader) copyFromWithConflictHandling(ctx context.Context, sess session, job BulkJob) (int64, int64, error) {
	conn := sess.RawConn()
	staging := stagingTableName(job.Table)

	tx, err := conn.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("bulkload: begin staging transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	createSQL := fmt.Sprintf(
		"CREATE TEMPORARY TABLE %s (LIKE %s INCLUDING DEFAULTS) ON COMMIT DROP",
		pgx.Identifier{staging}.Sanitize(), pgx.Identifier{job.Table}.Sanitize(),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, 0, fmt.Errorf("bulkload: create staging table: %w", err)
	}

	staged, err := tx.CopyFrom(ctx, pgx.Identifier{staging}, job.Columns, newRowSource(job.Rows))
	if err != nil {
		return 0, 0, fmt.Errorf("bulkload: copy into staging table: %w", err)
	}

	cols := strings.Join(quoteAll(job.Columns), ", ")
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) SELECT %s FROM %s",
		pgx.Identifier{job.Table}.Sanitize(), cols, cols, pgx.Identifier{staging}.Sanitize())
	insertSQL += buildConflictClause(job)

	tag, err := tx.Exec(ctx, insertSQL)
	if err != nil {
		return 0, 0, fmt.Errorf("bulkload: insert from staging table: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("bulkload: commit staging transaction: %w", err)
	}
	inserted := tag.RowsAffected()

	var skipped int64
	if job.ConflictPolicy == ConflictIgnore && staged > inserted {
		skipped = staged - inserted
	}
	return inserted, skipped, nil
}

func stagingTableName(table string) string {
	return fmt.Sprintf("%s_stage", strings.ReplaceAll(table, ".", "_"))
}

// sliceRowSource adapts a [][]any to pgx.CopyFromSource.
type sliceRowSource struct {
	rows [][]any
	idx  int
}

// newRowSource wraps rows for driving pgx.CopyFrom directly.
func newRowSource(rows [][]any) pgx.CopyFromSource {
	return &sliceRowSource{rows: rows, idx: -1}
}

func (s *sliceRowSource) Next() bool {
	s.idx++
	return s.idx < len(s.rows)
}

func (s *sliceRowSource) Values() ([]any, error) {
	return s.rows[s.idx], nil
}

func (s *sliceRowSource) Err() error { return nil }
