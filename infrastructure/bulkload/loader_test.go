package bulkload

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestChooseMethodMatchesRowCountThresholds(t *testing.T) {
	cases := []struct {
		rows int
		want Method
	}{
		{20, MethodSingleInsert},
		{49, MethodSingleInsert},
		{50, MethodMultiValues},
		{500, MethodMultiValues},
		{999, MethodMultiValues},
		{1000, MethodPreparedBatch},
		{5000, MethodPreparedBatch},
		{9999, MethodPreparedBatch},
		{10_000, MethodCopyFrom},
		{50_000, MethodCopyFrom},
	}
	for _, c := range cases {
		if got := chooseMethod(c.rows); got != c.want {
			t.Errorf("chooseMethod(%d) = %s, want %s", c.rows, got, c.want)
		}
	}
}

// fakeSession is a minimal session double: it records every Exec call and
// fails every Exec while execErr is set, otherwise reporting rowsPerExec.
type fakeSession struct {
	execs      []string
	execErr    error
	rowsPerExec int64
}

func (f *fakeSession) Exec(_ context.Context, sql string, _ ...any) (int64, error) {
	f.execs = append(f.execs, sql)
	if f.execErr != nil {
		return 0, f.execErr
	}
	return f.rowsPerExec, nil
}

func (f *fakeSession) RawConn() *pgx.Conn { return nil }

// singleSource hands out the same underlying session on every Acquire,
// tracking how many times the loader acquired and released it — enough to
// exercise the fresh-session-per-attempt contract without a real pool.
type singleSource struct {
	sess          session
	acquireCalls  int
	releaseCalls  int
}

func (s *singleSource) Acquire(_ context.Context) (session, error) {
	s.acquireCalls++
	return s.sess, nil
}

func (s *singleSource) Release(_ session) {
	s.releaseCalls++
}

func TestSingleInsertExecutesOncePerRow(t *testing.T) {
	loader := NewBulkLoader(DefaultConfig())
	sess := &fakeSession{rowsPerExec: 1}
	job := BulkJob{Table: "widgets", Columns: []string{"id", "name"}, Rows: [][]any{{1, "a"}, {2, "b"}, {3, "c"}}}

	result, err := loader.Load(context.Background(), &singleSource{sess: sess}, job)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Method != MethodSingleInsert {
		t.Fatalf("expected single_insert, got %s", result.Method)
	}
	if result.RowsAffected != 3 {
		t.Fatalf("expected 3 rows affected, got %d", result.RowsAffected)
	}
	if len(sess.execs) != 3 {
		t.Fatalf("expected 3 Exec calls, got %d", len(sess.execs))
	}
}

func TestMultiValuesBatchesIntoChunksOfUpTo500(t *testing.T) {
	loader := NewBulkLoader(DefaultConfig())
	sess := &fakeSession{rowsPerExec: 500}
	rows := make([][]any, 600)
	for i := range rows {
		rows[i] = []any{i}
	}
	job := BulkJob{Table: "widgets", Columns: []string{"id"}, Rows: rows}

	result, err := loader.Load(context.Background(), &singleSource{sess: sess}, job)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if result.Method != MethodMultiValues {
		t.Fatalf("expected multi_values, got %s", result.Method)
	}
	if len(sess.execs) != 2 {
		t.Fatalf("expected 2 batched statements for 600 rows, got %d", len(sess.execs))
	}
}

func TestBuildConflictClauseTranslatesPolicies(t *testing.T) {
	ignoreJob := BulkJob{ConflictPolicy: ConflictIgnore, ConflictTarget: []string{"id"}}
	if got := buildConflictClause(ignoreJob); got != ` ON CONFLICT ("id") DO NOTHING` {
		t.Errorf("unexpected ignore clause: %q", got)
	}

	updateJob := BulkJob{
		Columns:        []string{"id", "name", "updated_at"},
		ConflictPolicy: ConflictUpdate,
		ConflictTarget: []string{"id"},
	}
	got := buildConflictClause(updateJob)
	want := ` ON CONFLICT ("id") DO UPDATE SET "name" = EXCLUDED."name", "updated_at" = EXCLUDED."updated_at"`
	if got != want {
		t.Errorf("unexpected update clause:\n got  %q\n want %q", got, want)
	}

	errJob := BulkJob{ConflictPolicy: ConflictError}
	if got := buildConflictClause(errJob); got != "" {
		t.Errorf("expected empty clause for ConflictError, got %q", got)
	}
}

func TestLoadRetriesTransientFailureThenSucceeds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.InitialBackoff = 0
	loader := NewBulkLoader(cfg)
	sess := &retryingSession{failuresRemaining: 2, rowsPerExec: 1}
	job := BulkJob{Table: "widgets", Columns: []string{"id"}, Rows: [][]any{{1}}}

	src := &singleSource{sess: sess}
	result, err := loader.Load(context.Background(), src, job)
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if result.Attempts != 3 {
		t.Fatalf("expected 3 attempts (2 failures + 1 success), got %d", result.Attempts)
	}
	if src.acquireCalls != 3 || src.releaseCalls != 3 {
		t.Fatalf("expected a fresh session acquired and released per attempt, got acquire=%d release=%d", src.acquireCalls, src.releaseCalls)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 recorded errors from the failed attempts, got %v", result.Errors)
	}
}

func TestLoadStopsRetryingOnPermanentError(t *testing.T) {
	loader := NewBulkLoader(DefaultConfig())
	sess := &fakeSession{execErr: &pgconn.PgError{Code: "23505"}} // unique_violation
	job := BulkJob{Table: "widgets", Columns: []string{"id"}, Rows: [][]any{{1}}}

	_, err := loader.Load(context.Background(), &singleSource{sess: sess}, job)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(sess.execs) != 1 {
		t.Fatalf("expected exactly 1 attempt for a permanent error, got %d", len(sess.execs))
	}
}

// retryingSession fails its Exec calls with a transient error for the first
// failuresRemaining calls, then succeeds.
type retryingSession struct {
	failuresRemaining int
	rowsPerExec       int64
	calls             int
}

func (r *retryingSession) Exec(_ context.Context, _ string, _ ...any) (int64, error) {
	r.calls++
	if r.failuresRemaining > 0 {
		r.failuresRemaining--
		return 0, &pgconn.PgError{Code: "40P01"} // deadlock_detected: transient
	}
	return r.rowsPerExec, nil
}

func (r *retryingSession) RawConn() *pgx.Conn { return nil }
