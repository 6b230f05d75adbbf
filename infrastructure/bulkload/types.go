// Package bulkload loads batches of rows into PostgreSQL, picking the
// cheapest method that fits the batch size and target table, translating a
// conflict policy into the right SQL for whichever method is chosen, and
// retrying transient failures with backoff.
package bulkload

import "time"

// Method is the concrete load strategy BulkLoader chose for a job.
type Method string

const (
	MethodSingleInsert   Method = "single_insert"
	MethodMultiValues    Method = "multi_values"
	MethodPreparedBatch  Method = "prepared_batch"
	MethodCopyFrom       Method = "copy_from"
)

// ConflictPolicy controls what happens when a row collides with an existing
// one on a unique constraint.
type ConflictPolicy string

const (
	ConflictError  ConflictPolicy = "error"
	ConflictIgnore ConflictPolicy = "ignore"
	ConflictUpdate ConflictPolicy = "update"
)

// BulkJob describes one load request.
type BulkJob struct {
	Table          string
	Columns        []string
	Rows           [][]any
	ConflictPolicy ConflictPolicy
	// ConflictTarget names the columns forming the unique constraint an
	// ConflictUpdate/ConflictIgnore policy should key on. Required for
	// ConflictUpdate; under ConflictIgnore an empty target ignores conflicts
	// on any unique constraint.
	ConflictTarget []string
	// UpdateColumns lists the columns to overwrite on conflict when
	// ConflictPolicy is ConflictUpdate; defaults to all non-target columns.
	UpdateColumns []string
	MaxRetries    int
}

// BulkResult reports the outcome of a Load call. ConflictsSkipped is
// populated only when the staging-table conflict path ran under
// ConflictIgnore, where the difference between rows copied into staging and
// rows actually inserted is known exactly; it is zero otherwise, not an
// indication that nothing was skipped. Errors records the error text from
// every failed attempt, oldest first, so a caller that only wants the final
// BulkResult (not per-attempt logs) can still see what went wrong along the
// way.
type BulkResult struct {
	Method           Method        `json:"method"`
	RowsAffected     int64         `json:"rows_affected"`
	ConflictsSkipped int64         `json:"conflicts_skipped,omitempty"`
	Attempts         int           `json:"attempts"`
	Errors           []string      `json:"errors,omitempty"`
	Duration         time.Duration `json:"duration"`
}
