package bulkload

import (
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
)

func quoteIdent(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func quoteAll(names []string) []string {
	out := make([]string, len(names))
	for i, n := range names {
		out[i] = quoteIdent(n)
	}
	return out
}

// buildInsertSQL builds a single-row INSERT with $1..$n placeholders plus
// job's conflict clause.
func buildInsertSQL(job BulkJob, columns []string) string {
	placeholders := make([]string, len(columns))
	for i := range placeholders {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(job.Table), strings.Join(quoteAll(columns), ", "), strings.Join(placeholders, ", "))
	return sql + buildConflictClause(job)
}

// buildMultiValuesSQL builds a single INSERT with rowCount VALUES tuples,
// each referencing its own block of positional placeholders.
func buildMultiValuesSQL(job BulkJob, rowCount int) string {
	width := len(job.Columns)
	tuples := make([]string, rowCount)
	n := 1
	for r := 0; r < rowCount; r++ {
		placeholders := make([]string, width)
		for c := 0; c < width; c++ {
			placeholders[c] = fmt.Sprintf("$%d", n)
			n++
		}
		tuples[r] = "(" + strings.Join(placeholders, ", ") + ")"
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		quoteIdent(job.Table), strings.Join(quoteAll(job.Columns), ", "), strings.Join(tuples, ", "))
	return sql + buildConflictClause(job)
}

// buildConflictClause translates job.ConflictPolicy into the ON CONFLICT
// clause insert-style methods append. copy_from never calls this directly;
// it is used on the INSERT ... SELECT that folds a staging table into the
// target.
func buildConflictClause(job BulkJob) string {
	switch job.ConflictPolicy {
	case "", ConflictError:
		return ""
	case ConflictIgnore:
		if len(job.ConflictTarget) == 0 {
			return " ON CONFLICT DO NOTHING"
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", strings.Join(quoteAll(job.ConflictTarget), ", "))
	case ConflictUpdate:
		updateCols := job.UpdateColumns
		if len(updateCols) == 0 {
			updateCols = nonTargetColumns(job.Columns, job.ConflictTarget)
		}
		sets := make([]string, len(updateCols))
		for i, c := range updateCols {
			q := quoteIdent(c)
			sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", q, q)
		}
		return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s",
			strings.Join(quoteAll(job.ConflictTarget), ", "), strings.Join(sets, ", "))
	default:
		return ""
	}
}

func nonTargetColumns(columns, target []string) []string {
	targetSet := make(map[string]struct{}, len(target))
	for _, t := range target {
		targetSet[t] = struct{}{}
	}
	out := make([]string, 0, len(columns))
	for _, c := range columns {
		if _, excluded := targetSet[c]; !excluded {
			out = append(out, c)
		}
	}
	return out
}
