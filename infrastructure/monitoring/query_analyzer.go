package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// rowQuerier is the narrow slice of infrastructure/database.Session the
// monitoring package depends on, so it can be tested against a fake without
// a live backend.
type rowQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// queryAnalyzerEpsilon keeps variance_ratio finite for a query whose mean
// execution time rounds to zero.
const queryAnalyzerEpsilon = 1e-6

// QueryAnalyzerConfig tunes detection thresholds.
type QueryAnalyzerConfig struct {
	SlowQueryThresholdMs float64
	// SeqScanTableRowFloor is the minimum planner row estimate a table must
	// have before a sequential scan against it is worth flagging.
	SeqScanTableRowFloor float64
	// RowEstimateMismatchFactor flags a plan node when actual rows differ
	// from the planner's estimate by at least this multiple.
	RowEstimateMismatchFactor float64
	// HighVarianceRatio is the (max-min)/mean ratio above which a query's
	// execution time is considered unstable across calls.
	HighVarianceRatio float64
	// PoorCacheLocalityFloor is the shared_blks_hit/(hit+read) ratio below
	// which a query is reading too much from disk relative to cache.
	PoorCacheLocalityFloor float64
	// CriticalSlowFactor marks a slow_mean issue critical instead of warn
	// once the mean exceeds SlowQueryThresholdMs by this multiple.
	CriticalSlowFactor float64
	TopN               int
}

// DefaultQueryAnalyzerConfig mirrors the configuration surface's published
// defaults: a 100ms mean-latency floor, 10k-row floor before a seq scan
// matters, 10x estimate drift, 5x variance ratio, and 50% cache locality.
func DefaultQueryAnalyzerConfig() QueryAnalyzerConfig {
	return QueryAnalyzerConfig{
		SlowQueryThresholdMs:      100,
		SeqScanTableRowFloor:      10_000,
		RowEstimateMismatchFactor: 10,
		HighVarianceRatio:         5,
		PoorCacheLocalityFloor:    0.5,
		CriticalSlowFactor:        3,
		TopN:                      50,
	}
}

// QueryAnalyzer reads pg_stat_statements and EXPLAIN output to surface slow,
// regressed, and poorly-planned queries.
type QueryAnalyzer struct {
	db   rowQuerier
	cfg  QueryAnalyzerConfig
	prev map[string]QueryStat // last pass's cumulative counters, for regression detection
}

// NewQueryAnalyzer builds an analyzer over db using cfg.
func NewQueryAnalyzer(db rowQuerier, cfg QueryAnalyzerConfig) *QueryAnalyzer {
	return &QueryAnalyzer{db: db, cfg: cfg, prev: make(map[string]QueryStat)}
}

// Rebind points the analyzer at a new rowQuerier (a freshly acquired
// Session, typically), keeping accumulated regression-detection state.
func (a *QueryAnalyzer) Rebind(db rowQuerier) {
	a.db = db
}

// TopQueries returns the TopN queries by mean execution time from
// pg_stat_statements.
func (a *QueryAnalyzer) TopQueries(ctx context.Context) ([]QueryStat, error) {
	const query = `
		SELECT
			queryid::text,
			query,
			calls,
			total_exec_time,
			mean_exec_time,
			min_exec_time,
			max_exec_time,
			rows,
			shared_blks_hit,
			shared_blks_read
		FROM pg_stat_statements
		ORDER BY mean_exec_time DESC
		LIMIT $1
	`
	rows, err := a.db.Query(ctx, query, a.cfg.TopN)
	if err != nil {
		return nil, fmt.Errorf("monitoring: top queries: %w", err)
	}
	defer rows.Close()

	var out []QueryStat
	for rows.Next() {
		var s QueryStat
		if err := rows.Scan(&s.QueryID, &s.Query, &s.Calls, &s.TotalTimeMs, &s.MeanTimeMs,
			&s.MinTimeMs, &s.MaxTimeMs, &s.Rows, &s.SharedBlksHit, &s.SharedBlksRd); err != nil {
			return nil, fmt.Errorf("monitoring: scan query stat: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// AnalyzePlan decodes an EXPLAIN (FORMAT JSON) result and returns the issues
// it reveals for the query identified by stat. planJSON is the raw text
// Postgres returns for EXPLAIN (FORMAT JSON) — a single-element array
// wrapping the root Plan node. Derived metrics (cache_locality,
// variance_ratio) and the unparameterized-literal check run off stat alone
// and don't require a plan at all; an empty/stub planJSON only suppresses
// the seq-scan and row-estimate-mismatch checks.
func (a *QueryAnalyzer) AnalyzePlan(stat QueryStat, planJSON []byte, now time.Time) ([]QueryIssue, error) {
	var wrapped []struct {
		Plan Plan `json:"Plan"`
	}
	if len(planJSON) > 0 {
		if err := json.Unmarshal(planJSON, &wrapped); err != nil {
			return nil, fmt.Errorf("monitoring: decode plan json: %w", err)
		}
	}

	var issues []QueryIssue
	if len(wrapped) > 0 {
		walkPlan(wrapped[0].Plan, func(node Plan) {
			if node.NodeType == "Seq Scan" && node.PlanRows >= a.cfg.SeqScanTableRowFloor {
				table := node.RelationName
				if table == "" {
					table = tableFromQuery(stat.Query)
				}
				issues = append(issues, QueryIssue{
					Kind:           IssueSeqScanOnLargeTable,
					Severity:       SeverityCritical,
					QueryID:        stat.QueryID,
					Query:          stat.Query,
					Table:          table,
					Columns:        filterColumns(stat.Query),
					MeanTimeMs:     stat.MeanTimeMs,
					Calls:          stat.Calls,
					Detail:         fmt.Sprintf("sequential scan on %q estimated at %.0f rows", table, node.PlanRows),
					Recommendation: "add an index covering the scanned predicate columns",
					DetectedAt:     now,
				})
			}
			if node.ActualRows > 0 && node.PlanRows > 0 {
				ratio := node.ActualRows / node.PlanRows
				if ratio >= a.cfg.RowEstimateMismatchFactor || (ratio > 0 && 1/ratio >= a.cfg.RowEstimateMismatchFactor) {
					issues = append(issues, QueryIssue{
						Kind:           IssueRowEstimateMismatch,
						Severity:       SeverityInfo,
						QueryID:        stat.QueryID,
						Query:          stat.Query,
						MeanTimeMs:     stat.MeanTimeMs,
						Calls:          stat.Calls,
						Detail:         fmt.Sprintf("planner estimated %.0f rows, actual was %.0f", node.PlanRows, node.ActualRows),
						Recommendation: "run ANALYZE to refresh planner statistics",
						DetectedAt:     now,
					})
				}
			}
		})
	}

	if stat.MeanTimeMs >= a.cfg.SlowQueryThresholdMs {
		severity := SeverityWarn
		if a.cfg.CriticalSlowFactor > 0 && stat.MeanTimeMs >= a.cfg.SlowQueryThresholdMs*a.cfg.CriticalSlowFactor {
			severity = SeverityCritical
		}
		issues = append(issues, QueryIssue{
			Kind:           IssueSlowMean,
			Severity:       severity,
			QueryID:        stat.QueryID,
			Query:          stat.Query,
			MeanTimeMs:     stat.MeanTimeMs,
			Calls:          stat.Calls,
			Detail:         fmt.Sprintf("mean execution time %.1fms exceeds %.1fms threshold", stat.MeanTimeMs, a.cfg.SlowQueryThresholdMs),
			Recommendation: "review the query plan and consider adding a supporting index",
			DetectedAt:     now,
		})
	}

	if locality := cacheLocality(stat); locality < a.cfg.PoorCacheLocalityFloor {
		issues = append(issues, QueryIssue{
			Kind:           IssuePoorCacheLocality,
			Severity:       SeverityWarn,
			QueryID:        stat.QueryID,
			Query:          stat.Query,
			MeanTimeMs:     stat.MeanTimeMs,
			Calls:          stat.Calls,
			Detail:         fmt.Sprintf("cache locality %.2f below floor %.2f (%d blocks hit, %d read)", locality, a.cfg.PoorCacheLocalityFloor, stat.SharedBlksHit, stat.SharedBlksRd),
			Recommendation: "increase shared_buffers or pre-warm the table's working set",
			DetectedAt:     now,
		})
	}

	if variance := varianceRatio(stat); variance > a.cfg.HighVarianceRatio {
		issues = append(issues, QueryIssue{
			Kind:           IssueHighVariance,
			Severity:       SeverityInfo,
			QueryID:        stat.QueryID,
			Query:          stat.Query,
			MeanTimeMs:     stat.MeanTimeMs,
			Calls:          stat.Calls,
			Detail:         fmt.Sprintf("execution time variance ratio %.1f exceeds %.1f (min %.1fms, max %.1fms, mean %.1fms)", variance, a.cfg.HighVarianceRatio, stat.MinTimeMs, stat.MaxTimeMs, stat.MeanTimeMs),
			Recommendation: "investigate parameter-sensitive plans or stale statistics",
			DetectedAt:     now,
		})
	}

	if looksUnparameterized(stat.Query) {
		issues = append(issues, QueryIssue{
			Kind:           IssueUnparameterized,
			Severity:       SeverityWarn,
			QueryID:        stat.QueryID,
			Query:          stat.Query,
			MeanTimeMs:     stat.MeanTimeMs,
			Calls:          stat.Calls,
			Detail:         "statement text contains literal values where bind parameters would be expected",
			Recommendation: "use bind parameters instead of inlined literals to enable plan caching",
			DetectedAt:     now,
		})
	}

	if prev, ok := a.prev[stat.QueryID]; ok && prev.MeanTimeMs > 0 {
		if stat.MeanTimeMs >= prev.MeanTimeMs*2 {
			issues = append(issues, QueryIssue{
				Kind:           IssueRegressed,
				Severity:       SeverityWarn,
				QueryID:        stat.QueryID,
				Query:          stat.Query,
				MeanTimeMs:     stat.MeanTimeMs,
				Calls:          stat.Calls,
				Detail:         fmt.Sprintf("mean execution time doubled since last pass (%.1fms -> %.1fms)", prev.MeanTimeMs, stat.MeanTimeMs),
				Recommendation: "compare recent plan or statistics changes for this fingerprint",
				DetectedAt:     now,
			})
		}
	}
	a.prev[stat.QueryID] = stat

	return issues, nil
}

// cacheLocality is shared_blks_hit / (shared_blks_hit + shared_blks_read + 1).
func cacheLocality(stat QueryStat) float64 {
	return float64(stat.SharedBlksHit) / float64(stat.SharedBlksHit+stat.SharedBlksRd+1)
}

// varianceRatio is (max_time - min_time) / (mean_time + epsilon).
func varianceRatio(stat QueryStat) float64 {
	return (stat.MaxTimeMs - stat.MinTimeMs) / (stat.MeanTimeMs + queryAnalyzerEpsilon)
}

var (
	placeholderPattern = regexp.MustCompile(`\$\d+`)
	literalPattern     = regexp.MustCompile(`(?i)(?:=|<|>|<=|>=)\s*(?:'[^']*'|\d+(?:\.\d+)?\b)`)
	filterColumnPattern = regexp.MustCompile(`(?i)(?:WHERE|AND)\s+([a-zA-Z_][a-zA-Z0-9_.]*)\s*(?:=|<|>|<=|>=|IN|LIKE)`)
	fromTablePattern   = regexp.MustCompile(`(?i)FROM\s+([a-zA-Z_][a-zA-Z0-9_.]*)`)
)

// looksUnparameterized flags a statement that embeds a literal constant
// directly in a comparison instead of using a $N bind parameter anywhere in
// the text — a heuristic, not a SQL parser, but enough to catch the
// common "hand-built query string" mistake.
func looksUnparameterized(query string) bool {
	if placeholderPattern.MatchString(query) {
		return false
	}
	return literalPattern.MatchString(query)
}

// filterColumns extracts the column names that follow WHERE/AND in query,
// best-effort, for bucketing missing-index candidates by predicate column.
func filterColumns(query string) []string {
	matches := filterColumnPattern.FindAllStringSubmatch(query, -1)
	if len(matches) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(matches))
	var cols []string
	for _, m := range matches {
		col := strings.ToLower(m[1])
		if seen[col] {
			continue
		}
		seen[col] = true
		cols = append(cols, col)
	}
	return cols
}

// tableFromQuery extracts the first FROM-clause table name, used when the
// EXPLAIN plan's "Relation Name" is unavailable (e.g. EXPLAIN was skipped).
func tableFromQuery(query string) string {
	m := fromTablePattern.FindStringSubmatch(query)
	if m == nil {
		return ""
	}
	return m[1]
}

func walkPlan(node Plan, visit func(Plan)) {
	visit(node)
	for _, child := range node.Plans {
		walkPlan(child, visit)
	}
}
