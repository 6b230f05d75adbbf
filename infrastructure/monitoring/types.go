// Package monitoring reads PostgreSQL's own catalog and statistics views
// (pg_stat_statements, pg_stat_user_tables, pg_stat_user_indexes, pg_class)
// and turns them into actionable findings: slow or poorly-planned queries,
// missing/unused/duplicate/bloated indexes, and buffer cache pressure.
package monitoring

import "time"

// Severity classifies how urgently a QueryIssue warrants attention.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarn     Severity = "warn"
	SeverityCritical Severity = "critical"
)

// QueryStat is one row of pg_stat_statements, normalized to this package's
// field names.
type QueryStat struct {
	QueryID       string
	Query         string
	Calls         int64
	TotalTimeMs   float64
	MeanTimeMs    float64
	MinTimeMs     float64
	MaxTimeMs     float64
	Rows          int64
	SharedBlksHit int64
	SharedBlksRd  int64
}

// Plan is a decoded EXPLAIN (FORMAT JSON) node tree, trimmed to the fields
// the Query Analyzer inspects for seq-scan and row-estimate-mismatch
// detection.
type Plan struct {
	NodeType     string  `json:"Node Type"`
	RelationName string  `json:"Relation Name,omitempty"`
	PlanRows     float64 `json:"Plan Rows"`
	ActualRows   float64 `json:"Actual Rows,omitempty"`
	TotalCost    float64 `json:"Total Cost"`
	Plans        []Plan  `json:"Plans,omitempty"`
}

// IssueKind enumerates the categories of query problem the analyzer reports.
type IssueKind string

const (
	IssueSeqScanOnLargeTable IssueKind = "seq_scan_on_large_table"
	IssueSlowMean            IssueKind = "slow_mean"
	IssueHighVariance        IssueKind = "high_variance"
	IssuePoorCacheLocality   IssueKind = "poor_cache_locality"
	IssueUnparameterized     IssueKind = "unparameterized"
	// IssueRowEstimateMismatch and IssueRegressed are additional findings
	// this analyzer raises beyond the baseline taxonomy above — the same
	// EXPLAIN plan and cross-pass statistics it already has in hand make
	// both cheap to detect and worth surfacing alongside the rest.
	IssueRowEstimateMismatch IssueKind = "row_estimate_mismatch"
	IssueRegressed           IssueKind = "regressed"
	// IssueExtensionMissing is reported once per cycle in place of real
	// findings when pg_stat_statements isn't preloaded; the analyzer
	// degrades to producing no other QueryIssues until it is restored.
	IssueExtensionMissing IssueKind = "extension_missing"
)

// QueryIssue is one finding raised against a single fingerprinted query.
// Table and Columns are populated only for IssueSeqScanOnLargeTable, where
// the index auditor's missing-index detection needs them to bucket
// workload demand by table and filter column.
type QueryIssue struct {
	Kind           IssueKind `json:"kind"`
	Severity       Severity  `json:"severity"`
	QueryID        string    `json:"query_id"`
	Query          string    `json:"query"`
	Table          string    `json:"table,omitempty"`
	Columns        []string  `json:"columns,omitempty"`
	MeanTimeMs     float64   `json:"mean_time_ms"`
	Calls          int64     `json:"calls"`
	Detail         string    `json:"detail"`
	Recommendation string    `json:"recommendation"`
	DetectedAt     time.Time `json:"detected_at"`
}

// TableProfile summarizes one user table's size and bloat.
type TableProfile struct {
	Schema          string     `json:"schema"`
	Table           string     `json:"table"`
	TableSizeBytes  int64      `json:"table_size_bytes"`
	IndexSizeBytes  int64      `json:"index_size_bytes"`
	LiveTuples      int64      `json:"live_tuples"`
	DeadTuples      int64      `json:"dead_tuples"`
	BloatBytes      int64      `json:"bloat_bytes"`
	BloatPercentage float64    `json:"bloat_percentage"`
	LastAutovacuum  *time.Time `json:"last_autovacuum,omitempty"`
	LastAutoanalyze *time.Time `json:"last_autoanalyze,omitempty"`
}

// IndexProfile summarizes one index's size, usage, and shape. CreatedAt is
// a best-effort estimate (pg_stat_file's modification time on the index's
// relation file) used only to gate the unused-index age floor; it is the
// zero value when the estimate can't be obtained, in which case the age
// gate is treated as satisfied rather than blocking the finding forever.
type IndexProfile struct {
	Schema     string    `json:"schema"`
	Table      string    `json:"table"`
	Index      string    `json:"index"`
	Columns    []string  `json:"columns,omitempty"`
	SizeBytes  int64     `json:"size_bytes"`
	IndexScans int64     `json:"index_scans"`
	IsUnique   bool      `json:"is_unique"`
	IsPrimary  bool      `json:"is_primary"`
	IsPartial  bool      `json:"is_partial"`
	IsValid    bool      `json:"is_valid"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// FindingKind enumerates the categories the index auditor reports.
type FindingKind string

const (
	FindingUnusedIndex     FindingKind = "unused_index"
	FindingDuplicateIndex  FindingKind = "duplicate_index"
	FindingInvalidIndex    FindingKind = "invalid_index"
	FindingMissingIndex    FindingKind = "missing_index"
	FindingRedundantPrefix FindingKind = "redundant_prefix"
	FindingBloated         FindingKind = "bloated"
)

// IndexFinding is one actionable index-level recommendation. DDL is
// populated only for findings in the safe-apply closed set (a non-unique,
// non-partial CREATE INDEX); it is empty for drop/merge recommendations,
// which always require a human to confirm the write-path impact.
type IndexFinding struct {
	Kind       FindingKind `json:"kind"`
	Schema     string      `json:"schema"`
	Table      string      `json:"table"`
	Index      string      `json:"index,omitempty"`
	Columns    []string    `json:"columns,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Detail     string      `json:"detail"`
	DDL        string      `json:"ddl,omitempty"`
}

// CacheSample is one point-in-time buffer cache reading: separate heap and
// index hit ratios (they degrade independently — a hot index on a cold
// table is a very different problem from the reverse), plus a buffer
// pressure proxy and a background-writer lag signal.
type CacheSample struct {
	Timestamp      time.Time `json:"timestamp"`
	HeapHitRatio   float64   `json:"heap_hit_ratio"`
	IndexHitRatio  float64   `json:"index_hit_ratio"`
	BuffersUsedPct float64   `json:"buffers_used_pct"`
	BgwriterLag    int64     `json:"bgwriter_lag"`
}

// CacheAlertKind distinguishes which cache metric crossed its floor.
type CacheAlertKind string

const (
	CacheAlertLowHeap            CacheAlertKind = "low_heap"
	CacheAlertLowIndex           CacheAlertKind = "low_index"
	CacheAlertHighBufferPressure CacheAlertKind = "high_buffer_pressure"
)

// CacheAlert fires the first time a sample crosses its kind's threshold,
// suppressed thereafter until CooldownUntil.
type CacheAlert struct {
	Kind          CacheAlertKind `json:"kind"`
	Timestamp     time.Time      `json:"timestamp"`
	Observed      float64        `json:"observed"`
	Threshold     float64        `json:"threshold"`
	CooldownUntil time.Time      `json:"cooldown_until"`
}
