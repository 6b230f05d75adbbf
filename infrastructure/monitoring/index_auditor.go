package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// IndexAuditorConfig tunes detection thresholds.
type IndexAuditorConfig struct {
	// MinScansBeforeUsed is the idx_scan floor below which an index is
	// reported unused. Zero keeps the strict "never scanned" definition.
	MinScansBeforeUsed int64
	// MinAgeDays is how old (by CreatedAt estimate) an index must be before
	// a zero-scan reading is trusted enough to recommend dropping it — a
	// freshly created index naturally has no scans yet.
	MinAgeDays int
	// BloatThreshold is the bloat percentage above which a table is worth
	// flagging.
	BloatThreshold float64
	MinBloatBytes  int64
}

// DefaultIndexAuditorConfig matches the configuration surface's published
// defaults: any index with zero scans older than a week is unused, and
// bloat is worth mentioning past 20% / 10MB.
func DefaultIndexAuditorConfig() IndexAuditorConfig {
	return IndexAuditorConfig{
		MinScansBeforeUsed: 0,
		MinAgeDays:         7,
		BloatThreshold:     20.0,
		MinBloatBytes:      10 * 1024 * 1024,
	}
}

// IndexAuditor enumerates pg_class/pg_index/pg_stat_user_indexes to find
// missing, unused, duplicate, redundant-prefix, and bloated indexes.
type IndexAuditor struct {
	db  rowQuerier
	cfg IndexAuditorConfig
}

// NewIndexAuditor builds an auditor over db using cfg.
func NewIndexAuditor(db rowQuerier, cfg IndexAuditorConfig) *IndexAuditor {
	return &IndexAuditor{db: db, cfg: cfg}
}

// Rebind points the auditor at a new rowQuerier (a freshly acquired Session).
func (a *IndexAuditor) Rebind(db rowQuerier) {
	a.db = db
}

// IndexProfiles returns every user index with its size, scan count, column
// list, and validity/uniqueness/partiality/primary-key flags.
func (a *IndexAuditor) IndexProfiles(ctx context.Context) ([]IndexProfile, error) {
	const query = `
		SELECT
			s.schemaname,
			s.relname,
			s.indexrelname,
			pg_relation_size(s.indexrelid),
			s.idx_scan,
			ix.indisunique,
			ix.indpred IS NOT NULL,
			ix.indisvalid,
			ix.indisprimary,
			(
				SELECT array_agg(a.attname ORDER BY k.ord)
				FROM unnest(ix.indkey) WITH ORDINALITY AS k(attnum, ord)
				JOIN pg_attribute a ON a.attrelid = ix.indrelid AND a.attnum = k.attnum
			),
			(pg_stat_file(pg_relation_filepath(s.indexrelid), true)).modification
		FROM pg_stat_user_indexes s
		JOIN pg_index ix ON ix.indexrelid = s.indexrelid
		ORDER BY pg_relation_size(s.indexrelid) DESC
	`
	rows, err := a.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("monitoring: index profiles: %w", err)
	}
	defer rows.Close()

	var out []IndexProfile
	for rows.Next() {
		var p IndexProfile
		if err := rows.Scan(&p.Schema, &p.Table, &p.Index, &p.SizeBytes, &p.IndexScans,
			&p.IsUnique, &p.IsPartial, &p.IsValid, &p.IsPrimary, &p.Columns, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("monitoring: scan index profile: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DuplicateGroups returns, for each table, the index name groups that share
// identical key columns, expressions, and predicates (pg_index grouped by
// indkey/indexprs/indpred) — candidates for consolidation.
func (a *IndexAuditor) DuplicateGroups(ctx context.Context) (map[string][][]string, error) {
	const query = `
		SELECT indrelid::regclass::text AS tablename, array_agg(indexrelid::regclass::text)
		FROM pg_index
		GROUP BY indrelid, indkey, indexprs, indpred
		HAVING count(*) > 1
	`
	rows, err := a.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("monitoring: duplicate groups: %w", err)
	}
	defer rows.Close()

	out := make(map[string][][]string)
	for rows.Next() {
		var table string
		var group []string
		if err := rows.Scan(&table, &group); err != nil {
			return nil, fmt.Errorf("monitoring: scan duplicate group: %w", err)
		}
		out[table] = append(out[table], group)
	}
	return out, rows.Err()
}

// TableProfiles returns size and bloat data for every user table.
func (a *IndexAuditor) TableProfiles(ctx context.Context) ([]TableProfile, error) {
	const query = `
		WITH bloat AS (
			SELECT
				schemaname,
				tablename,
				(pg_stat_get_live_tuples(c.oid) + pg_stat_get_dead_tuples(c.oid))
					* current_setting('block_size')::bigint - pg_table_size(c.oid) AS raw_waste
			FROM pg_stat_user_tables s
			JOIN pg_class c ON c.relname = s.tablename
				AND c.relnamespace = (SELECT oid FROM pg_namespace WHERE nspname = s.schemaname)
		)
		SELECT
			s.schemaname,
			s.tablename,
			pg_table_size(quote_ident(s.schemaname) || '.' || quote_ident(s.tablename)),
			pg_indexes_size(quote_ident(s.schemaname) || '.' || quote_ident(s.tablename)),
			s.n_live_tup,
			s.n_dead_tup,
			GREATEST(COALESCE(b.raw_waste, 0), 0),
			s.last_autovacuum,
			s.last_autoanalyze
		FROM pg_stat_user_tables s
		LEFT JOIN bloat b USING (schemaname, tablename)
	`
	rows, err := a.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("monitoring: table profiles: %w", err)
	}
	defer rows.Close()

	var out []TableProfile
	for rows.Next() {
		var t TableProfile
		if err := rows.Scan(&t.Schema, &t.Table, &t.TableSizeBytes, &t.IndexSizeBytes,
			&t.LiveTuples, &t.DeadTuples, &t.BloatBytes, &t.LastAutovacuum, &t.LastAutoanalyze); err != nil {
			return nil, fmt.Errorf("monitoring: scan table profile: %w", err)
		}
		if t.TableSizeBytes > 0 {
			t.BloatPercentage = float64(t.BloatBytes) / float64(t.TableSizeBytes) * 100
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Audit composes IndexProfiles, DuplicateGroups, and TableProfiles into a
// flat list of IndexFindings, including safe-apply DDL for the closed set
// (non-unique, non-partial CREATE INDEX). Only CREATE INDEX DDL is produced;
// no finding carries an ANALYZE statement.
// queryIssues supplies C4's IssueSeqScanOnLargeTable findings, bucketed by
// table and filter column to drive missing-index detection; now is the
// wall-clock time used to evaluate the unused-index age gate.
func (a *IndexAuditor) Audit(ctx context.Context, now time.Time, queryIssues []QueryIssue) ([]IndexFinding, error) {
	profiles, err := a.IndexProfiles(ctx)
	if err != nil {
		return nil, err
	}
	dupGroups, err := a.DuplicateGroups(ctx)
	if err != nil {
		return nil, err
	}
	tables, err := a.TableProfiles(ctx)
	if err != nil {
		return nil, err
	}

	existingCols := make(map[string][][]string)
	for _, p := range profiles {
		if p.IsValid && len(p.Columns) > 0 {
			existingCols[p.Table] = append(existingCols[p.Table], p.Columns)
		}
	}

	minAge := time.Duration(a.cfg.MinAgeDays) * 24 * time.Hour

	var findings []IndexFinding
	for _, p := range profiles {
		if !p.IsValid {
			findings = append(findings, IndexFinding{
				Kind:   FindingInvalidIndex,
				Schema: p.Schema,
				Table:  p.Table,
				Index:  p.Index,
				Detail: "index is marked invalid, likely from a failed CREATE INDEX CONCURRENTLY",
			})
			continue
		}
		if p.IsUnique || p.IsPrimary {
			// Enforces a constraint: never suggest dropping it, regardless
			// of scan count.
			continue
		}
		old := p.CreatedAt.IsZero() || now.Sub(p.CreatedAt) >= minAge
		if p.IndexScans <= a.cfg.MinScansBeforeUsed && old {
			findings = append(findings, IndexFinding{
				Kind:   FindingUnusedIndex,
				Schema: p.Schema,
				Table:  p.Table,
				Index:  p.Index,
				Detail: fmt.Sprintf("%d scans since stats reset", p.IndexScans),
			})
		}
	}

	for table, groups := range dupGroups {
		for _, group := range groups {
			findings = append(findings, IndexFinding{
				Kind:   FindingDuplicateIndex,
				Table:  table,
				Detail: fmt.Sprintf("indexes %v are structurally identical", group),
			})
		}
	}

	findings = append(findings, redundantPrefixFindings(profiles)...)
	findings = append(findings, missingIndexFindings(queryIssues, existingCols)...)
	findings = append(findings, bloatFindings(tables, a.cfg)...)

	return findings, nil
}

// redundantPrefixFindings flags a non-unique index whose column list is a
// strict prefix of another index's on the same table — every query the
// prefix index serves, the longer index already serves too.
func redundantPrefixFindings(profiles []IndexProfile) []IndexFinding {
	byTable := make(map[string][]IndexProfile)
	for _, p := range profiles {
		if p.IsValid && len(p.Columns) > 0 {
			byTable[p.Table] = append(byTable[p.Table], p)
		}
	}

	var out []IndexFinding
	for table, idxs := range byTable {
		for _, a := range idxs {
			if a.IsUnique || a.IsPrimary {
				continue
			}
			for _, b := range idxs {
				if a.Index == b.Index {
					continue
				}
				if isStrictColumnPrefix(a.Columns, b.Columns) {
					out = append(out, IndexFinding{
						Kind:    FindingRedundantPrefix,
						Schema:  a.Schema,
						Table:   table,
						Index:   a.Index,
						Columns: a.Columns,
						Detail:  fmt.Sprintf("columns %v are a strict prefix of index %q's columns %v", a.Columns, b.Index, b.Columns),
					})
					break
				}
			}
		}
	}
	return out
}

func isStrictColumnPrefix(a, b []string) bool {
	if len(a) == 0 || len(a) >= len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// missingIndexBucket accumulates qualifying_calls for one table+column-list
// combination surfaced by seq-scan QueryIssues.
type missingIndexBucket struct {
	table   string
	columns []string
	calls   int64
}

// missingIndexFindings buckets C4's seq-scan issues by table and filter
// columns, suppressing any bucket an existing index already covers as a
// column prefix, and emits a confidence-scored finding with ready-to-apply
// DDL for the rest.
func missingIndexFindings(issues []QueryIssue, existingCols map[string][][]string) []IndexFinding {
	buckets := make(map[string]*missingIndexBucket)
	var order []string
	for _, iss := range issues {
		if iss.Kind != IssueSeqScanOnLargeTable || iss.Table == "" || len(iss.Columns) == 0 {
			continue
		}
		key := iss.Table + "|" + strings.Join(iss.Columns, ",")
		b, ok := buckets[key]
		if !ok {
			b = &missingIndexBucket{table: iss.Table, columns: iss.Columns}
			buckets[key] = b
			order = append(order, key)
		}
		b.calls += iss.Calls
	}

	var out []IndexFinding
	for _, key := range order {
		b := buckets[key]
		if hasPrefixIndex(existingCols[b.table], b.columns) {
			continue
		}
		confidence := float64(b.calls) / 100
		if confidence > 1 {
			confidence = 1
		}
		out = append(out, IndexFinding{
			Kind:       FindingMissingIndex,
			Table:      b.table,
			Columns:    b.columns,
			Confidence: confidence,
			Detail:     fmt.Sprintf("%d calls hit a sequential scan filtering on %v with no supporting index", b.calls, b.columns),
			DDL:        fmt.Sprintf("CREATE INDEX ON %s (%s)", b.table, strings.Join(b.columns, ", ")),
		})
	}
	return out
}

func hasPrefixIndex(existing [][]string, cols []string) bool {
	for _, e := range existing {
		if isColumnPrefixOrEqual(cols, e) {
			return true
		}
	}
	return false
}

func isColumnPrefixOrEqual(cols, existing []string) bool {
	if len(cols) > len(existing) {
		return false
	}
	for i := range cols {
		if cols[i] != existing[i] {
			return false
		}
	}
	return true
}

// bloatFindings flags tables whose estimated bloat fraction and absolute
// size both exceed cfg's thresholds.
func bloatFindings(tables []TableProfile, cfg IndexAuditorConfig) []IndexFinding {
	var out []IndexFinding
	for _, t := range tables {
		if t.BloatPercentage > cfg.BloatThreshold && t.BloatBytes > cfg.MinBloatBytes {
			out = append(out, IndexFinding{
				Kind:   FindingBloated,
				Schema: t.Schema,
				Table:  t.Table,
				Detail: fmt.Sprintf("estimated bloat %.1f%% (%d bytes) exceeds %.1f%% / %d byte thresholds", t.BloatPercentage, t.BloatBytes, cfg.BloatThreshold, cfg.MinBloatBytes),
			})
		}
	}
	return out
}
