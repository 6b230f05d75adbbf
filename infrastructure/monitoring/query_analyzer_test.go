package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestTopQueriesScansRows(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{
				{"q1", "SELECT 1", int64(10), 100.0, 10.0, 5.0, 20.0, int64(10), int64(5), int64(1)},
			},
		},
	}
	a := NewQueryAnalyzer(fq, DefaultQueryAnalyzerConfig())
	stats, err := a.TopQueries(context.Background())
	if err != nil {
		t.Fatalf("top queries: %v", err)
	}
	if len(stats) != 1 || stats[0].QueryID != "q1" || stats[0].MeanTimeMs != 10.0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAnalyzePlanDetectsSeqScanOnLargeTable(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q1", Query: "SELECT * FROM big_table", MeanTimeMs: 5}
	planJSON := []byte(`[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "big_table", "Plan Rows": 50000, "Total Cost": 900}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssueSeqScanOnLargeTable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected seq scan issue, got %+v", issues)
	}
}

func TestAnalyzePlanIgnoresSeqScanOnSmallTable(t *testing.T) {
	cfg := DefaultQueryAnalyzerConfig()
	a := NewQueryAnalyzer(&fakeQuerier{}, cfg)
	stat := QueryStat{QueryID: "q2", Query: "SELECT * FROM small_table", MeanTimeMs: 1}
	planJSON := []byte(`[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "small_table", "Plan Rows": 10, "Total Cost": 1}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	for _, iss := range issues {
		if iss.Kind == IssueSeqScanOnLargeTable {
			t.Fatalf("did not expect seq scan issue on small table, got %+v", issues)
		}
	}
}

func TestAnalyzePlanDetectsSlowQuery(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q3", Query: "SELECT pg_sleep(2)", MeanTimeMs: 2500}
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssueSlowMean {
			found = true
			if iss.Severity != SeverityCritical {
				t.Fatalf("expected critical severity for a 25x-over-threshold mean, got %q", iss.Severity)
			}
		}
	}
	if !found {
		t.Fatalf("expected slow_mean issue, got %+v", issues)
	}
}

func TestAnalyzePlanDetectsHighVariance(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q5", Query: "SELECT 1", MeanTimeMs: 10, MinTimeMs: 1, MaxTimeMs: 100}
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssueHighVariance {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected high_variance issue for a 9.9x variance ratio, got %+v", issues)
	}
}

func TestAnalyzePlanDetectsPoorCacheLocality(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q6", Query: "SELECT 1", MeanTimeMs: 5, SharedBlksHit: 1, SharedBlksRd: 100}
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssuePoorCacheLocality {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected poor_cache_locality issue when reads dominate hits, got %+v", issues)
	}
}

func TestAnalyzePlanDetectsUnparameterizedLiteral(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q7", Query: "SELECT * FROM orders WHERE status = 'shipped'", MeanTimeMs: 5}
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssueUnparameterized {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unparameterized issue for an inlined literal, got %+v", issues)
	}
}

func TestAnalyzePlanSkipsUnparameterizedWhenBindParamPresent(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q8", Query: "SELECT * FROM orders WHERE status = $1", MeanTimeMs: 5}
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	for _, iss := range issues {
		if iss.Kind == IssueUnparameterized {
			t.Fatalf("did not expect unparameterized issue for a bound query, got %+v", issues)
		}
	}
}

func TestAnalyzePlanSeqScanCarriesTableAndColumns(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	stat := QueryStat{QueryID: "q9", Query: "SELECT * FROM orders WHERE status = $1", MeanTimeMs: 180, Calls: 500}
	planJSON := []byte(`[{"Plan": {"Node Type": "Seq Scan", "Relation Name": "orders", "Plan Rows": 2000000, "Total Cost": 900}}]`)

	issues, err := a.AnalyzePlan(stat, planJSON, time.Now())
	if err != nil {
		t.Fatalf("analyze plan: %v", err)
	}
	for _, iss := range issues {
		if iss.Kind == IssueSeqScanOnLargeTable {
			if iss.Table != "orders" {
				t.Fatalf("expected table %q, got %q", "orders", iss.Table)
			}
			if len(iss.Columns) != 1 || iss.Columns[0] != "status" {
				t.Fatalf("expected columns [status], got %v", iss.Columns)
			}
			if iss.Severity != SeverityCritical {
				t.Fatalf("expected critical severity, got %q", iss.Severity)
			}
			return
		}
	}
	t.Fatalf("expected seq_scan_on_large_table issue, got %+v", issues)
}

func TestAnalyzePlanDetectsRegressionAcrossPasses(t *testing.T) {
	a := NewQueryAnalyzer(&fakeQuerier{}, DefaultQueryAnalyzerConfig())
	planJSON := []byte(`[{"Plan": {"Node Type": "Result", "Plan Rows": 1, "Total Cost": 0.01}}]`)

	first := QueryStat{QueryID: "q4", MeanTimeMs: 50}
	if _, err := a.AnalyzePlan(first, planJSON, time.Now()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	second := QueryStat{QueryID: "q4", MeanTimeMs: 150}
	issues, err := a.AnalyzePlan(second, planJSON, time.Now())
	if err != nil {
		t.Fatalf("second pass: %v", err)
	}
	found := false
	for _, iss := range issues {
		if iss.Kind == IssueRegressed {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected regressed issue after mean time tripled, got %+v", issues)
	}
}
