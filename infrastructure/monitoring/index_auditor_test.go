package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestAuditFlagsUnusedAndInvalidIndexes(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{ // IndexProfiles
				{"public", "orders", "orders_unused_idx", int64(4096), int64(0), false, false, true},
				{"public", "orders", "orders_pkey", int64(8192), int64(500), true, false, true},
				{"public", "orders", "orders_busted_idx", int64(2048), int64(3), false, false, false},
			},
			{}, // DuplicateGroups: none
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	findings, err := auditor.Audit(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	var sawUnused, sawInvalid, sawPKey bool
	for _, f := range findings {
		switch {
		case f.Index == "orders_unused_idx" && f.Kind == FindingUnusedIndex:
			sawUnused = true
		case f.Index == "orders_busted_idx" && f.Kind == FindingInvalidIndex:
			sawInvalid = true
		case f.Index == "orders_pkey":
			sawPKey = true
		}
	}
	if !sawUnused {
		t.Errorf("expected unused index finding, got %+v", findings)
	}
	if !sawInvalid {
		t.Errorf("expected invalid index finding, got %+v", findings)
	}
	if sawPKey {
		t.Errorf("did not expect a finding for the actively-scanned primary key, got %+v", findings)
	}
}

func TestAuditFlagsDuplicateIndexGroups(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{ // IndexProfiles: both valid and used, so no unused/invalid findings
				{"public", "events", "events_user_id_idx", int64(4096), int64(10), false, false, true},
				{"public", "events", "events_user_id_idx2", int64(4096), int64(10), false, false, true},
			},
			{ // DuplicateGroups
				{"events", []string{"events_user_id_idx", "events_user_id_idx2"}},
			},
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	findings, err := auditor.Audit(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}

	found := false
	for _, f := range findings {
		if f.Kind == FindingDuplicateIndex && f.Table == "events" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected duplicate index finding for events, got %+v", findings)
	}
}

func TestTableProfilesComputesBloatPercentage(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{
				{"public", "orders", int64(1000), int64(200), int64(10000), int64(5000), int64(250), nil, nil},
			},
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	profiles, err := auditor.TableProfiles(context.Background())
	if err != nil {
		t.Fatalf("table profiles: %v", err)
	}
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	if profiles[0].BloatPercentage != 25.0 {
		t.Fatalf("expected 25%% bloat (250/1000), got %.2f", profiles[0].BloatPercentage)
	}
}

func TestAuditSkipsUnusedIndexYoungerThanAgeFloor(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{ // IndexProfiles: zero scans, but CreatedAt one hour ago
				{"public", "orders", "orders_fresh_idx", int64(4096), int64(0), false, false, true, false,
					[]string{"status"}, time.Now().Add(-time.Hour)},
			},
			{}, // DuplicateGroups
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	findings, err := auditor.Audit(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	for _, f := range findings {
		if f.Index == "orders_fresh_idx" {
			t.Fatalf("did not expect a finding for an index younger than the age floor, got %+v", f)
		}
	}
}

func TestAuditFlagsMissingIndexFromSeqScanIssues(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{}, // IndexProfiles: no existing index on orders(status)
			{}, // DuplicateGroups
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	issues := []QueryIssue{
		{Kind: IssueSeqScanOnLargeTable, Table: "orders", Columns: []string{"status"}, Calls: 40},
		{Kind: IssueSeqScanOnLargeTable, Table: "orders", Columns: []string{"status"}, Calls: 30},
	}
	findings, err := auditor.Audit(context.Background(), time.Now(), issues)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	found := false
	for _, f := range findings {
		if f.Kind == FindingMissingIndex && f.Table == "orders" {
			found = true
			if len(f.Columns) != 1 || f.Columns[0] != "status" {
				t.Fatalf("expected columns [status], got %v", f.Columns)
			}
			if f.Confidence != 0.70 {
				t.Fatalf("expected confidence 0.70 (70 calls / 100), got %.2f", f.Confidence)
			}
			if f.DDL != "CREATE INDEX ON orders (status)" {
				t.Fatalf("unexpected ddl: %q", f.DDL)
			}
		}
	}
	if !found {
		t.Fatalf("expected missing_index finding, got %+v", findings)
	}
}

func TestAuditSuppressesMissingIndexWhenCoveringIndexExists(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{ // IndexProfiles: orders already has an index covering (status, created_at)
				{"public", "orders", "orders_status_created_idx", int64(4096), int64(50), false, false, true, false,
					[]string{"status", "created_at"}, time.Time{}},
			},
			{}, // DuplicateGroups
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	issues := []QueryIssue{
		{Kind: IssueSeqScanOnLargeTable, Table: "orders", Columns: []string{"status"}, Calls: 500},
	}
	findings, err := auditor.Audit(context.Background(), time.Now(), issues)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	for _, f := range findings {
		if f.Kind == FindingMissingIndex {
			t.Fatalf("did not expect missing_index finding when a covering index already exists, got %+v", f)
		}
	}
}

func TestAuditFlagsRedundantPrefixIndex(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{ // IndexProfiles: idx_a is a strict prefix of idx_b on the same table
				{"public", "orders", "orders_status_idx", int64(4096), int64(10), false, false, true, false,
					[]string{"status"}, time.Time{}},
				{"public", "orders", "orders_status_created_idx", int64(8192), int64(40), false, false, true, false,
					[]string{"status", "created_at"}, time.Time{}},
			},
			{}, // DuplicateGroups
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	findings, err := auditor.Audit(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	found := false
	for _, f := range findings {
		if f.Kind == FindingRedundantPrefix && f.Index == "orders_status_idx" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected redundant_prefix finding for orders_status_idx, got %+v", findings)
	}
}

func TestAuditFlagsBloatedTable(t *testing.T) {
	fq := &fakeQuerier{
		queryResults: [][][]any{
			{}, // IndexProfiles
			{}, // DuplicateGroups
			{ // TableProfiles: 40% bloat, well above the 20%/10MB floor
				{"public", "events", int64(100 * 1024 * 1024), int64(0), int64(1_000_000), int64(600_000),
					int64(40 * 1024 * 1024), nil, nil},
			},
		},
	}
	auditor := NewIndexAuditor(fq, DefaultIndexAuditorConfig())
	findings, err := auditor.Audit(context.Background(), time.Now(), nil)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	found := false
	for _, f := range findings {
		if f.Kind == FindingBloated && f.Table == "events" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected bloated finding for events, got %+v", findings)
	}
}
