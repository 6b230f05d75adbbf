package monitoring

import (
	"context"
	"testing"
	"time"
)

func TestCacheMonitorFirstSampleEstablishesBaselineNoAlert(t *testing.T) {
	fq := &fakeQuerier{queryRowVals: [][]any{
		{int64(1000), int64(10)}, // heap
		{int64(500), int64(5)},   // index
		{int64(100), int64(0), int64(0)}, // bgwriter
	}}
	m := NewCacheMonitor(fq, DefaultCacheMonitorConfig())

	_, alert, err := m.Sample(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if alert != nil {
		t.Fatalf("expected no alert on baseline sample, got %+v", alert)
	}
	if len(m.Window()) != 0 {
		t.Fatalf("expected baseline sample not added to window, got %d entries", len(m.Window()))
	}
}

func TestCacheMonitorAlertsOnFirstHeapRatioCrossing(t *testing.T) {
	fq := &fakeQuerier{
		queryRowVals: [][]any{
			{int64(1000), int64(10)}, {int64(500), int64(5)}, {int64(100), int64(0), int64(0)}, // baseline
			{int64(1010), int64(990)}, {int64(510), int64(15)}, {int64(110), int64(0), int64(0)}, // heap delta ratio ~1%
		},
	}
	cfg := DefaultCacheMonitorConfig()
	m := NewCacheMonitor(fq, cfg)
	now := time.Now()

	if _, _, err := m.Sample(context.Background(), now); err != nil {
		t.Fatalf("baseline sample: %v", err)
	}
	_, alert, err := m.Sample(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if alert == nil {
		t.Fatal("expected cache alert when heap hit ratio drops far below floor")
	}
	if alert.Kind != CacheAlertLowHeap {
		t.Fatalf("expected low_heap alert, got %q", alert.Kind)
	}
}

func TestCacheMonitorAlertsOnIndexRatioWhenHeapHealthy(t *testing.T) {
	fq := &fakeQuerier{
		queryRowVals: [][]any{
			{int64(1000), int64(10)}, {int64(500), int64(5)}, {int64(100), int64(0), int64(0)}, // baseline
			{int64(2000), int64(20)}, {int64(510), int64(490)}, {int64(110), int64(0), int64(0)}, // heap delta ratio 1000/1010~.99, index delta 10/495~2%
		},
	}
	cfg := DefaultCacheMonitorConfig()
	m := NewCacheMonitor(fq, cfg)
	now := time.Now()

	if _, _, err := m.Sample(context.Background(), now); err != nil {
		t.Fatalf("baseline sample: %v", err)
	}
	_, alert, err := m.Sample(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if alert == nil || alert.Kind != CacheAlertLowIndex {
		t.Fatalf("expected low_index alert, got %+v", alert)
	}
}

func TestCacheMonitorCooldownSuppressesRepeatAlertsOfSameKind(t *testing.T) {
	fq := &fakeQuerier{
		queryRowVals: [][]any{
			{int64(1000), int64(10)}, {int64(500), int64(5)}, {int64(100), int64(0), int64(0)}, // baseline
			{int64(1010), int64(990)}, {int64(510), int64(15)}, {int64(110), int64(0), int64(0)}, // alert 1
			{int64(1020), int64(1970)}, {int64(520), int64(25)}, {int64(120), int64(0), int64(0)}, // still below floor, within cooldown
		},
	}
	cfg := DefaultCacheMonitorConfig()
	cfg.Cooldown = time.Hour
	m := NewCacheMonitor(fq, cfg)
	now := time.Now()

	m.Sample(context.Background(), now)
	_, first, err := m.Sample(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if first == nil {
		t.Fatal("expected first alert to fire")
	}
	_, second, err := m.Sample(context.Background(), now.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("third sample: %v", err)
	}
	if second != nil {
		t.Fatalf("expected cooldown to suppress second low_heap alert, got %+v", second)
	}
}

func TestCacheMonitorCooldownExpiresAndRealertsSameKind(t *testing.T) {
	fq := &fakeQuerier{
		queryRowVals: [][]any{
			{int64(1000), int64(10)}, {int64(500), int64(5)}, {int64(100), int64(0), int64(0)}, // baseline
			{int64(1010), int64(990)}, {int64(510), int64(15)}, {int64(110), int64(0), int64(0)}, // alert 1
			{int64(1020), int64(1970)}, {int64(520), int64(25)}, {int64(120), int64(0), int64(0)}, // still below floor, past cooldown
		},
	}
	cfg := DefaultCacheMonitorConfig()
	cfg.Cooldown = time.Minute
	m := NewCacheMonitor(fq, cfg)
	now := time.Now()

	m.Sample(context.Background(), now)
	_, first, err := m.Sample(context.Background(), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("second sample: %v", err)
	}
	if first == nil {
		t.Fatal("expected first alert to fire")
	}
	_, second, err := m.Sample(context.Background(), now.Add(65*time.Minute))
	if err != nil {
		t.Fatalf("third sample: %v", err)
	}
	if second == nil {
		t.Fatal("expected a fresh low_heap alert once the cooldown window elapsed")
	}
}

func TestCacheMonitorHeapP95ReflectsEmptyWindow(t *testing.T) {
	m := NewCacheMonitor(&fakeQuerier{}, DefaultCacheMonitorConfig())
	if p := m.HeapP95(); p != 1 {
		t.Fatalf("expected heap p95 of 1 for an empty window, got %v", p)
	}
	if p := m.IndexP95(); p != 1 {
		t.Fatalf("expected index p95 of 1 for an empty window, got %v", p)
	}
}
