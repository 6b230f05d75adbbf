package upholder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/albapepper/scoracle-data/infrastructure/monitoring"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// longIntervalConfig schedules both tasks far enough out that no background
// goroutine fires during a short-lived test.
func longIntervalConfig() Config {
	cfg := DefaultConfig()
	cfg.AuditInterval = time.Hour
	cfg.CacheInterval = time.Hour
	return cfg
}

func TestNewStartsInStateNew(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if got := u.Status().State; got != "new" {
		t.Fatalf("expected state %q, got %q", "new", got)
	}
}

func TestStartTransitionsToRunning(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := u.Status().State; got != "running" {
		t.Fatalf("expected state %q after start, got %q", "running", got)
	}
	if err := u.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestStartFromRunningIsRejected(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer u.Stop(time.Second)

	err := u.Start()
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStopFromNewIsRejected(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	err := u.Stop(time.Second)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}

func TestStopTransitionsThroughStoppingToStopped(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := u.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := u.Status().State; got != "stopped" {
		t.Fatalf("expected state %q after stop, got %q", "stopped", got)
	}
}

func TestRestartAfterStopSucceeds(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if err := u.Start(); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := u.Stop(time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := u.Start(); err != nil {
		t.Fatalf("restart after stop: %v", err)
	}
	defer u.Stop(time.Second)
	if got := u.Status().State; got != "running" {
		t.Fatalf("expected state %q after restart, got %q", "running", got)
	}
}

func TestTriggerAuditBeforeStartReturnsError(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if _, err := u.TriggerAudit(); err == nil {
		t.Fatalf("expected error triggering audit before start")
	}
}

func TestRecordCycleFailureEntersDegradedAfterThreshold(t *testing.T) {
	u := New(nil, longIntervalConfig(), discardLogger())
	if err := u.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer u.Stop(time.Second)

	for i := 0; i < maxConsecutiveCycleFailures-1; i++ {
		u.recordCycleFailure()
		if got := u.Status().State; got != "running" {
			t.Fatalf("expected state %q before threshold, got %q", "running", got)
		}
	}
	u.recordCycleFailure()
	if got := u.Status().State; got != "degraded" {
		t.Fatalf("expected state %q at threshold, got %q", "degraded", got)
	}

	u.recordCycleSuccess()
	if got := u.Status().State; got != "running" {
		t.Fatalf("expected state %q to recover on success, got %q", "running", got)
	}
}

// fakeSink counts deliveries and can be made to fail on demand.
type fakeSink struct {
	fail        bool
	alertCount  int
	reportCount int
}

func (s *fakeSink) OnAlert(_ context.Context, _ Alert) error {
	s.alertCount++
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func (s *fakeSink) OnReport(_ context.Context, _ Report) error {
	s.reportCount++
	if s.fail {
		return errors.New("boom")
	}
	return nil
}

func TestSinkRegistryDeliversToAllRegisteredSinks(t *testing.T) {
	var reg sinkRegistry
	a, b := &fakeSink{}, &fakeSink{}
	reg.register(a)
	reg.register(b)

	reg.deliverAlert(discardLogger(), Alert{Kind: AlertLowCacheHitRatio})

	if a.alertCount != 1 || b.alertCount != 1 {
		t.Fatalf("expected both sinks to receive the alert, got a=%d b=%d", a.alertCount, b.alertCount)
	}
}

func TestSinkRegistryDisablesAfterConsecutiveFailures(t *testing.T) {
	var reg sinkRegistry
	s := &fakeSink{fail: true}
	reg.register(s)

	for i := 0; i < maxConsecutiveSinkFailures; i++ {
		reg.deliverReport(discardLogger(), Report{ID: "r"})
	}
	if s.reportCount != maxConsecutiveSinkFailures {
		t.Fatalf("expected %d attempts before disabling, got %d", maxConsecutiveSinkFailures, s.reportCount)
	}

	reg.deliverReport(discardLogger(), Report{ID: "r"})
	if s.reportCount != maxConsecutiveSinkFailures {
		t.Fatalf("expected sink to stay disabled, but it was invoked again (count=%d)", s.reportCount)
	}
}

func TestSinkRegistryResetsFailureCountOnSuccess(t *testing.T) {
	var reg sinkRegistry
	s := &fakeSink{fail: true}
	reg.register(s)

	for i := 0; i < maxConsecutiveSinkFailures-1; i++ {
		reg.deliverAlert(discardLogger(), Alert{})
	}
	s.fail = false
	reg.deliverAlert(discardLogger(), Alert{})
	s.fail = true

	for i := 0; i < maxConsecutiveSinkFailures-1; i++ {
		reg.deliverAlert(discardLogger(), Alert{})
	}
	if reg.handles[0].disabled.Load() {
		t.Fatalf("expected sink to still be enabled after the failure counter reset")
	}
}

func TestCallbackSinkIsNilSafe(t *testing.T) {
	var s CallbackSink
	if err := s.OnAlert(context.Background(), Alert{}); err != nil {
		t.Fatalf("expected nil-func CallbackSink to no-op, got %v", err)
	}
	if err := s.OnReport(context.Background(), Report{}); err != nil {
		t.Fatalf("expected nil-func CallbackSink to no-op, got %v", err)
	}
}

func TestCallbackSinkInvokesProvidedFuncs(t *testing.T) {
	var alertSeen Alert
	s := CallbackSink{
		OnAlertFunc: func(_ context.Context, a Alert) error {
			alertSeen = a
			return nil
		},
	}
	if err := s.OnAlert(context.Background(), Alert{Subject: "buffer_cache"}); err != nil {
		t.Fatalf("OnAlert: %v", err)
	}
	if alertSeen.Subject != "buffer_cache" {
		t.Fatalf("expected callback to observe the alert, got %+v", alertSeen)
	}
}

func TestBuildSummaryCountsSeverities(t *testing.T) {
	queries := []monitoring.QueryIssue{
		{Severity: monitoring.SeverityCritical},
		{Severity: monitoring.SeverityWarn},
		{Severity: monitoring.SeverityWarn},
		{Severity: monitoring.SeverityInfo},
	}
	got := buildSummary(queries, []monitoring.IndexFinding{{}, {}})
	want := "4 query issues (1 critical, 2 warn), 2 index findings"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestCacheAlertKindToUpholderMapsAllKinds(t *testing.T) {
	cases := map[monitoring.CacheAlertKind]AlertKind{
		monitoring.CacheAlertLowHeap:            AlertLowCacheHitRatio,
		monitoring.CacheAlertLowIndex:           AlertLowIndexHitRatio,
		monitoring.CacheAlertHighBufferPressure: AlertHighBufferPressure,
	}
	for in, want := range cases {
		if got := cacheAlertKindToUpholder(in); got != want {
			t.Fatalf("kind %q: expected %q, got %q", in, want, got)
		}
	}
}

func TestDefaultConfigWiresNestedMonitoringConfigs(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.AnalyzerConfig.SlowQueryThresholdMs != monitoring.DefaultQueryAnalyzerConfig().SlowQueryThresholdMs {
		t.Fatalf("expected analyzer config to carry the package default threshold")
	}
	if cfg.AuditorConfig.MinAgeDays != monitoring.DefaultIndexAuditorConfig().MinAgeDays {
		t.Fatalf("expected auditor config to carry the package default age floor")
	}
	if cfg.CacheMonitorConfig.HeapHitFloor != monitoring.DefaultCacheMonitorConfig().HeapHitFloor {
		t.Fatalf("expected cache monitor config to carry the package default heap floor")
	}
}

func TestStateStringCoversAllValues(t *testing.T) {
	cases := map[state]string{
		stateNew:      "new",
		stateStarted:  "started",
		stateRunning:  "running",
		stateDegraded: "degraded",
		stateStopping: "stopping",
		stateStopped:  "stopped",
	}
	for s, want := range cases {
		if got := s.String(); got != want {
			t.Fatalf("state %d: expected %q, got %q", s, want, got)
		}
	}
}
