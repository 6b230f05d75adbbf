package upholder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/albapepper/scoracle-data/infrastructure/database"
	"github.com/albapepper/scoracle-data/infrastructure/monitoring"
	"github.com/albapepper/scoracle-data/infrastructure/scheduler"
)

// ErrInvalidTransition is returned when Start or Stop is called from a
// state that does not permit it.
var ErrInvalidTransition = errors.New("upholder: invalid state transition")

const (
	auditCycleTask              = "audit_cycle"
	cacheSampleTask             = "cache_sample"
	maxConsecutiveCycleFailures = 3
)

// Upholder owns lifecycle and composes the query analyzer, index auditor,
// and cache monitor into scheduled audit cycles, assembling their findings
// into Reports and emitting Alerts when a threshold is crossed.
type Upholder struct {
	pool   *database.Pool
	sched  *scheduler.Scheduler
	logger *slog.Logger
	cfg    Config

	queryAnalyzer *monitoring.QueryAnalyzer
	indexAuditor  *monitoring.IndexAuditor
	cacheMonitor  *monitoring.CacheMonitor

	mu                  sync.Mutex
	st                  state
	startedAt           time.Time
	lastReport          *Report
	consecutiveFailures int
	cycleCancel         context.CancelFunc

	alertSinks  sinkRegistry
	reportSinks sinkRegistry
}

// New builds an Upholder over pool using cfg. A nil logger falls back to
// slog.Default().
func New(pool *database.Pool, cfg Config, logger *slog.Logger) *Upholder {
	if logger == nil {
		logger = slog.Default()
	}
	analyzerCfg := cfg.AnalyzerConfig
	if analyzerCfg == (monitoring.QueryAnalyzerConfig{}) {
		analyzerCfg = monitoring.DefaultQueryAnalyzerConfig()
	}
	auditorCfg := cfg.AuditorConfig
	if auditorCfg == (monitoring.IndexAuditorConfig{}) {
		auditorCfg = monitoring.DefaultIndexAuditorConfig()
	}
	cacheCfg := cfg.CacheMonitorConfig
	if cacheCfg == (monitoring.CacheMonitorConfig{}) {
		cacheCfg = monitoring.DefaultCacheMonitorConfig()
	}
	if cfg.AlertCooldown > 0 {
		cacheCfg.Cooldown = cfg.AlertCooldown
	}
	return &Upholder{
		pool:          pool,
		sched:         scheduler.New(scheduler.SystemClock(), logger),
		logger:        logger,
		cfg:           cfg,
		queryAnalyzer: monitoring.NewQueryAnalyzer(nil, analyzerCfg),
		indexAuditor:  monitoring.NewIndexAuditor(nil, auditorCfg),
		cacheMonitor:  monitoring.NewCacheMonitor(nil, cacheCfg),
		st:            stateNew,
	}
}

// RegisterAlertSink adds s to the alert delivery registry.
func (u *Upholder) RegisterAlertSink(s Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.alertSinks.register(s)
}

// RegisterReportSink adds s to the report delivery registry.
func (u *Upholder) RegisterReportSink(s Sink) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reportSinks.register(s)
}

// Start transitions new|stopped -> running and schedules the audit cycle
// and cache-sample tasks.
func (u *Upholder) Start() error {
	u.mu.Lock()
	if u.st != stateNew && u.st != stateStopped {
		u.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %s", ErrInvalidTransition, u.st)
	}
	u.st = stateStarted
	u.startedAt = time.Now()
	u.consecutiveFailures = 0
	// A stopped scheduler cannot take new tasks; every start gets a fresh one.
	u.sched = scheduler.New(scheduler.SystemClock(), u.logger)
	u.mu.Unlock()

	if err := u.sched.Schedule(auditCycleTask, u.interval(), 0.1, u.runAuditCycle); err != nil {
		return fmt.Errorf("upholder: schedule audit cycle: %w", err)
	}
	if err := u.sched.Schedule(cacheSampleTask, u.cacheInterval(), 0.1, u.runCacheSample); err != nil {
		return fmt.Errorf("upholder: schedule cache sample: %w", err)
	}
	if err := u.sched.Start(); err != nil {
		return fmt.Errorf("upholder: start scheduler: %w", err)
	}

	u.mu.Lock()
	u.st = stateRunning
	u.mu.Unlock()
	return nil
}

func (u *Upholder) interval() time.Duration {
	if u.cfg.AuditInterval <= 0 {
		return DefaultConfig().AuditInterval
	}
	return u.cfg.AuditInterval
}

func (u *Upholder) cacheInterval() time.Duration {
	if u.cfg.CacheInterval <= 0 {
		return DefaultConfig().CacheInterval
	}
	return u.cfg.CacheInterval
}

// Stop requests cancellation of any in-flight cycle and waits up to timeout
// for the scheduler to drain, transitioning through stopping to stopped.
func (u *Upholder) Stop(timeout time.Duration) error {
	u.mu.Lock()
	if u.st == stateNew || u.st == stateStopped {
		u.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %s", ErrInvalidTransition, u.st)
	}
	u.st = stateStopping
	if u.cycleCancel != nil {
		u.cycleCancel()
	}
	u.mu.Unlock()

	err := u.sched.Stop(timeout)

	u.mu.Lock()
	u.st = stateStopped
	u.mu.Unlock()
	return err
}

// TriggerAudit requests an out-of-band audit cycle and returns the
// resulting Report. Coalesced with any in-flight cycle by the scheduler.
func (u *Upholder) TriggerAudit() (Report, error) {
	if err := u.sched.TriggerNow(auditCycleTask); err != nil {
		return Report{}, fmt.Errorf("upholder: trigger audit: %w", err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.lastReport == nil {
		return Report{}, fmt.Errorf("upholder: no report available yet")
	}
	return *u.lastReport, nil
}

// Status returns a JSON-serializable snapshot of the orchestrator's state.
func (u *Upholder) Status() Status {
	u.mu.Lock()
	defer u.mu.Unlock()

	status := Status{
		State:               u.st.String(),
		StartedAt:           u.startedAt,
		ConsecutiveFailures: u.consecutiveFailures,
		Workers:             u.sched.Status(),
	}
	if u.pool != nil {
		status.Pool = u.pool.Stats()
	}
	if u.lastReport != nil {
		status.LastCycleStartedAt = u.lastReport.StartedAt
		status.LastCycleFinishedAt = u.lastReport.FinishedAt
		status.LastCycleOK = len(u.lastReport.FailedParts) == 0 && !u.lastReport.Cancelled
	}
	return status
}

// runAuditCycle is the scheduled task body: C6 sample snapshot, C4 pass, C5
// pass, assembled into a Report and delivered to the report sinks.
func (u *Upholder) runAuditCycle(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	u.mu.Lock()
	u.cycleCancel = cancel
	u.mu.Unlock()
	defer func() {
		u.mu.Lock()
		u.cycleCancel = nil
		u.mu.Unlock()
		cancel()
	}()

	started := time.Now()
	report := Report{ID: uuid.NewString(), StartedAt: started}

	sess, err := u.pool.Acquire(ctx)
	if err != nil {
		u.recordCycleFailure()
		return fmt.Errorf("upholder: acquire session for audit cycle: %w", err)
	}
	defer u.pool.Release(sess)

	u.queryAnalyzer.Rebind(sess)
	u.indexAuditor.Rebind(sess)

	report.Queries = u.runQueryAnalysis(ctx, sess, started)
	if ctx.Err() != nil {
		report.Cancelled = true
	}

	if ctx.Err() == nil {
		indexes, err := u.indexAuditor.Audit(ctx, started, report.Queries)
		if err != nil {
			report.FailedParts = append(report.FailedParts, "index_auditor")
			u.logger.Warn("index auditor pass failed", "error", err)
		} else {
			report.Indexes = indexes
			if !u.cfg.DryRun && u.cfg.AutoApplySafe {
				u.applySafeIndexes(ctx, sess, indexes)
			}
		}
	} else {
		report.Cancelled = true
	}

	report.Cache = u.cacheMonitor.Window()

	report.Pool = u.pool.Stats()
	report.FinishedAt = time.Now()
	report.Partial = len(report.FailedParts) > 0
	report.Summary = buildSummary(report.Queries, report.Indexes)

	u.mu.Lock()
	u.lastReport = &report
	u.mu.Unlock()

	u.reportSinks.deliverReport(u.logger, report)
	u.recordCycleSuccess()
	return nil
}

// runQueryAnalysis pulls the top pg_stat_statements entries and samples a
// fraction of them for EXPLAIN-based plan analysis, degrading to a single
// extension_missing info item if the extension isn't installed.
func (u *Upholder) runQueryAnalysis(ctx context.Context, sess *database.Session, now time.Time) []monitoring.QueryIssue {
	stats, err := u.queryAnalyzer.TopQueries(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return []monitoring.QueryIssue{{
				Kind:       monitoring.IssueExtensionMissing,
				Severity:   monitoring.SeverityInfo,
				Detail:     "pg_stat_statements is not installed; query analysis is disabled until it is",
				DetectedAt: now,
			}}
		}
		u.logger.Warn("query analyzer pass failed", "error", err)
		return nil
	}

	sampleRate := u.cfg.ExplainSampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultConfig().ExplainSampleRate
	}
	sampleN := int(float64(len(stats)) * sampleRate)
	slowThreshold := u.queryAnalyzerThreshold()

	var issues []monitoring.QueryIssue
	for i, stat := range stats {
		if ctx.Err() != nil {
			break
		}
		// A proportional sample catches broad patterns cheaply, but a query
		// already flagged slow must never be skipped for want of a dice
		// roll — it's exactly the query EXPLAIN analysis exists to explain.
		explain := i < sampleN || stat.MeanTimeMs >= slowThreshold
		planJSON := []byte(`[{"Plan":{}}]`)
		if explain {
			var raw []byte
			if err := sess.QueryRow(ctx, "EXPLAIN (FORMAT JSON) "+stat.Query).Scan(&raw); err == nil {
				planJSON = raw
			}
		}
		found, err := u.queryAnalyzer.AnalyzePlan(stat, planJSON, now)
		if err != nil {
			continue
		}
		issues = append(issues, found...)
	}
	return issues
}

// queryAnalyzerThreshold returns the configured slow-query mean-time floor,
// falling back to the package default when unset.
func (u *Upholder) queryAnalyzerThreshold() float64 {
	cfg := u.cfg.AnalyzerConfig
	if cfg.SlowQueryThresholdMs <= 0 {
		return monitoring.DefaultQueryAnalyzerConfig().SlowQueryThresholdMs
	}
	return cfg.SlowQueryThresholdMs
}

// applySafeIndexes executes the DDL string of every finding that carries
// one, as given, with no further whitelist check. Only the index auditor's
// missing-index findings carry DDL (a non-unique, non-partial CREATE INDEX);
// no ANALYZE statement is ever issued.
func (u *Upholder) applySafeIndexes(ctx context.Context, sess *database.Session, findings []monitoring.IndexFinding) {
	for _, f := range findings {
		if f.DDL == "" {
			continue
		}
		if _, err := sess.Exec(ctx, f.DDL); err != nil {
			u.logger.Warn("safe DDL application failed", "ddl", f.DDL, "error", err)
		}
	}
}

// runCacheSample is the scheduled task body for C6: acquire a session,
// sample the buffer hit ratio, and emit an alert if it crossed the floor.
func (u *Upholder) runCacheSample(ctx context.Context) error {
	sess, err := u.pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("upholder: acquire session for cache sample: %w", err)
	}
	defer u.pool.Release(sess)

	u.cacheMonitor.Rebind(sess)
	_, alert, err := u.cacheMonitor.Sample(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("upholder: cache sample: %w", err)
	}
	if alert != nil {
		u.alertSinks.deliverAlert(u.logger, Alert{
			ID:        uuid.NewString(),
			Kind:      cacheAlertKindToUpholder(alert.Kind),
			Subject:   "buffer_cache",
			Detail:    fmt.Sprintf("%s observed %.4f below/above threshold %.4f", alert.Kind, alert.Observed, alert.Threshold),
			Timestamp: alert.Timestamp,
		})
	}
	return nil
}

// cacheAlertKindToUpholder maps a monitoring.CacheAlertKind to the matching
// upholder.AlertKind so alert sinks key on one stable vocabulary.
func cacheAlertKindToUpholder(kind monitoring.CacheAlertKind) AlertKind {
	switch kind {
	case monitoring.CacheAlertLowIndex:
		return AlertLowIndexHitRatio
	case monitoring.CacheAlertHighBufferPressure:
		return AlertHighBufferPressure
	default:
		return AlertLowCacheHitRatio
	}
}

func (u *Upholder) recordCycleFailure() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consecutiveFailures++
	if u.consecutiveFailures >= maxConsecutiveCycleFailures && u.st == stateRunning {
		u.st = stateDegraded
	}
}

func (u *Upholder) recordCycleSuccess() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.consecutiveFailures = 0
	if u.st == stateDegraded {
		u.st = stateRunning
	}
}
