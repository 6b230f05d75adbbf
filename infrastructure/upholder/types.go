// Package upholder composes the statement cache, query analyzer, index
// auditor, and cache monitor into a single background subsystem: it drives
// them on a cadence, merges their findings into Reports, raises Alerts when
// a threshold is crossed, and hands both to registered sinks.
package upholder

import (
	"fmt"
	"time"

	"github.com/albapepper/scoracle-data/infrastructure/database"
	"github.com/albapepper/scoracle-data/infrastructure/monitoring"
	"github.com/albapepper/scoracle-data/infrastructure/scheduler"
)

// AlertKind enumerates the stable strings Alerts carry so consumers can key
// on them without parsing Detail text.
type AlertKind string

const (
	AlertLowCacheHitRatio     AlertKind = "low_heap"
	AlertLowIndexHitRatio     AlertKind = "low_index"
	AlertHighBufferPressure   AlertKind = "high_buffer_pressure"
	AlertCycleFailed          AlertKind = "cycle_failed"
	AlertExtensionMissing     AlertKind = "extension_missing"
)

// Alert is emitted immediately when a threshold is crossed, independent of
// the enclosing audit cycle's Report.
type Alert struct {
	ID        string    `json:"id"`
	Kind      AlertKind `json:"kind"`
	Subject   string    `json:"subject"`
	Detail    string    `json:"detail"`
	Timestamp time.Time `json:"timestamp"`
}

// Report is the merged output of one audit cycle: C6's cache sample window,
// C4's query issues, and C5's index findings, plus the pool occupancy at
// assembly time. Immutable after construction.
type Report struct {
	ID          string                    `json:"id"`
	StartedAt   time.Time                 `json:"started_at"`
	FinishedAt  time.Time                 `json:"finished_at"`
	Cancelled   bool                      `json:"cancelled"`
	Partial     bool                      `json:"partial"`
	FailedParts []string                  `json:"failed_parts,omitempty"`
	Cache       []monitoring.CacheSample  `json:"cache,omitempty"`
	Queries     []monitoring.QueryIssue   `json:"queries"`
	Indexes     []monitoring.IndexFinding `json:"indexes"`
	Pool        database.PoolStats        `json:"pool"`
	Summary     string                    `json:"summary"`
}

// buildSummary renders a one-line human-readable digest of a Report's
// findings, used as the default Summary and as Alert subjects that
// reference a whole cycle rather than a single metric.
func buildSummary(queries []monitoring.QueryIssue, indexes []monitoring.IndexFinding) string {
	var critical, warn int
	for _, q := range queries {
		switch q.Severity {
		case monitoring.SeverityCritical:
			critical++
		case monitoring.SeverityWarn:
			warn++
		}
	}
	return fmt.Sprintf("%d query issues (%d critical, %d warn), %d index findings",
		len(queries), critical, warn, len(indexes))
}

// Config tunes the orchestrator's cadence and safety posture. Zero-value
// fields fall back to DefaultConfig's values where the field says so. The
// nested *Config fields tune the three monitoring components directly;
// their own zero values fall back to each component's Default*Config.
type Config struct {
	AuditInterval     time.Duration
	CacheInterval     time.Duration
	AlertCooldown     time.Duration
	DryRun            bool
	AutoApplySafe     bool
	ExplainSampleRate float64

	AnalyzerConfig     monitoring.QueryAnalyzerConfig
	AuditorConfig      monitoring.IndexAuditorConfig
	CacheMonitorConfig monitoring.CacheMonitorConfig
}

// DefaultConfig matches the defaults in the configuration surface: audits
// run hourly, cache samples every 30s, a one-hour alert cooldown, DDL
// disabled, and EXPLAIN for every already-slow query plus any other query
// in the first fifth of the top-N list.
func DefaultConfig() Config {
	return Config{
		AuditInterval:     60 * time.Minute,
		CacheInterval:     30 * time.Second,
		AlertCooldown:     60 * time.Minute,
		DryRun:            true,
		AutoApplySafe:     false,
		ExplainSampleRate: 0.2,

		AnalyzerConfig:     monitoring.DefaultQueryAnalyzerConfig(),
		AuditorConfig:      monitoring.DefaultIndexAuditorConfig(),
		CacheMonitorConfig: monitoring.DefaultCacheMonitorConfig(),
	}
}

// state is the orchestrator's lifecycle position.
type state int

const (
	stateNew state = iota
	stateStarted
	stateRunning
	stateDegraded
	stateStopping
	stateStopped
)

func (s state) String() string {
	switch s {
	case stateNew:
		return "new"
	case stateStarted:
		return "started"
	case stateRunning:
		return "running"
	case stateDegraded:
		return "degraded"
	case stateStopping:
		return "stopping"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Status is the JSON-serializable snapshot returned by Upholder.Status().
type Status struct {
	State               string                   `json:"state"`
	StartedAt           time.Time                `json:"started_at"`
	LastCycleStartedAt  time.Time                `json:"last_cycle_started_at"`
	LastCycleFinishedAt time.Time                `json:"last_cycle_finished_at"`
	LastCycleOK         bool                     `json:"last_cycle_ok"`
	Pool                database.PoolStats       `json:"pool"`
	Workers             []scheduler.WorkerStatus `json:"workers"`
	ConsecutiveFailures int                      `json:"consecutive_failures"`
}
