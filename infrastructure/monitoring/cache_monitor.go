package monitoring

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// highBufferPressurePct is the floor, in percent, above which the share of
// buffer allocations satisfied by a backend (rather than the background
// writer keeping ahead of demand) counts as buffer pressure. Postgres
// exposes no canonical threshold for this; chosen as the point past which
// the backend is doing the bgwriter's job for it.
const highBufferPressurePct = 80.0

// CacheMonitorConfig tunes the buffer cache sampling window and alerting.
type CacheMonitorConfig struct {
	// WindowSize is how many CacheSamples the ring buffer retains.
	WindowSize int
	// HeapHitFloor and IndexHitFloor trigger a CacheAlert the first sample
	// that drops below them — a hot index on a cold table and a cold
	// index on a hot table are different problems, so they're tracked and
	// alerted independently.
	HeapHitFloor  float64
	IndexHitFloor float64
	// Cooldown suppresses repeat alerts of the same kind for this long after
	// one fires, so a sustained dip doesn't flood the sink with duplicates.
	Cooldown time.Duration
}

// DefaultCacheMonitorConfig keeps the last 480 samples (four hours at the
// upholder's default 30-second cadence) and alerts the first sample under 95% heap / 90% index hit ratio, with a
// ten-minute cooldown.
func DefaultCacheMonitorConfig() CacheMonitorConfig {
	return CacheMonitorConfig{
		WindowSize:    480,
		HeapHitFloor:  0.95,
		IndexHitFloor: 0.90,
		Cooldown:      10 * time.Minute,
	}
}

// cacheBaseline holds the cumulative counters a Sample diffs against to
// derive this interval's ratios.
type cacheBaseline struct {
	heapHit, heapRead     int64
	idxHit, idxRead       int64
	buffersAlloc          int64
	buffersBackend        int64
	maxwrittenClean       int64
	have                  bool
}

// CacheMonitor samples buffer cache hit ratios and background-writer
// pressure from pg_statio_user_tables/pg_statio_user_indexes/pg_stat_bgwriter
// and alerts the first sample that crosses a configured floor.
type CacheMonitor struct {
	db  rowQuerier
	cfg CacheMonitorConfig

	mu        sync.Mutex
	samples   []CacheSample // ring buffer, oldest first
	base      cacheBaseline
	cooldowns map[CacheAlertKind]time.Time
}

// NewCacheMonitor builds a monitor over db using cfg.
func NewCacheMonitor(db rowQuerier, cfg CacheMonitorConfig) *CacheMonitor {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 480
	}
	return &CacheMonitor{
		db:        db,
		cfg:       cfg,
		samples:   make([]CacheSample, 0, cfg.WindowSize),
		cooldowns: make(map[CacheAlertKind]time.Time),
	}
}

// Rebind points the monitor at a new rowQuerier (a freshly acquired Session),
// keeping the accumulated window and delta baseline.
func (c *CacheMonitor) Rebind(db rowQuerier) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.db = db
}

// Sample reads current cumulative counters, derives this interval's heap and
// index hit ratios plus buffer pressure, and appends the result to the
// window. The first call establishes a baseline and returns a maximally
// healthy sample with no alert.
func (c *CacheMonitor) Sample(ctx context.Context, now time.Time) (CacheSample, *CacheAlert, error) {
	var heapHit, heapRead int64
	if err := c.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(heap_blks_hit), 0), COALESCE(SUM(heap_blks_read), 0)
		FROM pg_statio_user_tables
	`).Scan(&heapHit, &heapRead); err != nil {
		return CacheSample{}, nil, fmt.Errorf("monitoring: sample heap hit ratio: %w", err)
	}

	var idxHit, idxRead int64
	if err := c.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(idx_blks_hit), 0), COALESCE(SUM(idx_blks_read), 0)
		FROM pg_statio_user_indexes
	`).Scan(&idxHit, &idxRead); err != nil {
		return CacheSample{}, nil, fmt.Errorf("monitoring: sample index hit ratio: %w", err)
	}

	var buffersAlloc, buffersBackend, maxwrittenClean int64
	if err := c.db.QueryRow(ctx, `
		SELECT buffers_alloc, buffers_backend, maxwritten_clean
		FROM pg_stat_bgwriter
	`).Scan(&buffersAlloc, &buffersBackend, &maxwrittenClean); err != nil {
		return CacheSample{}, nil, fmt.Errorf("monitoring: sample bgwriter stats: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.base.have {
		c.base = cacheBaseline{
			heapHit: heapHit, heapRead: heapRead,
			idxHit: idxHit, idxRead: idxRead,
			buffersAlloc: buffersAlloc, buffersBackend: buffersBackend,
			maxwrittenClean: maxwrittenClean, have: true,
		}
		return CacheSample{Timestamp: now, HeapHitRatio: 1, IndexHitRatio: 1}, nil, nil
	}

	deltaHeapHit := heapHit - c.base.heapHit
	deltaHeapRead := heapRead - c.base.heapRead
	deltaIdxHit := idxHit - c.base.idxHit
	deltaIdxRead := idxRead - c.base.idxRead
	deltaAlloc := buffersAlloc - c.base.buffersAlloc
	deltaBackend := buffersBackend - c.base.buffersBackend
	deltaMaxwritten := maxwrittenClean - c.base.maxwrittenClean

	c.base = cacheBaseline{
		heapHit: heapHit, heapRead: heapRead,
		idxHit: idxHit, idxRead: idxRead,
		buffersAlloc: buffersAlloc, buffersBackend: buffersBackend,
		maxwrittenClean: maxwrittenClean, have: true,
	}

	var buffersUsedPct float64
	if total := deltaAlloc + deltaBackend; total > 0 {
		buffersUsedPct = float64(deltaBackend) / float64(total) * 100
	}

	sample := CacheSample{
		Timestamp:      now,
		HeapHitRatio:   ratio(deltaHeapHit, deltaHeapRead),
		IndexHitRatio:  ratio(deltaIdxHit, deltaIdxRead),
		BuffersUsedPct: buffersUsedPct,
		BgwriterLag:    deltaMaxwritten,
	}
	c.appendLocked(sample)

	alert := c.checkAlertLocked(sample, now)
	return sample, alert, nil
}

func ratio(hit, read int64) float64 {
	if total := hit + read; total > 0 {
		return float64(hit) / float64(total)
	}
	return 1
}

func (c *CacheMonitor) appendLocked(s CacheSample) {
	if len(c.samples) == c.cfg.WindowSize {
		c.samples = c.samples[1:]
	}
	c.samples = append(c.samples, s)
}

// checkAlertLocked evaluates the sample just appended (not a window
// average — a dip that recovers by the next sample still happened and
// still warrants a first-crossing alert) against each floor in turn,
// respecting each CacheAlertKind's own cooldown. Must be called with c.mu
// held.
func (c *CacheMonitor) checkAlertLocked(s CacheSample, now time.Time) *CacheAlert {
	cooling := func(k CacheAlertKind) bool {
		until, fired := c.cooldowns[k]
		return fired && now.Before(until)
	}
	kind, observed, threshold, ok := crossedLocked(s, c.cfg, cooling)
	if !ok {
		return nil
	}
	cooldownUntil := now.Add(c.cfg.Cooldown)
	c.cooldowns[kind] = cooldownUntil
	return &CacheAlert{
		Kind:          kind,
		Timestamp:     now,
		Observed:      observed,
		Threshold:     threshold,
		CooldownUntil: cooldownUntil,
	}
}

// crossedLocked reports the first metric (in priority order: heap, index,
// buffer pressure) that has crossed its configured floor/ceiling and is not
// excluded by skip (a kind still in its cooldown).
func crossedLocked(s CacheSample, cfg CacheMonitorConfig, skip func(CacheAlertKind) bool) (kind CacheAlertKind, observed, threshold float64, ok bool) {
	if s.HeapHitRatio < cfg.HeapHitFloor && !skip(CacheAlertLowHeap) {
		return CacheAlertLowHeap, s.HeapHitRatio, cfg.HeapHitFloor, true
	}
	if s.IndexHitRatio < cfg.IndexHitFloor && !skip(CacheAlertLowIndex) {
		return CacheAlertLowIndex, s.IndexHitRatio, cfg.IndexHitFloor, true
	}
	if s.BuffersUsedPct > highBufferPressurePct && !skip(CacheAlertHighBufferPressure) {
		return CacheAlertHighBufferPressure, s.BuffersUsedPct, highBufferPressurePct, true
	}
	return "", 0, 0, false
}

// HeapP95 returns the 95th-percentile-worst heap hit ratio observed in the
// current window.
func (c *CacheMonitor) HeapP95() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return p95Locked(c.samples, func(s CacheSample) float64 { return s.HeapHitRatio })
}

// IndexP95 returns the 95th-percentile-worst index hit ratio observed in the
// current window.
func (c *CacheMonitor) IndexP95() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return p95Locked(c.samples, func(s CacheSample) float64 { return s.IndexHitRatio })
}

func p95Locked(samples []CacheSample, field func(CacheSample) float64) float64 {
	if len(samples) == 0 {
		return 1
	}
	ratios := make([]float64, len(samples))
	for i, s := range samples {
		ratios[i] = field(s)
	}
	sort.Float64s(ratios)
	idx := int(float64(len(ratios)-1) * 0.05) // 5th-lowest-percentile index == p95 hit ratio (lower is worse)
	return ratios[idx]
}

// Window returns a copy of the current ring buffer contents, oldest first.
func (c *CacheMonitor) Window() []CacheSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CacheSample, len(c.samples))
	copy(out, c.samples)
	return out
}
