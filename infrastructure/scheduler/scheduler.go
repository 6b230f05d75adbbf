package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"
)

// ErrUnknownTask is returned by TriggerNow for a name never Schedule'd.
var ErrUnknownTask = errors.New("scheduler: unknown task")

// ErrAlreadyStarted is returned by Start if called more than once.
var ErrAlreadyStarted = errors.New("scheduler: already started")

// ErrDuplicateTask is returned by Schedule for a name already registered.
var ErrDuplicateTask = errors.New("scheduler: duplicate task name")

const maxConsecutiveFailuresBeforeDegraded = 3

// TaskFunc is the work a scheduled task performs. A returned error increments
// the task's failure counter; ctx is cancelled when Stop is called.
type TaskFunc func(ctx context.Context) error

// WorkerStatus reports the current state of one scheduled task, as surfaced
// through Upholder.Status().
type WorkerStatus struct {
	Name                string    `json:"name"`
	LastRunAt           time.Time `json:"last_run_at"`
	LastOutcome         string    `json:"last_outcome"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Degraded            bool      `json:"degraded"`
}

// task holds the mutable state of one registered, repeating task.
type task struct {
	name       string
	interval   time.Duration
	jitterFrac float64
	fn         TaskFunc

	mu                  sync.Mutex
	consecutiveFailures int
	degraded            bool
	lastRunAt           time.Time
	lastOutcome         string

	running   atomic.Bool
	triggerCh chan struct{}
}

func (t *task) currentInterval() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.degraded {
		return t.interval * 2
	}
	return t.interval
}

func (t *task) recordOutcome(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRunAt = time.Now()
	switch {
	case errors.Is(err, context.Canceled):
		t.lastOutcome = "cancelled"
	case err != nil:
		t.lastOutcome = "error"
		t.consecutiveFailures++
		if t.consecutiveFailures >= maxConsecutiveFailuresBeforeDegraded {
			t.degraded = true
		}
	default:
		t.lastOutcome = "ok"
		t.consecutiveFailures = 0
		t.degraded = false
	}
}

func (t *task) status() WorkerStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return WorkerStatus{
		Name:                t.name,
		LastRunAt:           t.lastRunAt,
		LastOutcome:         t.lastOutcome,
		ConsecutiveFailures: t.consecutiveFailures,
		Degraded:            t.degraded,
	}
}

// Scheduler dispatches independent repeating tasks concurrently, each on its
// own goroutine, over a single injected Clock.
type Scheduler struct {
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	tasks   map[string]*task
	started bool
	cancel  context.CancelFunc
	ctx     context.Context
	wg      sync.WaitGroup
}

// New creates a Scheduler. A nil logger falls back to slog.Default().
func New(clock Clock, logger *slog.Logger) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		clock:  clock,
		logger: logger,
		tasks:  make(map[string]*task),
	}
}

// Schedule registers a repeating task. Must be called before Start.
func (s *Scheduler) Schedule(name string, interval time.Duration, jitterFrac float64, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("scheduler: cannot schedule %q after start", name)
	}
	if _, exists := s.tasks[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, name)
	}
	s.tasks[name] = &task{
		name:       name,
		interval:   interval,
		jitterFrac: jitterFrac,
		fn:         fn,
		triggerCh:  make(chan struct{}, 1),
	}
	return nil
}

// Start launches one worker goroutine per registered task.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.started = true

	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runTask(t)
	}
	return nil
}

// Stop signals cancellation to every task and waits up to timeout for
// in-flight runs to observe it. Tasks still running past timeout are
// abandoned; any Session they hold is reclaimed by the pool's own health
// sweep, not by the scheduler.
func (s *Scheduler) Stop(timeout time.Duration) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("scheduler: stop timed out after %s with tasks still in flight", timeout)
	}
}

// TriggerNow forces an out-of-band run of the named task. A concurrent
// scheduled fire while the out-of-band run is in flight is coalesced
// (dropped, not queued), and vice versa.
func (s *Scheduler) TriggerNow(name string) error {
	s.mu.Lock()
	t, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	select {
	case t.triggerCh <- struct{}{}:
	default:
		// A trigger is already pending; coalesce.
	}
	return nil
}

// Status returns the current WorkerStatus for every registered task.
func (s *Scheduler) Status() []WorkerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]WorkerStatus, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.status())
	}
	return out
}

func (s *Scheduler) runTask(t *task) {
	defer s.wg.Done()

	firstFire := time.Duration(rand.Float64() * float64(t.interval) * t.jitterFrac)
	timer := s.clock.NewTimer(firstFire)
	defer timer.Stop()

	for {
		select {
		case <-timer.C():
			fireStart := s.clock.Now()
			s.fire(t)
			interval := t.currentInterval()
			elapsed := s.clock.Now().Sub(fireStart)
			next := interval - elapsed
			if next < 0 {
				next = 0 // catch-up cap: never wait more than one full interval
			}
			timer.Reset(next)
			// A trigger that arrived while this run was in flight is
			// coalesced into it rather than run afterwards.
			select {
			case <-t.triggerCh:
			default:
			}
		case <-t.triggerCh:
			// Run off the loop goroutine so a scheduled fire landing during
			// this run reaches fire and is dropped by its in-flight check.
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				s.fire(t)
			}()
		case <-s.ctx.Done():
			return
		}
	}
}

// fire runs t.fn exactly once, coalescing with any concurrently in-flight
// run of the same task (scheduled or triggered).
func (s *Scheduler) fire(t *task) {
	if !t.running.CompareAndSwap(false, true) {
		return
	}
	defer t.running.Store(false)

	err := t.fn(s.ctx)
	t.recordOutcome(err)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logger.Error("scheduled task failed", "task", t.name, "error", err)
	}
}
