// Package scheduler decides when enabled tasks should fire and dispatches
// them to the Executor, tolerating drift, restarts, and concurrent task
// edits (spec.md §4.1).
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

const (
	tickInterval  = 1 * time.Second
	defaultGate   = 4
	defaultGrace  = 30 * time.Second
)

// Options configures a Scheduler.
type Options struct {
	// Concurrency bounds simultaneous dispatched executions. Defaults to 4.
	Concurrency int
	// StopGrace bounds how long Stop() waits for in-flight executions.
	StopGrace time.Duration
}

// Scheduler owns the single tick loop that claims and dispatches due tasks.
type Scheduler struct {
	store    *store.Store
	executor *executor.Executor
	logger   *slog.Logger

	concurrency int
	stopGrace   time.Duration

	gate chan struct{}

	mu      sync.Mutex
	running map[int64]bool

	notify chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	started atomic.Bool
}

// New builds a Scheduler. logger may be nil.
func New(st *store.Store, ex *executor.Executor, opts Options, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = defaultGate
	}
	grace := opts.StopGrace
	if grace <= 0 {
		grace = defaultGrace
	}
	return &Scheduler{
		store:       st,
		executor:    ex,
		logger:      logger.With("component", "scheduler"),
		concurrency: concurrency,
		stopGrace:   grace,
		gate:        make(chan struct{}, concurrency),
		running:     make(map[int64]bool),
		notify:      make(chan struct{}, 1),
	}
}

// Start is idempotent: it runs the recovery sweep, reschedules every
// enabled task, and begins the tick loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(ctx)

	staleTaskIDs, err := s.store.RecoverStaleRunning()
	if err != nil {
		s.logger.Error("recovery sweep failed", "error", err)
	} else if len(staleTaskIDs) > 0 {
		s.logger.Warn("recovered stale running executions", "count", len(staleTaskIDs))
	}

	if err := s.rescheduleAll(); err != nil {
		s.logger.Error("initial reschedule failed", "error", err)
	}

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("scheduler started", "concurrency", s.concurrency)
	return nil
}

// Stop is idempotent: it signals the tick loop to exit and waits up to
// stopGrace for in-flight dispatches to finish.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.stopGrace):
		s.logger.Warn("stop grace period elapsed with executions still in flight")
	}
	s.logger.Info("scheduler stopped")
}

// IsRunning reports whether the tick loop is active.
func (s *Scheduler) IsRunning() bool {
	return s.started.Load()
}

// JobCount returns the number of enabled tasks.
func (s *Scheduler) JobCount() int {
	enabled := true
	tasks, err := s.store.ListTasks(store.TaskFilter{Enabled: &enabled})
	if err != nil {
		return 0
	}
	return len(tasks)
}

// RescheduleAll fills in NextRunAt for enabled tasks that don't have one
// yet (newly created, or never scheduled). It deliberately leaves a
// past-due NextRunAt alone: spec.md §4.1 requires a task whose fire was
// missed while the daemon was down to fire once on catch-up, and the tick
// loop only sees that stale timestamp as due if Start doesn't overwrite it
// with a freshly computed future occurrence first.
func (s *Scheduler) rescheduleAll() error {
	enabled := true
	tasks, err := s.store.ListTasks(store.TaskFilter{Enabled: &enabled})
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	for _, t := range tasks {
		if t.NextRunAt != nil {
			continue
		}
		s.recompute(t, now)
	}
	return nil
}

// OnTaskChanged is called by the control plane after create/update/toggle/
// delete. It recomputes or clears scheduling for the task and wakes the
// tick loop early. A cheap no-op for disabled or missing tasks.
func (s *Scheduler) OnTaskChanged(taskID int64) {
	task, err := s.store.GetTask(taskID)
	if err != nil {
		return
	}
	if !task.Enabled {
		if err := s.store.SetNextRunAt(taskID, nil); err != nil {
			s.logger.Error("clear next_run_at failed", "task_id", taskID, "error", err)
		}
	} else {
		s.recompute(task, time.Now().UTC())
	}
	s.wake()
}

func (s *Scheduler) recompute(task store.Task, now time.Time) {
	next, err := nextFireTime(task, now)
	if err != nil {
		s.logger.Error("disabling task with invalid schedule", "task_id", task.ID, "error", err)
		if _, err := s.store.SetEnabled(task.ID, false); err != nil {
			s.logger.Error("failed to disable task after schedule error", "task_id", task.ID, "error", err)
		}
		return
	}
	if err := s.store.SetNextRunAt(task.ID, next); err != nil {
		s.logger.Error("failed to set next_run_at", "task_id", task.ID, "error", err)
	}
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.processDue()
		case <-s.notify:
			s.processDue()
		}
	}
}

func (s *Scheduler) processDue() {
	now := time.Now().UTC()
	due, err := s.store.GetDueTasks(now)
	if err != nil {
		s.logger.Error("fetch due tasks failed", "error", err)
		return
	}

	for _, task := range due {
		s.handleDue(task, now)
	}
}

// handleDue claims or skip-advances one due task. A task already in flight
// still has its nextRunAt advanced (the tick is "skipped", per spec.md §5),
// but lastRunAt is left untouched since no new run actually started.
func (s *Scheduler) handleDue(task store.Task, now time.Time) {
	if task.NextRunAt == nil {
		return
	}
	expected := *task.NextRunAt

	if !s.TryReserve(task.ID) {
		projected := task
		projected.LastRunAt = task.LastRunAt
		next, err := nextFireTime(projected, now)
		if err != nil {
			s.recompute(task, now)
			return
		}
		if _, err := s.store.AdvanceNextRunAt(task.ID, expected, next); err != nil {
			s.logger.Error("advance next_run_at failed", "task_id", task.ID, "error", err)
		}
		return
	}

	select {
	case s.gate <- struct{}{}:
	default:
		// Concurrency gate saturated: leave the task unclaimed for the
		// next tick (spec.md §4.1 "Concurrency gate").
		s.Release(task.ID)
		return
	}

	runAt := now
	projected := task
	projected.LastRunAt = &runAt
	next, err := nextFireTime(projected, now)
	if err != nil {
		<-s.gate
		s.Release(task.ID)
		s.recompute(task, now)
		return
	}

	claimed, err := s.store.ClaimTask(task.ID, expected, next, runAt)
	if err != nil {
		<-s.gate
		s.Release(task.ID)
		s.logger.Error("claim task failed", "task_id", task.ID, "error", err)
		return
	}
	if !claimed {
		<-s.gate
		s.Release(task.ID)
		return
	}

	if task.ScheduleType == store.ScheduleOnce {
		if _, err := s.store.SetEnabled(task.ID, false); err != nil {
			s.logger.Error("failed to auto-disable fired 'once' task", "task_id", task.ID, "error", err)
		}
	}

	s.wg.Add(1)
	go s.dispatch(task.ID)
}

func (s *Scheduler) dispatch(taskID int64) {
	defer s.wg.Done()
	defer func() { <-s.gate }()
	defer s.Release(taskID)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("dispatch panicked", "task_id", taskID, "panic", r)
		}
	}()

	result, err := s.executor.Execute(s.ctx, taskID, executor.Options{})
	if err != nil {
		s.logger.Error("execute failed", "task_id", taskID, "error", err)
		return
	}
	if !result.Success {
		s.logger.Warn("execution completed with failure", "task_id", taskID, "error", result.Error)
	}
}

// TryReserve claims the in-memory "this task is running" slot, shared by the
// tick loop and the control plane's synchronous execute(id) operation so
// neither can start a run while the other's is in flight (spec.md §9 Open
// Question, resolved: no-concurrent-runs-per-task applies uniformly across
// both entry points). Returns false if the task is already reserved.
func (s *Scheduler) TryReserve(taskID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[taskID] {
		return false
	}
	s.running[taskID] = true
	return true
}

// Release frees a reservation taken by TryReserve.
func (s *Scheduler) Release(taskID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, taskID)
}
