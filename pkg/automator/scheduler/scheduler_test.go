package scheduler

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node binary not available on PATH")
	}
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.Store) {
	t.Helper()
	tmpDir := t.TempDir()

	st, err := store.Open(filepath.Join(tmpDir, "automator.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	v, err := vault.Open(filepath.Join(tmpDir, "master.key"))
	if err != nil {
		t.Fatalf("open vault: %v", err)
	}

	runner, err := sandbox.NewRunner(sandbox.DefaultConfig())
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ex := executor.New(st, v, runner, nil)
	sched := New(st, ex, Options{Concurrency: 4, StopGrace: 2 * time.Second}, nil)
	return sched, st
}

func mustCreateTemplate(t *testing.T, st *store.Store, tmpl store.Template) store.Template {
	t.Helper()
	created, err := st.CreateTemplate(tmpl)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	return created
}

func mustCreateTask(t *testing.T, st *store.Store, task store.Task) store.Task {
	t.Helper()
	created, err := st.CreateTask(task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func ptrTime(tm time.Time) *time.Time { return &tm }

func TestSchedulerFiresIntervalTaskRepeatedly(t *testing.T) {
	requireNode(t)
	sched, st := newTestScheduler(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "tick",
		Name: "Tick",
		Code: `return 1;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "ticking-task",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "1",
		Enabled:       true,
	})
	if err := st.SetNextRunAt(task.ID, ptrTime(time.Now().UTC())); err != nil {
		t.Fatalf("set next_run_at: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(2700 * time.Millisecond)
	sched.Stop()

	page, err := st.ListExecutions(store.ExecutionFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if page.Total < 2 {
		t.Fatalf("expected at least 2 executions in 2.7s at a 1s interval, got %d", page.Total)
	}
	for _, e := range page.Items {
		if e.Status != store.StatusSuccess {
			t.Errorf("expected success, got %s (error=%v)", e.Status, e.Error)
		}
	}
}

func TestSchedulerCoalescesMissedFires(t *testing.T) {
	requireNode(t)
	sched, st := newTestScheduler(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "tick-slow",
		Name: "Tick slow",
		Code: `return 1;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "overdue-task",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "60",
		Enabled:       true,
	})
	// Simulate a task whose previous periods were missed entirely, e.g. the
	// daemon was down: NextRunAt is far in the past.
	if err := st.SetNextRunAt(task.ID, ptrTime(time.Now().UTC().Add(-1*time.Hour))); err != nil {
		t.Fatalf("set next_run_at: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(1500 * time.Millisecond)
	sched.Stop()

	page, err := st.ListExecutions(store.ExecutionFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if page.Total != 1 {
		t.Fatalf("expected exactly 1 catch-up execution, not multi-period backlog replay, got %d", page.Total)
	}

	reloaded, err := st.GetTask(task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if reloaded.NextRunAt == nil || reloaded.NextRunAt.Before(time.Now().UTC()) {
		t.Fatalf("expected next_run_at advanced into the future, got %v", reloaded.NextRunAt)
	}
}

func TestSchedulerRecoversStaleRunningOnStart(t *testing.T) {
	sched, st := newTestScheduler(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "crashed",
		Name: "Crashed",
		Code: `return 1;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "crashed-task",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       false,
	})
	running, err := st.CreateRunningExecution(task.ID, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("create running execution: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Stop()

	reloaded, err := st.GetExecution(running.ID)
	if err != nil {
		t.Fatalf("get execution: %v", err)
	}
	if reloaded.Status != store.StatusTimeout {
		t.Fatalf("expected stale running execution marked timeout, got %s", reloaded.Status)
	}
	if reloaded.Error == nil || *reloaded.Error == "" {
		t.Error("expected an explanatory error message on the recovered execution")
	}
}

func TestSchedulerSkipsOverlappingRuns(t *testing.T) {
	requireNode(t)
	sched, st := newTestScheduler(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "slow-tick",
		Name: "Slow tick",
		Code: `await new Promise((resolve) => setTimeout(resolve, 1200)); return 1;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "slow-ticking-task",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "1",
		Enabled:       true,
	})
	if err := st.SetNextRunAt(task.ID, ptrTime(time.Now().UTC())); err != nil {
		t.Fatalf("set next_run_at: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	time.Sleep(3 * time.Second)
	sched.Stop()

	page, err := st.ListExecutions(store.ExecutionFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("list executions: %v", err)
	}
	if page.Total == 0 {
		t.Fatal("expected at least one execution")
	}
	// Each run takes 1.2s against a 1s interval: runs must never overlap.
	for i := 0; i < len(page.Items)-1; i++ {
		later := page.Items[i]
		earlier := page.Items[i+1]
		if earlier.FinishedAt == nil || later.StartedAt.Before(*earlier.FinishedAt) {
			t.Errorf("executions overlapped: %+v started before %+v finished", later, earlier)
		}
	}
}
