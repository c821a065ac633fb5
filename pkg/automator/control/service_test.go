package control

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/scheduler"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

func requireNode(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("node"); err != nil {
		t.Skip("node binary not available on PATH")
	}
}

func newTestService(t *testing.T) *Service {
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
	sched := scheduler.New(st, ex, scheduler.Options{}, nil)

	return New(st, v, ex, sched, "test")
}

func TestTemplateRoundTrip(t *testing.T) {
	svc := newTestService(t)

	created, err := svc.CreateTemplate(store.Template{
		ID:   "greeter",
		Name: "Greeter",
		Code: `return "hi";`,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := svc.GetTemplate(created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name != "Greeter" || got.Code != `return "hi";` {
		t.Errorf("get did not reflect created template: %+v", got)
	}

	updated, err := svc.UpdateTemplate(created.ID, store.Template{Name: "Greeter v2", Code: `return "hi v2";`})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Name != "Greeter v2" {
		t.Errorf("update did not apply patch: %+v", updated)
	}

	if err := svc.DeleteTemplate(created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := svc.GetTemplate(created.ID); errs.KindOf(err) != errs.NotFound {
		t.Errorf("expected not_found after delete, got %v", err)
	}
}

func TestTaskRoundTripAndToggle(t *testing.T) {
	svc := newTestService(t)

	tmpl, err := svc.CreateTemplate(store.Template{ID: "noop", Name: "Noop", Code: `return null;`})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	created, err := svc.CreateTask(store.Task{
		TemplateID:    tmpl.ID,
		Name:          "my-task",
		ScheduleType:  store.ScheduleInterval,
		ScheduleValue: "60",
		Enabled:       true,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if created.NextRunAt == nil {
		t.Error("expected nextRunAt to be set for an enabled task with a valid schedule (I3)")
	}

	got, err := svc.GetTask(created.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if got.Name != "my-task" {
		t.Errorf("get did not reflect created task: %+v", got)
	}

	toggledOff, err := svc.ToggleTask(created.ID, false)
	if err != nil {
		t.Fatalf("toggle off: %v", err)
	}
	if toggledOff.Enabled {
		t.Error("expected task disabled")
	}
	if toggledOff.NextRunAt != nil {
		t.Error("expected nextRunAt cleared for a disabled task (I3)")
	}

	toggledOn, err := svc.ToggleTask(created.ID, true)
	if err != nil {
		t.Fatalf("toggle on: %v", err)
	}
	if !toggledOn.Enabled {
		t.Error("expected task re-enabled: toggle twice should be identity on enabled")
	}
	if toggledOn.NextRunAt == nil {
		t.Error("expected nextRunAt recomputed after re-enabling")
	}

	if err := svc.DeleteTask(created.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
}

func TestCredentialDeleteGuard(t *testing.T) {
	svc := newTestService(t)

	tmpl, err := svc.CreateTemplate(store.Template{ID: "uses-cred", Name: "Uses cred", Code: `return credentials.X;`})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	cred, err := svc.CreateCredentialWithValue(store.Credential{Name: "X", Type: store.CredSecret}, "secret-value")
	if err != nil {
		t.Fatalf("create credential: %v", err)
	}
	if !cred.HasValue {
		t.Error("expected hasValue true after CreateCredentialWithValue")
	}

	task, err := svc.CreateTask(store.Task{
		TemplateID:    tmpl.ID,
		Name:          "cred-user",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       false,
		Credentials:   []string{"X"},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if err := svc.DeleteCredential(cred.ID); errs.KindOf(err) != errs.Conflict {
		t.Fatalf("expected conflict deleting a referenced credential, got %v", err)
	}

	if err := svc.DeleteTask(task.ID); err != nil {
		t.Fatalf("delete task: %v", err)
	}
	if err := svc.DeleteCredential(cred.ID); err != nil {
		t.Fatalf("expected delete to succeed once no task references the credential: %v", err)
	}
}

func TestCredentialListingNeverExposesPlaintext(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateCredentialWithValue(store.Credential{Name: "SECRET", Type: store.CredAPIKey}, "super-secret"); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	list, err := svc.ListCredentials()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || !list[0].HasValue {
		t.Fatalf("expected one credential with hasValue=true, got %+v", list)
	}
	// store.Credential has no plaintext/ciphertext field at all — the type
	// itself is the guarantee that a list response can't carry a secret.
}

func TestStatusReportsCounts(t *testing.T) {
	svc := newTestService(t)
	if _, err := svc.CreateTemplate(store.Template{ID: "t1", Name: "T1", Code: `return 1;`}); err != nil {
		t.Fatalf("create template: %v", err)
	}
	status, err := svc.Status()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if status.Counts.Templates != 1 {
		t.Errorf("expected 1 template, got %d", status.Counts.Templates)
	}
	if status.Version != "test" {
		t.Errorf("expected version 'test', got %q", status.Version)
	}
}

func TestExecuteTaskSerializesAgainstReservation(t *testing.T) {
	requireNode(t)
	svc := newTestService(t)

	tmpl, err := svc.CreateTemplate(store.Template{
		ID:   "slow",
		Name: "Slow",
		Code: `await new Promise((resolve) => setTimeout(resolve, 300)); return 1;`,
	})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	task, err := svc.CreateTask(store.Task{
		TemplateID:    tmpl.ID,
		Name:          "slow-task",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       false,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Manually hold the reservation the way the scheduler's tick loop would
	// while a scheduled run is in flight.
	if !svc.scheduler.TryReserve(task.ID) {
		t.Fatal("expected to acquire reservation")
	}
	if _, err := svc.ExecuteTask(context.Background(), task.ID, 0); errs.KindOf(err) != errs.Conflict {
		t.Fatalf("expected conflict executing a task already reserved, got %v", err)
	}
	svc.scheduler.Release(task.ID)

	result, err := svc.ExecuteTask(context.Background(), task.ID, 0)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got %q", result.Error)
	}
}
