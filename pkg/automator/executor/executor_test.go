package executor

import (
	"context"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

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

func newTestExecutor(t *testing.T) (*Executor, *store.Store) {
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

	return New(st, v, runner, nil), st
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

func TestExecuteSuccess(t *testing.T) {
	requireNode(t)
	ex, st := newTestExecutor(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "echo-message",
		Name: "Echo message",
		Code: `console.log(params.message); return params.message;`,
		ParamsSchema: []store.ParamDecl{
			{Name: "message", Type: store.ParamString, Required: true},
		},
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "echo-task",
		Params:        map[string]any{"message": "hi"},
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       true,
	})

	result, err := ex.Execute(context.Background(), task.ID, Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Execution.Status != store.StatusSuccess {
		t.Errorf("expected status success, got %s", result.Execution.Status)
	}
	if result.Execution.Output == nil || result.Execution.Output.ReturnValue != "hi" {
		t.Errorf("expected return value 'hi', got %+v", result.Execution.Output)
	}
	if result.Execution.FinishedAt == nil || result.Execution.FinishedAt.Before(result.Execution.StartedAt) {
		t.Error("expected finishedAt >= startedAt")
	}
}

func TestExecuteMissingRequiredParam(t *testing.T) {
	requireNode(t)
	ex, st := newTestExecutor(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "needs-param",
		Name: "Needs param",
		Code: `return params.message;`,
		ParamsSchema: []store.ParamDecl{
			{Name: "message", Type: store.ParamString, Required: true},
		},
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "broken-task",
		Params:        map[string]any{},
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       true,
	})

	result, err := ex.Execute(context.Background(), task.ID, Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure due to missing required parameter")
	}
	if result.Execution.Status != store.StatusFailed {
		t.Errorf("expected status failed, got %s", result.Execution.Status)
	}
}

func TestExecuteCredentialUnavailable(t *testing.T) {
	requireNode(t)
	ex, st := newTestExecutor(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "needs-cred",
		Name: "Needs credential",
		Code: `return credentials.missing;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "cred-task",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       true,
	})
	// Declare the credential so the fixup's I2 check passes, but never set
	// a value — decryption must fail at execute time, not earlier.
	if _, err := st.CreateCredential(store.Credential{Name: "does-not-exist", Type: store.CredSecret}, ""); err != nil {
		t.Fatalf("create credential: %v", err)
	}
	task = mustCreateTaskFixup(t, st, task.ID, []string{"does-not-exist"})

	result, err := ex.Execute(context.Background(), task.ID, Options{})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Success {
		t.Fatal("expected failure due to unavailable credential")
	}
}

// mustCreateTaskFixup re-points a task's credential list after the
// credential row exists, since CreateTask's I2 check requires the
// credential to already exist before the task references it.
func mustCreateTaskFixup(t *testing.T, st *store.Store, id int64, creds []string) store.Task {
	t.Helper()
	existing, err := st.GetTask(id)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	existing.Credentials = creds
	updated, err := st.UpdateTask(id, existing)
	if err != nil {
		t.Fatalf("update task: %v", err)
	}
	return updated
}

func TestExecuteTimeout(t *testing.T) {
	requireNode(t)
	ex, st := newTestExecutor(t)

	tmpl := mustCreateTemplate(t, st, store.Template{
		ID:   "slow-task",
		Name: "Slow task",
		Code: `await new Promise((resolve) => setTimeout(resolve, 5000)); return null;`,
	})
	task := mustCreateTask(t, st, store.Task{
		TemplateID:    tmpl.ID,
		Name:          "slow",
		ScheduleType:  store.ScheduleOnce,
		ScheduleValue: time.Now().Add(time.Hour).UTC().Format(time.RFC3339),
		Enabled:       true,
	})

	result, err := ex.Execute(context.Background(), task.ID, Options{Timeout: 100 * time.Millisecond})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result.Execution.Status != store.StatusTimeout {
		t.Errorf("expected status timeout, got %s", result.Execution.Status)
	}
	if result.Execution.DurationMs == nil || *result.Execution.DurationMs < 100 || *result.Execution.DurationMs > 2000 {
		t.Errorf("expected durationMs in [100, 2000], got %v", result.Execution.DurationMs)
	}
}
