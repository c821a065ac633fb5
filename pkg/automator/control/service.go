// Package control implements the control-plane operations shared by the
// HTTP and MCP adapters (spec.md §6): a thin validation/orchestration layer
// over the Store, Vault, Executor, and Scheduler. Neither adapter talks to
// those subsystems directly.
package control

import (
	"context"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/scheduler"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

// Service is the single entry point both adapters call into.
type Service struct {
	store     *store.Store
	vault     *vault.Vault
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	startedAt time.Time
	version   string
}

// New builds a Service. version is surfaced by Status().
func New(st *store.Store, v *vault.Vault, ex *executor.Executor, sched *scheduler.Scheduler, version string) *Service {
	return &Service{store: st, vault: v, executor: ex, scheduler: sched, startedAt: time.Now().UTC(), version: version}
}

// --- Templates -------------------------------------------------------------

func (s *Service) ListTemplates(category string) ([]store.Template, error) {
	return s.store.ListTemplates(category)
}

func (s *Service) GetTemplate(id string) (store.Template, error) {
	return s.store.GetTemplate(id)
}

func (s *Service) CreateTemplate(t store.Template) (store.Template, error) {
	if t.ID == "" || t.Name == "" {
		return store.Template{}, errs.Validationf("template id and name are required")
	}
	t.IsBuiltin = false
	return s.store.CreateTemplate(t)
}

func (s *Service) UpdateTemplate(id string, patch store.Template) (store.Template, error) {
	return s.store.UpdateTemplate(id, patch)
}

func (s *Service) DeleteTemplate(id string) error {
	return s.store.DeleteTemplate(id)
}

// --- Tasks -------------------------------------------------------------

func (s *Service) ListTasks(filter store.TaskFilter) ([]store.Task, error) {
	return s.store.ListTasks(filter)
}

func (s *Service) GetTask(id int64) (store.Task, error) {
	return s.store.GetTask(id)
}

func (s *Service) CreateTask(t store.Task) (store.Task, error) {
	created, err := s.store.CreateTask(t)
	if err != nil {
		return store.Task{}, err
	}
	s.scheduler.OnTaskChanged(created.ID)
	return s.store.GetTask(created.ID)
}

func (s *Service) UpdateTask(id int64, patch store.Task) (store.Task, error) {
	_, err := s.store.UpdateTask(id, patch)
	if err != nil {
		return store.Task{}, err
	}
	s.scheduler.OnTaskChanged(id)
	return s.store.GetTask(id)
}

func (s *Service) DeleteTask(id int64) error {
	if err := s.store.DeleteTask(id); err != nil {
		return err
	}
	s.scheduler.OnTaskChanged(id)
	return nil
}

func (s *Service) ToggleTask(id int64, enabled bool) (store.Task, error) {
	if _, err := s.store.SetEnabled(id, enabled); err != nil {
		return store.Task{}, err
	}
	s.scheduler.OnTaskChanged(id)
	return s.store.GetTask(id)
}

// ExecuteTask runs a task synchronously, outside the scheduler's tick loop,
// serialized against scheduled dispatch via the scheduler's shared
// reservation (spec.md §9 Open Question resolution).
func (s *Service) ExecuteTask(ctx context.Context, id int64, timeoutMs int) (executor.Result, error) {
	if !s.scheduler.TryReserve(id) {
		return executor.Result{}, errs.Conflictf("task %d already has an execution in flight", id)
	}
	defer s.scheduler.Release(id)

	opts := executor.Options{}
	if timeoutMs > 0 {
		opts.Timeout = time.Duration(timeoutMs) * time.Millisecond
	}
	return s.executor.Execute(ctx, id, opts)
}

// --- Executions -------------------------------------------------------------

func (s *Service) ListExecutions(filter store.ExecutionFilter) (store.ExecutionPage, error) {
	return s.store.ListExecutions(filter)
}

func (s *Service) GetExecution(id int64) (store.Execution, error) {
	return s.store.GetExecution(id)
}

// --- Credentials -------------------------------------------------------------

// ListCredentials returns metadata only; HasValue is the only signal of
// whether a secret is set (spec.md §6, §9 "credential value never in
// listings").
func (s *Service) ListCredentials() ([]store.Credential, error) {
	return s.store.ListCredentials()
}

func (s *Service) GetCredential(id int64) (store.Credential, error) {
	return s.store.GetCredential(id)
}

// CreateCredentialMetadata declares a credential without a value.
func (s *Service) CreateCredentialMetadata(c store.Credential) (store.Credential, error) {
	return s.store.CreateCredential(c, "")
}

// CreateCredentialWithValue declares a credential and seals its value
// through the vault in the same call.
func (s *Service) CreateCredentialWithValue(c store.Credential, plaintext string) (store.Credential, error) {
	enc, err := s.vault.Seal(plaintext)
	if err != nil {
		return store.Credential{}, errs.Wrap(errs.Internal, "seal credential value", err)
	}
	return s.store.CreateCredential(c, enc)
}

// UpdateCredentialValue re-seals and replaces an existing credential's value.
func (s *Service) UpdateCredentialValue(id int64, plaintext string) error {
	enc, err := s.vault.Seal(plaintext)
	if err != nil {
		return errs.Wrap(errs.Internal, "seal credential value", err)
	}
	return s.store.SetValue(id, enc)
}

func (s *Service) ClearCredentialValue(id int64) error {
	return s.store.ClearValue(id)
}

func (s *Service) DeleteCredential(id int64) error {
	return s.store.DeleteCredential(id)
}

// --- System -------------------------------------------------------------

// Status reports daemon-wide health and counters (spec.md §6 "System").
type Status struct {
	SchedulerRunning bool                `json:"schedulerRunning"`
	ActiveJobs       int                 `json:"activeJobs"`
	NextExecution    *time.Time          `json:"nextExecution,omitempty"`
	DBConnected      bool                `json:"dbConnected"`
	Counts           Counts              `json:"counts"`
	RecentActivity   store.RecentActivity `json:"recentActivity"`
	UptimeSeconds    int64               `json:"uptimeSeconds"`
	Version          string              `json:"version"`
}

// Counts mirrors store.Stats under the names spec.md §6 uses on the wire.
type Counts struct {
	Tasks       int `json:"tasks"`
	EnabledTasks int `json:"enabledTasks"`
	Executions  int `json:"executions"`
	Credentials int `json:"credentials"`
	Templates   int `json:"templates"`
}

// StartScheduler starts the background tick loop; see scheduler.Start.
func (s *Service) StartScheduler(ctx context.Context) error {
	return s.scheduler.Start(ctx)
}

// StopScheduler stops the background tick loop; see scheduler.Stop.
func (s *Service) StopScheduler() {
	s.scheduler.Stop()
}

func (s *Service) Status() (Status, error) {
	stats, err := s.store.GetStats()
	if err != nil {
		return Status{}, err
	}
	activity, err := s.store.GetRecentActivity(time.Now().UTC())
	if err != nil {
		return Status{}, err
	}

	enabled := true
	enabledTasks, err := s.store.ListTasks(store.TaskFilter{Enabled: &enabled})
	if err != nil {
		return Status{}, err
	}
	var next *time.Time
	for _, t := range enabledTasks {
		if t.NextRunAt == nil {
			continue
		}
		if next == nil || t.NextRunAt.Before(*next) {
			next = t.NextRunAt
		}
	}

	return Status{
		SchedulerRunning: s.scheduler.IsRunning(),
		ActiveJobs:       s.scheduler.JobCount(),
		NextExecution:    next,
		DBConnected:      true,
		Counts: Counts{
			Tasks:        stats.TasksCount,
			EnabledTasks: stats.EnabledTasksCount,
			Executions:   stats.ExecutionsCount,
			Credentials:  stats.CredentialsCount,
			Templates:    stats.TemplatesCount,
		},
		RecentActivity: activity,
		UptimeSeconds:  int64(time.Since(s.startedAt).Seconds()),
		Version:        s.version,
	}, nil
}
