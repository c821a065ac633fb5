// Package executor runs one task to a terminal Execution, coordinating the
// Store, the Vault, and the sandbox the way spec.md §4.2 requires: load
// task+template, validate params, resolve credentials, run the script,
// persist the result — with no step able to leave a task "running" forever
// if an earlier step fails.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

const (
	// DefaultTimeout is used when Options.Timeout is zero.
	DefaultTimeout = 5 * time.Minute
	// MaxTimeout is the hard cap regardless of what a caller requests.
	MaxTimeout = 30 * time.Minute
)

// Options customizes one execute() call.
type Options struct {
	Timeout time.Duration
}

// Result is what execute() returns to its caller (the scheduler or the
// control plane's synchronous execute(id) operation).
type Result struct {
	Execution store.Execution
	Success   bool
	Error     string
}

// Executor ties the store, vault, and sandbox together.
type Executor struct {
	store  *store.Store
	vault  *vault.Vault
	runner *sandbox.Runner
	logger *slog.Logger
}

// New builds an Executor. logger may be nil (defaults to slog.Default()).
func New(st *store.Store, v *vault.Vault, runner *sandbox.Runner, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{store: st, vault: v, runner: runner, logger: logger.With("component", "executor")}
}

// Execute runs taskID's script to a terminal Execution row.
func (e *Executor) Execute(ctx context.Context, taskID int64, opts Options) (Result, error) {
	traceID := uuid.New().String()
	log := e.logger.With("task_id", taskID, "trace_id", traceID)

	task, err := e.store.GetTask(taskID)
	if err != nil {
		return Result{}, err
	}
	tmpl, err := e.store.GetTemplate(task.TemplateID)
	if err != nil {
		return Result{}, err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if timeout > MaxTimeout {
		timeout = MaxTimeout
	}

	startedAt := time.Now().UTC()
	running, err := e.store.CreateRunningExecution(taskID, startedAt)
	if err != nil {
		return Result{}, err
	}
	log = log.With("execution_id", running.ID)
	log.Info("execution started", "template", tmpl.ID, "timeout", timeout)

	params, err := validateParams(tmpl, task)
	if err != nil {
		return e.abort(running, startedAt, errs.ExecutionError, err.Error(), log)
	}

	creds, err := e.resolveCredentials(task, log)
	if err != nil {
		return e.abort(running, startedAt, errs.CredentialUnavailable, err.Error(), log)
	}

	result, err := e.runner.Run(ctx, sandbox.ExecRequest{
		Code:        tmpl.Code,
		Params:      params,
		Credentials: creds,
		Timeout:     timeout,
	})
	if err != nil {
		return e.abort(running, startedAt, errs.Internal, fmt.Sprintf("sandbox failed to start: %v", err), log)
	}

	finishedAt := time.Now().UTC()

	if result.Killed {
		msg := fmt.Sprintf("execution exceeded timeout of %dms", timeout.Milliseconds())
		if err := e.store.FinishExecution(running.ID, finishedAt, store.StatusTimeout, toOutput(result), &msg); err != nil {
			return Result{}, err
		}
		log.Warn("execution timed out", "timeout_ms", timeout.Milliseconds())
		return Result{Execution: mustReload(e.store, running.ID), Success: false, Error: msg}, nil
	}

	if result.ErrorMsg != "" {
		if err := e.store.FinishExecution(running.ID, finishedAt, store.StatusFailed, toOutput(result), &result.ErrorMsg); err != nil {
			return Result{}, err
		}
		log.Warn("execution failed", "error", result.ErrorMsg)
		return Result{Execution: mustReload(e.store, running.ID), Success: false, Error: result.ErrorMsg}, nil
	}

	output := toOutput(result)
	if _, err := json.Marshal(output.ReturnValue); err != nil {
		msg := "return value not serialisable"
		if err := e.store.FinishExecution(running.ID, finishedAt, store.StatusFailed, output, &msg); err != nil {
			return Result{}, err
		}
		return Result{Execution: mustReload(e.store, running.ID), Success: false, Error: msg}, nil
	}

	if err := e.store.FinishExecution(running.ID, finishedAt, store.StatusSuccess, output, nil); err != nil {
		return Result{}, err
	}
	e.stampCredentialsUsed(task, finishedAt)

	log.Info("execution succeeded", "duration_ms", finishedAt.Sub(startedAt).Milliseconds())
	return Result{Execution: mustReload(e.store, running.ID), Success: true}, nil
}

// abort finishes a running row immediately with a terminal status, for
// failures detected before the sandbox ever starts (spec.md §4.2: "aborted
// before user code starts").
func (e *Executor) abort(running store.Execution, startedAt time.Time, kind errs.Kind, msg string, log *slog.Logger) (Result, error) {
	finishedAt := time.Now().UTC()
	if err := e.store.FinishExecution(running.ID, finishedAt, store.StatusFailed, nil, &msg); err != nil {
		return Result{}, err
	}
	log.Warn("execution aborted before sandbox start", "kind", string(kind), "error", msg)
	return Result{Execution: mustReload(e.store, running.ID), Success: false, Error: msg}, nil
}

// resolveCredentials fetches and decrypts every credential the task
// declares. All-or-nothing: if any name fails to resolve, none are stamped
// used (spec.md §4.2).
func (e *Executor) resolveCredentials(task store.Task, log *slog.Logger) (map[string]string, error) {
	creds := make(map[string]string, len(task.Credentials))
	for _, name := range task.Credentials {
		enc, err := e.store.EncryptedValue(name)
		if err != nil {
			return nil, fmt.Errorf("credential %s unavailable", name)
		}
		plain, err := e.vault.Unseal(enc)
		if err != nil {
			log.Error("credential decryption failed", "credential", name)
			return nil, fmt.Errorf("credential %s unavailable", name)
		}
		creds[name] = plain
	}
	return creds, nil
}

func (e *Executor) stampCredentialsUsed(task store.Task, at time.Time) {
	for _, name := range task.Credentials {
		if err := e.store.StampUsed(name, at); err != nil {
			e.logger.Warn("failed to stamp credential used", "credential", name, "error", err)
		}
	}
}

func toOutput(result *sandbox.ExecResult) *store.Output {
	out := &store.Output{ReturnValue: result.ReturnValue}
	for _, line := range result.Console {
		out.Console = append(out.Console, store.ConsoleLine{
			Level:     line.Level,
			Timestamp: line.Timestamp,
			Message:   line.Message,
		})
	}
	return out
}

// mustReload re-fetches the execution row for the caller's response. An
// error here is neither propagated nor logged: the caller gets a
// placeholder carrying only the id and StatusFailed.
func mustReload(st *store.Store, id int64) store.Execution {
	exec, err := st.GetExecution(id)
	if err != nil {
		return store.Execution{ID: id, Status: store.StatusFailed}
	}
	return exec
}
