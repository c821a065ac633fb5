package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
)

// ListTasks returns tasks matching filter.
func (s *Store) ListTasks(filter TaskFilter) ([]Task, error) {
	query := `SELECT id, template_id, name, params, schedule_type, schedule_value,
		credentials, enabled, created_at, updated_at, last_run_at, next_run_at FROM tasks`
	var clauses []string
	var args []any

	if filter.Enabled != nil {
		clauses = append(clauses, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.TemplateID != "" {
		clauses = append(clauses, "template_id = ?")
		args = append(args, filter.TemplateID)
	}
	if len(clauses) > 0 {
		query += " WHERE " + joinAnd(clauses)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "list tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan task", err)
		}
		if filter.HasErrors {
			hasErr, err := s.taskHasRecentError(t.ID)
			if err != nil {
				return nil, err
			}
			if !hasErr {
				continue
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) taskHasRecentError(taskID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM executions
		WHERE task_id = ? AND status IN ('failed','timeout')`, taskID).Scan(&n)
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "check task errors", err)
	}
	return n > 0, nil
}

// GetTask fetches a task by surrogate id.
func (s *Store) GetTask(id int64) (Task, error) {
	row := s.db.QueryRow(`SELECT id, template_id, name, params, schedule_type, schedule_value,
		credentials, enabled, created_at, updated_at, last_run_at, next_run_at
		FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Task{}, errs.NotFoundf("task %d not found", id)
	}
	if err != nil {
		return Task{}, errs.Wrap(errs.StorageError, "get task", err)
	}
	return t, nil
}

// CreateTask inserts a new task after checking I1 (template exists) and I2
// (credential names exist). NextRunAt starts unset; the scheduler computes
// and persists it via SetNextRunAt immediately after creation.
func (s *Store) CreateTask(t Task) (Task, error) {
	if _, err := s.GetTemplate(t.TemplateID); err != nil {
		return Task{}, errs.Wrap(errs.Validation, fmt.Sprintf("task references unknown template %q", t.TemplateID), err)
	}
	if err := s.checkCredentialsExist(t.Credentials); err != nil {
		return Task{}, err
	}

	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.LastRunAt, t.NextRunAt = nil, nil

	paramsJSON, credsJSON, err := marshalTaskColumns(t)
	if err != nil {
		return Task{}, errs.Wrap(errs.Validation, "encode task", err)
	}

	res, err := s.db.Exec(`INSERT INTO tasks
		(template_id, name, params, schedule_type, schedule_value, credentials,
		 enabled, created_at, updated_at, last_run_at, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL)`,
		t.TemplateID, t.Name, paramsJSON, string(t.ScheduleType), t.ScheduleValue, credsJSON,
		boolToInt(t.Enabled), formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return Task{}, errs.Conflictf("task name %q already in use", t.Name)
		}
		return Task{}, errs.Wrap(errs.StorageError, "create task", err)
	}
	t.ID, err = res.LastInsertId()
	if err != nil {
		return Task{}, errs.Wrap(errs.StorageError, "read new task id", err)
	}
	return t, nil
}

// UpdateTask applies patch fields. NextRunAt is left untouched here — the
// caller (control plane) invokes the scheduler's onTaskChanged afterwards to
// recompute it from the new schedule.
func (s *Store) UpdateTask(id int64, patch Task) (Task, error) {
	existing, err := s.GetTask(id)
	if err != nil {
		return Task{}, err
	}
	if patch.TemplateID != "" && patch.TemplateID != existing.TemplateID {
		if _, err := s.GetTemplate(patch.TemplateID); err != nil {
			return Task{}, errs.Wrap(errs.Validation, fmt.Sprintf("task references unknown template %q", patch.TemplateID), err)
		}
		existing.TemplateID = patch.TemplateID
	}
	if err := s.checkCredentialsExist(patch.Credentials); err != nil {
		return Task{}, err
	}

	existing.Name = patch.Name
	existing.Params = patch.Params
	existing.ScheduleType = patch.ScheduleType
	existing.ScheduleValue = patch.ScheduleValue
	existing.Credentials = patch.Credentials
	existing.Enabled = patch.Enabled
	existing.UpdatedAt = time.Now().UTC()

	paramsJSON, credsJSON, err := marshalTaskColumns(existing)
	if err != nil {
		return Task{}, errs.Wrap(errs.Validation, "encode task", err)
	}

	_, err = s.db.Exec(`UPDATE tasks SET template_id=?, name=?, params=?, schedule_type=?,
		schedule_value=?, credentials=?, enabled=?, updated_at=? WHERE id = ?`,
		existing.TemplateID, existing.Name, paramsJSON, string(existing.ScheduleType),
		existing.ScheduleValue, credsJSON, boolToInt(existing.Enabled), formatTime(existing.UpdatedAt), id)
	if err != nil {
		if isUniqueViolation(err) {
			return Task{}, errs.Conflictf("task name %q already in use", existing.Name)
		}
		return Task{}, errs.Wrap(errs.StorageError, "update task", err)
	}
	return s.GetTask(id)
}

// SetEnabled toggles Task.Enabled. The caller still owns recomputing
// NextRunAt via the scheduler (I3: disabled tasks carry NextRunAt = null).
func (s *Store) SetEnabled(id int64, enabled bool) (Task, error) {
	if _, err := s.GetTask(id); err != nil {
		return Task{}, err
	}
	_, err := s.db.Exec(`UPDATE tasks SET enabled = ?, updated_at = ? WHERE id = ?`,
		boolToInt(enabled), formatTime(time.Now().UTC()), id)
	if err != nil {
		return Task{}, errs.Wrap(errs.StorageError, "toggle task", err)
	}
	if !enabled {
		if err := s.SetNextRunAt(id, nil); err != nil {
			return Task{}, err
		}
	}
	return s.GetTask(id)
}

// SetNextRunAt persists the scheduler's computed next fire time (or clears
// it). Enforces I3 structurally: callers pass nil for disabled tasks.
func (s *Store) SetNextRunAt(id int64, next *time.Time) error {
	_, err := s.db.Exec(`UPDATE tasks SET next_run_at = ? WHERE id = ?`, formatTimePtr(next), id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "set next_run_at", err)
	}
	return nil
}

// DeleteTask removes a task; ON DELETE CASCADE removes its executions.
func (s *Store) DeleteTask(id int64) error {
	res, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "delete task", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("task %d not found", id)
	}
	return nil
}

// GetDueTasks returns enabled tasks with a past-or-equal NextRunAt, ordered
// ascending, per spec.md §4.1's tick-loop fetch.
func (s *Store) GetDueTasks(now time.Time) ([]Task, error) {
	rows, err := s.db.Query(`SELECT id, template_id, name, params, schedule_type, schedule_value,
		credentials, enabled, created_at, updated_at, last_run_at, next_run_at
		FROM tasks WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`, formatTime(now))
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "get due tasks", err)
	}
	defer rows.Close()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan due task", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ClaimTask atomically compares the row's current next_run_at against
// expectedNextRunAt and, if unchanged, advances it to newNextRunAt and
// stamps last_run_at — all within one transaction. Returns false (no error)
// if another claimant (or an external edit) already moved next_run_at,
// which is the mechanism that prevents double-firing across restarts or
// concurrent scheduler instances (spec.md §4.1, §9).
func (s *Store) ClaimTask(id int64, expectedNextRunAt time.Time, newNextRunAt *time.Time, runAt time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "begin claim transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE tasks SET next_run_at = ?, last_run_at = ?
		WHERE id = ? AND enabled = 1 AND next_run_at = ?`,
		formatTimePtr(newNextRunAt), formatTime(runAt), id, formatTime(expectedNextRunAt))
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "read claim result", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := tx.Commit(); err != nil {
		return false, errs.Wrap(errs.StorageError, "commit claim", err)
	}
	return true, nil
}

// AdvanceNextRunAt is ClaimTask's sibling for the "tick skipped" path: it
// advances next_run_at under the same compare-and-swap discipline but never
// touches last_run_at, since no execution actually started (spec.md §4.1,
// per-task serialization).
func (s *Store) AdvanceNextRunAt(id int64, expectedNextRunAt time.Time, newNextRunAt *time.Time) (bool, error) {
	res, err := s.db.Exec(`UPDATE tasks SET next_run_at = ?
		WHERE id = ? AND enabled = 1 AND next_run_at = ?`,
		formatTimePtr(newNextRunAt), id, formatTime(expectedNextRunAt))
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "advance next_run_at", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errs.Wrap(errs.StorageError, "read advance result", err)
	}
	return n > 0, nil
}

// GetTasksUsingCredential is the delete-guard query for credential deletion
// (spec.md §4.4 "getTasksInUseCredentials"). Tasks.Credentials is a JSON
// array column; membership is checked in Go since the embedded driver here
// carries no JSON1 extension to push the predicate into SQL.
func (s *Store) GetTasksUsingCredential(name string) ([]int64, error) {
	rows, err := s.db.Query(`SELECT id, credentials FROM tasks`)
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "query tasks", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		var credsJSON string
		if err := rows.Scan(&id, &credsJSON); err != nil {
			return nil, errs.Wrap(errs.StorageError, "scan task credentials", err)
		}
		var creds []string
		if err := json.Unmarshal([]byte(credsJSON), &creds); err != nil {
			return nil, errs.Wrap(errs.StorageError, "decode task credentials", err)
		}
		for _, c := range creds {
			if c == name {
				ids = append(ids, id)
				break
			}
		}
	}
	return ids, rows.Err()
}

func (s *Store) checkCredentialsExist(names []string) error {
	for _, name := range names {
		if _, err := s.GetCredentialByName(name); err != nil {
			return errs.Wrap(errs.Validation, fmt.Sprintf("task references unknown credential %q", name), err)
		}
	}
	return nil
}

func scanTask(row rowScanner) (Task, error) {
	var (
		t             Task
		paramsJSON    string
		scheduleType  string
		credsJSON     string
		enabled       int
		createdAt     string
		updatedAt     string
		lastRunAt     sql.NullString
		nextRunAt     sql.NullString
	)
	if err := row.Scan(&t.ID, &t.TemplateID, &t.Name, &paramsJSON, &scheduleType, &t.ScheduleValue,
		&credsJSON, &enabled, &createdAt, &updatedAt, &lastRunAt, &nextRunAt); err != nil {
		return Task{}, err
	}

	if err := json.Unmarshal([]byte(paramsJSON), &t.Params); err != nil {
		return Task{}, err
	}
	if err := json.Unmarshal([]byte(credsJSON), &t.Credentials); err != nil {
		return Task{}, err
	}
	t.ScheduleType = ScheduleType(scheduleType)
	t.Enabled = enabled != 0
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	if lastRunAt.Valid {
		v := parseTime(lastRunAt.String)
		t.LastRunAt = &v
	}
	if nextRunAt.Valid {
		v := parseTime(nextRunAt.String)
		t.NextRunAt = &v
	}
	return t, nil
}

func marshalTaskColumns(t Task) (paramsJSON, credsJSON string, err error) {
	if t.Params == nil {
		t.Params = map[string]any{}
	}
	if t.Credentials == nil {
		t.Credentials = []string{}
	}
	p, err := json.Marshal(t.Params)
	if err != nil {
		return "", "", err
	}
	c, err := json.Marshal(t.Credentials)
	if err != nil {
		return "", "", err
	}
	return string(p), string(c), nil
}

func joinAnd(clauses []string) string {
	out := clauses[0]
	for _, c := range clauses[1:] {
		out += " AND " + c
	}
	return out
}
