package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
)

// CreateRunningExecution inserts the "running" row an executor writes before
// it starts a script, so a crash mid-run still leaves a recoverable trace
// (spec.md §5 recovery sweep).
func (s *Store) CreateRunningExecution(taskID int64, startedAt time.Time) (Execution, error) {
	res, err := s.db.Exec(`INSERT INTO executions (task_id, started_at, status)
		VALUES (?, ?, ?)`, taskID, formatTime(startedAt), string(StatusRunning))
	if err != nil {
		return Execution{}, errs.Wrap(errs.StorageError, "create execution", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Execution{}, errs.Wrap(errs.StorageError, "read new execution id", err)
	}
	return Execution{ID: id, TaskID: taskID, StartedAt: startedAt, Status: StatusRunning}, nil
}

// FinishExecution stamps the terminal state of a run in one UPDATE
// statement: finished_at, status, output/error, and duration (computed from
// the row's started_at). Called by the executor when a run ends and by
// RecoverStaleRunning; it does not touch the owning task row (last_run_at
// is stamped by ClaimTask).
func (s *Store) FinishExecution(id int64, finishedAt time.Time, status ExecutionStatus, output *Output, execErr *string) error {
	var outputJSON sql.NullString
	if output != nil {
		b, err := json.Marshal(output)
		if err != nil {
			return errs.Wrap(errs.Internal, "encode execution output", err)
		}
		outputJSON = sql.NullString{String: string(b), Valid: true}
	}

	row := s.db.QueryRow(`SELECT started_at FROM executions WHERE id = ?`, id)
	var startedAtStr string
	if err := row.Scan(&startedAtStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFoundf("execution %d not found", id)
		}
		return errs.Wrap(errs.StorageError, "read execution start time", err)
	}
	startedAt := parseTime(startedAtStr)
	durationMs := finishedAt.Sub(startedAt).Milliseconds()

	_, err := s.db.Exec(`UPDATE executions SET finished_at=?, status=?, output=?, error=?, duration_ms=?
		WHERE id = ?`, formatTime(finishedAt), string(status), outputJSON, execErr, durationMs, id)
	if err != nil {
		return errs.Wrap(errs.StorageError, "finish execution", err)
	}
	return nil
}

// GetExecution fetches a single execution by id.
func (s *Store) GetExecution(id int64) (Execution, error) {
	row := s.db.QueryRow(`SELECT id, task_id, started_at, finished_at, status, output, error, duration_ms
		FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Execution{}, errs.NotFoundf("execution %d not found", id)
	}
	if err != nil {
		return Execution{}, errs.Wrap(errs.StorageError, "get execution", err)
	}
	return e, nil
}

// ListExecutions returns a filtered, paginated page, newest first.
func (s *Store) ListExecutions(filter ExecutionFilter) (ExecutionPage, error) {
	where := "WHERE 1=1"
	var args []any

	if filter.TaskID != 0 {
		where += " AND task_id = ?"
		args = append(args, filter.TaskID)
	}
	if filter.Status != "" {
		where += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	if filter.StartDate != nil {
		where += " AND started_at >= ?"
		args = append(args, formatTime(*filter.StartDate))
	}
	if filter.EndDate != nil {
		where += " AND started_at <= ?"
		args = append(args, formatTime(*filter.EndDate))
	}

	var total int
	countArgs := append([]any{}, args...)
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions `+where, countArgs...).Scan(&total); err != nil {
		return ExecutionPage{}, errs.Wrap(errs.StorageError, "count executions", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT id, task_id, started_at, finished_at, status, output, error, duration_ms
		FROM executions ` + where + ` ORDER BY started_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return ExecutionPage{}, errs.Wrap(errs.StorageError, "list executions", err)
	}
	defer rows.Close()

	var items []Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return ExecutionPage{}, errs.Wrap(errs.StorageError, "scan execution", err)
		}
		items = append(items, e)
	}
	if err := rows.Err(); err != nil {
		return ExecutionPage{}, errs.Wrap(errs.StorageError, "list executions", err)
	}
	return ExecutionPage{Items: items, Total: total}, nil
}

// PruneExecutions deletes executions started before the retention cutoff
// (spec.md §6 retention sweep). Returns the number of rows removed.
func (s *Store) PruneExecutions(olderThanDays int) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -olderThanDays)
	res, err := s.db.Exec(`DELETE FROM executions WHERE started_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, errs.Wrap(errs.StorageError, "prune executions", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errs.Wrap(errs.StorageError, "read prune result", err)
	}
	return n, nil
}

// RecoverStaleRunning finds executions still marked "running" from before a
// crash or restart and marks them "timeout" with an explanatory error, then
// returns the affected task ids so the scheduler can re-evaluate them
// (spec.md §7 "recovery sweep on start").
func (s *Store) RecoverStaleRunning() ([]int64, error) {
	rows, err := s.db.Query(`SELECT id, task_id FROM executions WHERE status = ?`, string(StatusRunning))
	if err != nil {
		return nil, errs.Wrap(errs.StorageError, "query stale running executions", err)
	}
	type pending struct {
		id, taskID int64
	}
	var stale []pending
	for rows.Next() {
		var p pending
		if err := rows.Scan(&p.id, &p.taskID); err != nil {
			rows.Close()
			return nil, errs.Wrap(errs.StorageError, "scan stale execution", err)
		}
		stale = append(stale, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.StorageError, "query stale running executions", err)
	}

	now := time.Now().UTC()
	msg := "daemon restarted during execution"
	var taskIDs []int64
	for _, p := range stale {
		if err := s.FinishExecution(p.id, now, StatusTimeout, nil, &msg); err != nil {
			return nil, err
		}
		taskIDs = append(taskIDs, p.taskID)
	}
	return taskIDs, nil
}

func scanExecution(row rowScanner) (Execution, error) {
	var (
		e          Execution
		startedAt  string
		finishedAt sql.NullString
		status     string
		outputJSON sql.NullString
		execErr    sql.NullString
		durationMs sql.NullInt64
	)
	if err := row.Scan(&e.ID, &e.TaskID, &startedAt, &finishedAt, &status, &outputJSON, &execErr, &durationMs); err != nil {
		return Execution{}, err
	}
	e.StartedAt = parseTime(startedAt)
	e.Status = ExecutionStatus(status)
	if finishedAt.Valid {
		v := parseTime(finishedAt.String)
		e.FinishedAt = &v
	}
	if outputJSON.Valid {
		var out Output
		if err := json.Unmarshal([]byte(outputJSON.String), &out); err != nil {
			return Execution{}, err
		}
		e.Output = &out
	}
	if execErr.Valid {
		e.Error = &execErr.String
	}
	if durationMs.Valid {
		e.DurationMs = &durationMs.Int64
	}
	return e, nil
}
