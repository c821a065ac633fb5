package store

import (
	"time"

	"github.com/chaosslabs/personal-automator/pkg/automator/errs"
)

// RecentActivity summarizes the last 24 hours of executions for the
// status() control-plane operation's recentActivity field (spec.md §6).
type RecentActivity struct {
	Executions24h int
	SuccessRate   float64
	FailedCount   int
	PendingCount  int
	RecentErrors  int
}

// GetRecentActivity aggregates counters over the trailing 24-hour window.
func (s *Store) GetRecentActivity(now time.Time) (RecentActivity, error) {
	var a RecentActivity
	since := formatTime(now.Add(-24 * time.Hour))

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE started_at >= ?`, since).Scan(&a.Executions24h); err != nil {
		return RecentActivity{}, errs.Wrap(errs.StorageError, "count executions24h", err)
	}
	var succeeded int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE started_at >= ? AND status = 'success'`, since).Scan(&succeeded); err != nil {
		return RecentActivity{}, errs.Wrap(errs.StorageError, "count successes24h", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE started_at >= ? AND status IN ('failed','timeout')`, since).Scan(&a.FailedCount); err != nil {
		return RecentActivity{}, errs.Wrap(errs.StorageError, "count failures24h", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE status = 'running'`).Scan(&a.PendingCount); err != nil {
		return RecentActivity{}, errs.Wrap(errs.StorageError, "count pending", err)
	}
	a.RecentErrors = a.FailedCount
	if a.Executions24h > 0 {
		a.SuccessRate = float64(succeeded) / float64(a.Executions24h)
	}
	return a, nil
}

// GetStats aggregates the daemon-wide counters for the status() control-plane
// operation (spec.md §6 "System").
func (s *Store) GetStats() (Stats, error) {
	var st Stats

	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks`).Scan(&st.TasksCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count tasks", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM tasks WHERE enabled = 1`).Scan(&st.EnabledTasksCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count enabled tasks", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE status = 'running'`).Scan(&st.PendingExecutions); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count pending executions", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions WHERE status IN ('failed','timeout')`).Scan(&st.RecentErrors); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count recent errors", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM templates`).Scan(&st.TemplatesCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count templates", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM credentials`).Scan(&st.CredentialsCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count credentials", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM executions`).Scan(&st.ExecutionsCount); err != nil {
		return Stats{}, errs.Wrap(errs.StorageError, "count executions", err)
	}
	return st, nil
}
