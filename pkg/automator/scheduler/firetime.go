package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/chaosslabs/personal-automator/pkg/automator/store"
)

// cronParser accepts exactly the 5-field standard cron grammar spec.md §6
// requires: minute hour day-of-month month day-of-week, no seconds field,
// no descriptor macros (@daily etc). Grounded on the teacher's
// scheduler.go parser construction, narrowed to drop cron.Descriptor.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextFireTime computes a task's next occurrence per spec.md §4.1's
// fire-time algorithm. lastRunAt is the task's current LastRunAt (may be
// nil). Returns (nil, nil) for a schedule that will never fire again
// (a past "once").
func nextFireTime(task store.Task, now time.Time) (*time.Time, error) {
	switch task.ScheduleType {
	case store.ScheduleOnce:
		at, err := time.Parse(time.RFC3339, task.ScheduleValue)
		if err != nil {
			return nil, fmt.Errorf("invalid once timestamp %q: %w", task.ScheduleValue, err)
		}
		at = at.UTC()
		if !at.After(now) {
			return nil, nil
		}
		return &at, nil

	case store.ScheduleInterval:
		seconds, err := parseIntervalSeconds(task.ScheduleValue)
		if err != nil {
			return nil, err
		}
		base := now
		if task.LastRunAt != nil && task.LastRunAt.After(base) {
			base = *task.LastRunAt
		}
		next := base.Add(time.Duration(seconds) * time.Second)
		return &next, nil

	case store.ScheduleCron:
		schedule, err := cronParser.Parse(task.ScheduleValue)
		if err != nil {
			return nil, fmt.Errorf("invalid cron expression %q: %w", task.ScheduleValue, err)
		}
		after := now
		if task.LastRunAt != nil && task.LastRunAt.After(after) {
			after = *task.LastRunAt
		}
		next := schedule.Next(after).UTC()
		return &next, nil

	default:
		return nil, fmt.Errorf("unknown schedule type %q", task.ScheduleType)
	}
}

func parseIntervalSeconds(value string) (int64, error) {
	var seconds int64
	if _, err := fmt.Sscanf(value, "%d", &seconds); err != nil {
		return 0, fmt.Errorf("invalid interval %q: %w", value, err)
	}
	if seconds < 1 {
		return 0, fmt.Errorf("interval must be >= 1 second, got %d", seconds)
	}
	return seconds, nil
}
