package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the `automator status` command: a one-shot snapshot
// of daemon health without starting the scheduler or HTTP control plane.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler, execution, and credential counts",
		Long: `Print a snapshot of the daemon's state: whether a scheduler would be
running, task/execution/credential/template counts, and the next
scheduled execution time. Reads directly from the data directory; it
does not require automator serve to be running.`,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, _ []string) error {
	d, cleanup, err := buildDaemon(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	status, err := d.service.Status()
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}

	fmt.Printf("automator %s\n", status.Version)
	fmt.Printf("  scheduler running: %v\n", status.SchedulerRunning)
	fmt.Printf("  active jobs:       %d\n", status.ActiveJobs)
	if status.NextExecution != nil {
		fmt.Printf("  next execution:    %s\n", status.NextExecution.Format("2006-01-02T15:04:05Z07:00"))
	} else {
		fmt.Printf("  next execution:    none scheduled\n")
	}
	fmt.Printf("  tasks:             %d (%d enabled)\n", status.Counts.Tasks, status.Counts.EnabledTasks)
	fmt.Printf("  templates:         %d\n", status.Counts.Templates)
	fmt.Printf("  credentials:       %d\n", status.Counts.Credentials)
	fmt.Printf("  executions:        %d\n", status.Counts.Executions)
	fmt.Printf("  data dir:          %s\n", d.cfg.DataDir)

	return nil
}
