package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaosslabs/personal-automator/pkg/automator/httpapi"
)

// newServeCmd creates the `automator serve` command that starts the daemon:
// scheduler, HTTP control plane, and a periodic retention sweep.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon (scheduler + HTTP control plane)",
		Long: `Start automator as a long-running daemon: the scheduler dispatches
due tasks, the HTTP control plane serves templates/tasks/executions/
credentials/status, and a periodic sweep prunes old execution history.

Examples:
  automator serve
  automator serve --config ./config.yaml`,
		RunE: runServe,
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	d, cleanup, err := buildDaemon(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := d.service.StartScheduler(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	d.logger.Info("scheduler started")

	var httpServer *httpapi.Server
	if d.cfg.HTTP.Enabled {
		httpServer = httpapi.New(d.service, httpapi.Config{
			Address:   d.cfg.HTTP.Address,
			AuthToken: d.cfg.HTTP.AuthToken,
		}, d.logger)
		if err := httpServer.Start(ctx); err != nil {
			return fmt.Errorf("start http api: %w", err)
		}
		d.logger.Info("http control plane running", "address", d.cfg.HTTP.Address)
	}

	var retentionStop chan struct{}
	if d.cfg.Retention.Enabled {
		retentionStop = startRetentionSweep(ctx, d)
	}

	d.logger.Info("automator running, press Ctrl+C to stop", "dataDir", d.cfg.DataDir)
	<-ctx.Done()
	d.logger.Info("shutdown signal received, stopping")

	done := make(chan struct{})
	go func() {
		if retentionStop != nil {
			close(retentionStop)
		}
		if httpServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = httpServer.Stop(shutdownCtx)
			cancel()
		}
		d.service.StopScheduler()
		close(done)
	}()

	select {
	case <-done:
		d.logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		d.logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// startRetentionSweep prunes execution history older than Retention.KeepDays
// on an interval, returning a channel that stops the sweep when closed.
func startRetentionSweep(ctx context.Context, d *daemon) chan struct{} {
	stop := make(chan struct{})
	interval := time.Duration(d.cfg.Retention.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				n, err := d.store.PruneExecutions(d.cfg.Retention.KeepDays)
				if err != nil {
					d.logger.Error("retention sweep failed", "error", err)
					continue
				}
				if n > 0 {
					d.logger.Info("retention sweep pruned old executions", "count", n, "keepDays", d.cfg.Retention.KeepDays)
				}
			}
		}
	}()
	return stop
}
