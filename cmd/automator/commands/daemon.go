package commands

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/chaosslabs/personal-automator/pkg/automator/config"
	"github.com/chaosslabs/personal-automator/pkg/automator/control"
	"github.com/chaosslabs/personal-automator/pkg/automator/executor"
	"github.com/chaosslabs/personal-automator/pkg/automator/sandbox"
	"github.com/chaosslabs/personal-automator/pkg/automator/scheduler"
	"github.com/chaosslabs/personal-automator/pkg/automator/store"
	"github.com/chaosslabs/personal-automator/pkg/automator/templates"
	"github.com/chaosslabs/personal-automator/pkg/automator/vault"
)

// resolveConfig loads the config file named by --config, falling back to
// defaults when no path is given or the file doesn't exist.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Root().PersistentFlags().GetString("config")
	return config.Load(path)
}

// newLogger builds the structured logger used across every subcommand,
// honoring --verbose and the config's logging level/format.
func newLogger(cmd *cobra.Command, cfg *config.Config) *slog.Logger {
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	level := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "text" {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

// daemon bundles every subsystem a subcommand might need, plus a cleanup
// func. Built fresh per command invocation — there is no long-lived daemon
// process shared across CLI calls outside of `serve`/`mcp serve`.
type daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	vault   *vault.Vault
	service *control.Service
}

func buildDaemon(cmd *cobra.Command) (*daemon, func(), error) {
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	logger := newLogger(cmd, cfg)

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	if err := templates.Seed(st, logger); err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("seed builtin templates: %w", err)
	}

	v, err := vault.Open(cfg.VaultKeyPath())
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("open vault: %w", err)
	}

	sandboxCfg := sandbox.DefaultConfig()
	if cfg.Executor.DefaultTimeoutSeconds > 0 {
		sandboxCfg.Timeout = secondsToDuration(cfg.Executor.DefaultTimeoutSeconds)
	}
	runner, err := sandbox.NewRunner(sandboxCfg)
	if err != nil {
		st.Close()
		return nil, nil, fmt.Errorf("create sandbox runner: %w", err)
	}

	ex := executor.New(st, v, runner, logger)
	sched := scheduler.New(st, ex, scheduler.Options{
		Concurrency: cfg.Scheduler.Concurrency,
		StopGrace:   secondsToDuration(cfg.Scheduler.StopGraceSeconds),
	}, logger)
	svc := control.New(st, v, ex, sched, Version)

	d := &daemon{cfg: cfg, logger: logger, store: st, vault: v, service: svc}
	cleanup := func() { st.Close() }
	return d, cleanup, nil
}

// secondsToDuration treats a zero or negative value as "unset".
func secondsToDuration(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second
}
