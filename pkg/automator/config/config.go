// Package config defines the daemon's configuration surface: a config.yaml
// struct loaded the way pkg/goclaw/copilot/config.go loads its own (struct
// tags, a DefaultConfig constructor, env var overrides), plus a .env file
// read via joho/godotenv per the resolution-priority order documented in
// pkg/devclaw/copilot/keyring.go (env var, then .env, then config.yaml —
// least secure last).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// HTTPConfig configures the REST control plane.
type HTTPConfig struct {
	// Enabled turns the HTTP listener on/off (default: true).
	Enabled bool `yaml:"enabled"`

	// Address is the listen address (default: ":8745").
	Address string `yaml:"address"`

	// AuthToken is the Bearer token required on every non-/health request.
	// Empty means no auth enforcement (fine for loopback-only binds).
	AuthToken string `yaml:"auth_token"`
}

// SchedulerConfig configures the tick loop's concurrency gate and the
// graceful-stop grace period.
type SchedulerConfig struct {
	// Concurrency is the max number of tasks dispatched at once (default: 4).
	Concurrency int `yaml:"concurrency"`

	// StopGraceSeconds bounds how long Stop waits for in-flight runs.
	StopGraceSeconds int `yaml:"stop_grace_seconds"`
}

// ExecutorConfig configures script execution limits.
type ExecutorConfig struct {
	// DefaultTimeoutSeconds sets the sandbox runner's fallback timeout. The
	// executor always passes its own timeout to the runner (the caller's
	// timeoutMs, else executor.DefaultTimeout), so task runs do not use it.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds"`

	// HardCapTimeoutSeconds is loaded but not applied; the executor caps
	// every timeout at executor.MaxTimeout.
	HardCapTimeoutSeconds int `yaml:"hard_cap_timeout_seconds"`
}

// RetentionConfig configures the periodic execution-history sweep.
type RetentionConfig struct {
	// Enabled turns the sweep on/off (default: true).
	Enabled bool `yaml:"enabled"`

	// IntervalHours is how often the sweep runs.
	IntervalHours int `yaml:"interval_hours"`

	// KeepDays is how many days of execution history survive a sweep.
	KeepDays int `yaml:"keep_days"`
}

// OAuthConfig holds OAuth client credentials loaded from config.yaml or the
// AUTOMATOR_OAUTH_CLIENT_ID/AUTOMATOR_OAUTH_CLIENT_SECRET env vars. Nothing
// reads these fields: they neither issue tokens nor toggle auth
// enforcement, which is controlled by HTTP.AuthToken alone.
type OAuthConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// LoggingConfig configures log/slog output.
type LoggingConfig struct {
	// Level is "debug", "info", "warn", or "error" (default: "info").
	Level string `yaml:"level"`

	// Format is "json" or "text" (default: "json").
	Format string `yaml:"format"`
}

// Config is the full daemon configuration, loaded from config.yaml with
// environment variable overrides applied on top.
type Config struct {
	// DataDir holds the SQLite database file and the vault's file-backed
	// master-key fallback (default: OS per-user app data dir).
	DataDir string `yaml:"data_dir"`

	HTTP      HTTPConfig      `yaml:"http"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Retention RetentionConfig `yaml:"retention"`
	OAuth     OAuthConfig     `yaml:"oauth"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// DefaultConfig returns the default daemon configuration.
func DefaultConfig() *Config {
	dataDir, err := os.UserConfigDir()
	if err != nil || dataDir == "" {
		dataDir = "."
	}
	return &Config{
		DataDir: filepath.Join(dataDir, "personal-automator"),
		HTTP: HTTPConfig{
			Enabled: true,
			Address: ":8745",
		},
		Scheduler: SchedulerConfig{
			Concurrency:      4,
			StopGraceSeconds: 30,
		},
		Executor: ExecutorConfig{
			DefaultTimeoutSeconds: 30,
			HardCapTimeoutSeconds: 300,
		},
		Retention: RetentionConfig{
			Enabled:       true,
			IntervalHours: 24,
			KeepDays:      90,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// DBPath returns the path to the embedded SQLite store.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, "personal-automator.db")
}

// VaultKeyPath returns the path to the vault's file-backed master-key
// fallback, used when the OS keychain is unavailable.
func (c *Config) VaultKeyPath() string {
	return filepath.Join(c.DataDir, "master.key")
}

// Load reads .env (if present, via godotenv) then config.yaml at path (if
// present), then applies environment variable overrides, in that
// resolution order — matching pkg/devclaw/copilot/keyring.go's documented
// priority: env var beats .env beats config.yaml.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is not an error

	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("AUTOMATOR_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.HTTP.Address = ":" + v
	}
	if v := os.Getenv("AUTOMATOR_HTTP_ADDRESS"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("AUTOMATOR_AUTH_TOKEN"); v != "" {
		cfg.HTTP.AuthToken = v
	}
	if v := os.Getenv("AUTOMATOR_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Scheduler.Concurrency = n
		}
	}
	if v := os.Getenv("AUTOMATOR_OAUTH_CLIENT_ID"); v != "" {
		cfg.OAuth.ClientID = v
	}
	if v := os.Getenv("AUTOMATOR_OAUTH_CLIENT_SECRET"); v != "" {
		cfg.OAuth.ClientSecret = v
	}
	if v := os.Getenv("AUTOMATOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}
