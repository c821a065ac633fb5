package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfigHasSaneValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.HTTP.Address == "" {
		t.Error("expected a non-empty default HTTP address")
	}
	if cfg.Scheduler.Concurrency <= 0 {
		t.Error("expected a positive default concurrency")
	}
	if cfg.Executor.HardCapTimeoutSeconds < cfg.Executor.DefaultTimeoutSeconds {
		t.Error("hard cap timeout should be >= default timeout")
	}
}

func TestLoadAppliesYAMLOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yamlBody := `
data_dir: /tmp/automator-test
http:
  address: ":9999"
scheduler:
  concurrency: 8
`
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DataDir != "/tmp/automator-test" {
		t.Errorf("expected overridden data dir, got %q", cfg.DataDir)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Errorf("expected overridden address, got %q", cfg.HTTP.Address)
	}
	if cfg.Scheduler.Concurrency != 8 {
		t.Errorf("expected overridden concurrency, got %d", cfg.Scheduler.Concurrency)
	}
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != DefaultConfig().HTTP.Address {
		t.Errorf("expected default address when config file is absent, got %q", cfg.HTTP.Address)
	}
}

func TestLoadEnvOverridesBeatYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("http:\n  address: \":1111\"\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("AUTOMATOR_HTTP_ADDRESS", ":2222")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTP.Address != ":2222" {
		t.Errorf("expected env override to win over yaml, got %q", cfg.HTTP.Address)
	}
}

func TestDBPathAndVaultKeyPathAreUnderDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/some/dir"
	if cfg.DBPath() != "/some/dir/personal-automator.db" {
		t.Errorf("unexpected db path: %q", cfg.DBPath())
	}
	if cfg.VaultKeyPath() != "/some/dir/master.key" {
		t.Errorf("unexpected vault key path: %q", cfg.VaultKeyPath())
	}
}
