package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "test-token")
	t.Setenv("FIELDSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Device.DBPath != "data/fieldsync.db" {
		t.Errorf("unexpected device db path %q", cfg.Device.DBPath)
	}
	if cfg.Hub.Port != 8080 {
		t.Errorf("unexpected hub port %d", cfg.Hub.Port)
	}
	if time.Duration(cfg.Sync.Interval) != 30*time.Second {
		t.Errorf("unexpected sync interval %v", cfg.Sync.Interval)
	}
	if cfg.Sync.RetryBudget != 8 {
		t.Errorf("unexpected retry budget %d", cfg.Sync.RetryBudget)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "json" {
		t.Errorf("unexpected log defaults %+v", cfg.Log)
	}
}

func TestLoad_MissingTokenFails(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "")
	t.Setenv("FIELDSYNC_DEV_MODE", "")
	t.Setenv("FIELDSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing API token")
	}
}

func TestLoad_DevModeSkipsTokenValidation(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "")
	t.Setenv("FIELDSYNC_DEV_MODE", "true")
	t.Setenv("FIELDSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err != nil {
		t.Errorf("expected dev mode to skip token validation, got %v", err)
	}
}

func TestLoadFromFile_YAML(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "test-token")

	content := `
device:
  id: crew-tablet-7
  db_path: /var/lib/fieldsync/device.db
hub:
  url: https://hub.example.com
  port: 9090
  shutdown_timeout: 5s
sync:
  interval: 2m
  batch_size: 50
  retry_budget: 4
  backoff_base: 1s
log:
  level: debug
  format: text
`
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Device.ID != "crew-tablet-7" {
		t.Errorf("unexpected device id %q", cfg.Device.ID)
	}
	if cfg.Hub.URL != "https://hub.example.com" {
		t.Errorf("unexpected hub url %q", cfg.Hub.URL)
	}
	if cfg.Hub.Port != 9090 {
		t.Errorf("unexpected port %d", cfg.Hub.Port)
	}
	if time.Duration(cfg.Hub.ShutdownTimeout) != 5*time.Second {
		t.Errorf("unexpected shutdown timeout %v", cfg.Hub.ShutdownTimeout)
	}
	if time.Duration(cfg.Sync.Interval) != 2*time.Minute {
		t.Errorf("unexpected sync interval %v", cfg.Sync.Interval)
	}
	if cfg.Sync.BatchSize != 50 {
		t.Errorf("unexpected batch size %d", cfg.Sync.BatchSize)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}

	// Unset YAML keys keep their defaults
	if time.Duration(cfg.Sync.BackoffCap) != 10*time.Minute {
		t.Errorf("unexpected backoff cap %v", cfg.Sync.BackoffCap)
	}
}

func TestLoadFromFile_InvalidDuration(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "test-token")

	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	if err := os.WriteFile(path, []byte("sync:\n  interval: soon\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for invalid duration")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("FIELDSYNC_API_TOKEN", "env-token")
	t.Setenv("FIELDSYNC_CONFIG_PATH", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("FIELDSYNC_DEVICE_ID", "tablet-env")
	t.Setenv("FIELDSYNC_HUB_URL", "http://hub.local:8081")
	t.Setenv("FIELDSYNC_HUB_PORT", "8081")
	t.Setenv("FIELDSYNC_SYNC_INTERVAL", "45s")
	t.Setenv("FIELDSYNC_SYNC_RETRY_BUDGET", "3")
	t.Setenv("FIELDSYNC_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Auth.Token != "env-token" {
		t.Errorf("unexpected token %q", cfg.Auth.Token)
	}
	if cfg.Device.ID != "tablet-env" {
		t.Errorf("unexpected device id %q", cfg.Device.ID)
	}
	if cfg.Hub.URL != "http://hub.local:8081" {
		t.Errorf("unexpected hub url %q", cfg.Hub.URL)
	}
	if cfg.Hub.Port != 8081 {
		t.Errorf("unexpected port %d", cfg.Hub.Port)
	}
	if time.Duration(cfg.Sync.Interval) != 45*time.Second {
		t.Errorf("unexpected interval %v", cfg.Sync.Interval)
	}
	if cfg.Sync.RetryBudget != 3 {
		t.Errorf("unexpected retry budget %d", cfg.Sync.RetryBudget)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("unexpected log level %q", cfg.Log.Level)
	}
}

func TestLoad_EnvOverridesBeatYAML(t *testing.T) {
	content := "log:\n  level: debug\n"
	path := filepath.Join(t.TempDir(), "fieldsync.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FIELDSYNC_API_TOKEN", "test-token")
	t.Setenv("FIELDSYNC_CONFIG_PATH", path)
	t.Setenv("FIELDSYNC_LOG_LEVEL", "error")

	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Log.Level != "error" {
		t.Errorf("expected env to beat YAML, got %q", cfg.Log.Level)
	}
}
