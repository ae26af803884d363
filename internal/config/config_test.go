package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.ProcessHeartbeatInterval != Duration(60*time.Second) {
		t.Errorf("ProcessHeartbeatInterval = %v, want 60s", cfg.ProcessHeartbeatInterval)
	}
	if cfg.DefaultConcurrencyControlPeriod != Duration(3*time.Minute) {
		t.Errorf("DefaultConcurrencyControlPeriod = %v, want 3m", cfg.DefaultConcurrencyControlPeriod)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].Threads != 5 {
		t.Errorf("Workers = %+v, want one worker with 5 threads", cfg.Workers)
	}
	if len(cfg.Dispatchers) != 1 || cfg.Dispatchers[0].BatchSize != 500 {
		t.Errorf("Dispatchers = %+v, want one dispatcher with batch size 500", cfg.Dispatchers)
	}
}

func TestLoadNoPathAppliesDefaultsAndEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example/test")
	t.Setenv("DB_MAX_CONNS", "9")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DatabaseURL != "postgres://example/test" {
		t.Errorf("DatabaseURL = %q, want env override", cfg.DatabaseURL)
	}
	if cfg.DBMaxConns != 9 {
		t.Errorf("DBMaxConns = %d, want 9", cfg.DBMaxConns)
	}
	if cfg.DBMinConns != 1 {
		t.Errorf("DBMinConns = %d, want default 1", cfg.DBMinConns)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml")); err == nil {
		t.Error("expected an error for a missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("workers: [this is not valid"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for malformed YAML")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgqueue.yaml")
	yaml := `
process_heartbeat_interval: 30s
workers:
  - queues: ["billing"]
    threads: 10
    processes: 2
    polling_interval: 2s
dispatchers: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProcessHeartbeatInterval != Duration(30*time.Second) {
		t.Errorf("ProcessHeartbeatInterval = %v, want 30s", cfg.ProcessHeartbeatInterval)
	}
	if cfg.Workers[0].PollingInterval != Duration(2*time.Second) {
		t.Errorf("Workers[0].PollingInterval = %v, want 2s", cfg.Workers[0].PollingInterval)
	}
	if len(cfg.Workers) != 1 || cfg.Workers[0].Threads != 10 {
		t.Errorf("Workers = %+v, want one worker with 10 threads", cfg.Workers)
	}
	if len(cfg.Dispatchers) != 0 {
		t.Errorf("Dispatchers = %+v, want empty", cfg.Dispatchers)
	}
}

func TestLoadFromFileAcceptsRawNanosecondDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgqueue.yaml")
	yaml := `
process_heartbeat_interval: 30000000000
workers:
  - queues: ["billing"]
dispatchers: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProcessHeartbeatInterval != Duration(30*time.Second) {
		t.Errorf("ProcessHeartbeatInterval = %v, want 30s", cfg.ProcessHeartbeatInterval)
	}
}

func TestLoadRejectsMalformedDurationString(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pgqueue.yaml")
	yaml := `
process_heartbeat_interval: "not-a-duration"
workers:
  - queues: ["billing"]
dispatchers: []
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected an error for a malformed duration string")
	}
}

func TestLoadRejectsEmptyFleet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	yaml := "workers: []\ndispatchers: []\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected a ConfigurationError when no workers, dispatchers, or scheduler are configured")
	}
}

func TestGetEnvIntFallsBackOnNonInteger(t *testing.T) {
	t.Setenv("PGQUEUE_TEST_NON_INT", "not-a-number")
	if got := getEnvInt("PGQUEUE_TEST_NON_INT", 42); got != 42 {
		t.Errorf("getEnvInt with non-integer env value = %d, want fallback 42", got)
	}
}

func TestGetEnvFallsBackWhenUnset(t *testing.T) {
	os.Unsetenv("PGQUEUE_TEST_UNSET_VAR")
	if got := getEnv("PGQUEUE_TEST_UNSET_VAR", "fallback"); got != "fallback" {
		t.Errorf("getEnv for unset var = %q, want fallback", got)
	}
}
