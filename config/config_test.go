package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.SocketPath == "" || cfg.DataDir == "" {
		t.Fatalf("expected non-empty defaults, got %+v", cfg)
	}
	if cfg.MutatorLockTimeout.Duration != 30*time.Second {
		t.Errorf("MutatorLockTimeout = %v, want 30s", cfg.MutatorLockTimeout.Duration)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
data_dir = "/custom/data"
socket_path = "/custom/control.sock"
max_frame_bytes = 4096
mutator_lock_timeout = "5s"
rate_limit_bucket_size = 10
rate_limit_refill_per_sec = 1.5
hot_reload_debounce = "250ms"
log_level = "debug"
log_format = "json"
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != "/custom/data" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.MutatorLockTimeout.Duration != 5*time.Second {
		t.Errorf("MutatorLockTimeout = %v, want 5s", cfg.MutatorLockTimeout.Duration)
	}
	if cfg.HotReloadDebounce.Duration != 250*time.Millisecond {
		t.Errorf("HotReloadDebounce = %v, want 250ms", cfg.HotReloadDebounce.Duration)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, want json", cfg.LogFormat)
	}
}

func TestLoadPartialFileKeepsRemainingDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte(`log_level = "warn"`), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.SocketPath != Default().SocketPath {
		t.Errorf("SocketPath = %q, want default preserved", cfg.SocketPath)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadEmptyPathReturnsDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg != Default() {
		t.Errorf("expected Default(), got %+v", cfg)
	}
}
