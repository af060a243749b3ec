package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_FirstRunWritesDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	t.Setenv("DRMIRROR_SERVER_BASE_URL", "")
	t.Setenv("DRMIRROR_LOG_LEVEL", "")
	t.Setenv("DRMIRROR_DATA_DIR", "")
	t.Setenv("DRMIRROR_LOG_KEEP", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerBaseURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected base url: %q", cfg.ServerBaseURL)
	}
	if cfg.LogLevel != "info" || cfg.LogKeep != 500 || cfg.HistoryLimit != 5000 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if _, err := os.Stat(filepath.Join(dir, "config.toml")); err != nil {
		t.Fatalf("expected config file written on first run: %v", err)
	}
}

func TestLoad_ReadsExistingFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	t.Setenv("DRMIRROR_SERVER_BASE_URL", "")
	t.Setenv("DRMIRROR_LOG_LEVEL", "")
	t.Setenv("DRMIRROR_DATA_DIR", "")
	t.Setenv("DRMIRROR_LOG_KEEP", "")

	content := "server_base_url = \"http://backend:9000/\"\nlog_level = \"debug\"\nlog_keep = 50\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerBaseURL != "http://backend:9000" {
		t.Fatalf("expected trailing slash trimmed, got %q", cfg.ServerBaseURL)
	}
	if cfg.LogLevel != "debug" || cfg.LogKeep != 50 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// Unset keys fall back to defaults.
	if cfg.HistoryLimit != 5000 {
		t.Fatalf("expected default history limit, got %d", cfg.HistoryLimit)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	t.Setenv("DRMIRROR_SERVER_BASE_URL", "http://override:8001")
	t.Setenv("DRMIRROR_LOG_LEVEL", "warn")
	t.Setenv("DRMIRROR_DATA_DIR", filepath.Join(dir, "elsewhere"))
	t.Setenv("DRMIRROR_LOG_KEEP", "25")

	content := "server_base_url = \"http://backend:9000\"\nlog_level = \"debug\"\n"
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.ServerBaseURL != "http://override:8001" || cfg.LogLevel != "warn" || cfg.LogKeep != 25 {
		t.Fatalf("env overrides not applied: %+v", cfg)
	}
	if cfg.DataDir != filepath.Join(dir, "elsewhere") {
		t.Fatalf("unexpected data dir: %q", cfg.DataDir)
	}
	if cfg.DBPath() != filepath.Join(cfg.DataDir, "drmirror.db") {
		t.Fatalf("unexpected db path: %q", cfg.DBPath())
	}
}

func TestLoad_InvalidLogKeepEnvFallsBack(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	t.Setenv("DRMIRROR_SERVER_BASE_URL", "")
	t.Setenv("DRMIRROR_LOG_LEVEL", "")
	t.Setenv("DRMIRROR_DATA_DIR", "")

	for _, bad := range []string{"many", "-3", "0"} {
		t.Setenv("DRMIRROR_LOG_KEEP", bad)
		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load failed for %q: %v", bad, err)
		}
		if cfg.LogKeep != 500 {
			t.Fatalf("%q: expected default log_keep, got %d", bad, cfg.LogKeep)
		}
	}
}

func TestLoad_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte("server_base_url = ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed config")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DRMIRROR_CONFIG_DIR", dir)
	t.Setenv("DRMIRROR_SERVER_BASE_URL", "")
	t.Setenv("DRMIRROR_LOG_LEVEL", "")
	t.Setenv("DRMIRROR_DATA_DIR", "")
	t.Setenv("DRMIRROR_LOG_KEEP", "")

	want := Config{
		ServerBaseURL: "http://saved:7000",
		LogLevel:      "error",
		DataDir:       filepath.Join(dir, "data"),
		LogKeep:       10,
		HistoryLimit:  100,
	}
	if err := Save(want); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	got, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}
}
