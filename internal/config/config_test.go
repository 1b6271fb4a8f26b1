package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketdash.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp file: %v", err)
	}
	return path
}

func TestLoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
storage:
  data_dir: "/tmp/marketdash/data"
  sqlite_path: "/tmp/marketdash/marketdash.db"
server:
  host: "0.0.0.0"
  port: 9000
  grpc_port: 9090
  allowed_origins: ["http://dash.local", "http://localhost:5173"]
remote:
  base_url: "http://api.internal:5001"
  timeout: 3s
  max_attempts: 4
  retry_delay: 250ms
  rate_limit_per_min: 120
  rate_burst: 5
  use_ml: true
feed:
  url: "ws://feed.internal/sentiment"
logging:
  level: "debug"
  format: "text"
dashboard:
  market: "US"
  page_size: 25
  prediction_days: 14
`)

	// Clear any environment overrides that might interfere.
	for _, k := range []string{"DATA_DIR", "REMOTE_BASE_URL", "LOG_LEVEL", "SERVER_PORT", "DASHBOARD_MARKET"} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	// -- Storage --
	if cfg.Storage.DataDir != "/tmp/marketdash/data" {
		t.Errorf("Storage.DataDir = %q, want %q", cfg.Storage.DataDir, "/tmp/marketdash/data")
	}
	if cfg.Storage.SQLitePath != "/tmp/marketdash/marketdash.db" {
		t.Errorf("Storage.SQLitePath = %q", cfg.Storage.SQLitePath)
	}

	// -- Server --
	if cfg.Server.Port != 9000 || cfg.Server.GRPCPort != 9090 {
		t.Errorf("Server = %+v, want port 9000 grpc 9090", cfg.Server)
	}
	if len(cfg.Server.AllowedOrigins) != 2 || cfg.Server.AllowedOrigins[0] != "http://dash.local" {
		t.Errorf("Server.AllowedOrigins = %v", cfg.Server.AllowedOrigins)
	}

	// -- Remote --
	if cfg.Remote.BaseURL != "http://api.internal:5001" {
		t.Errorf("Remote.BaseURL = %q", cfg.Remote.BaseURL)
	}
	if cfg.Remote.Timeout != 3*time.Second {
		t.Errorf("Remote.Timeout = %v, want 3s", cfg.Remote.Timeout)
	}
	if cfg.Remote.MaxAttempts != 4 || cfg.Remote.RetryDelay != 250*time.Millisecond {
		t.Errorf("Remote retry = %d/%v, want 4/250ms", cfg.Remote.MaxAttempts, cfg.Remote.RetryDelay)
	}
	if cfg.Remote.RateLimitPerMin != 120 || cfg.Remote.RateBurst != 5 || !cfg.Remote.UseML {
		t.Errorf("Remote = %+v", cfg.Remote)
	}

	// -- Feed --
	if cfg.Feed.URL != "ws://feed.internal/sentiment" {
		t.Errorf("Feed.URL = %q", cfg.Feed.URL)
	}

	// -- Logging --
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want debug/text", cfg.Logging)
	}

	// -- Dashboard --
	if cfg.Dashboard.Market != "US" || cfg.Dashboard.PageSize != 25 || cfg.Dashboard.PredictionDays != 14 {
		t.Errorf("Dashboard = %+v", cfg.Dashboard)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
remote:
  base_url: "http://yaml-host:5001"
storage:
  data_dir: "/original/data"
logging:
  level: "warn"
`)

	t.Setenv("REMOTE_BASE_URL", "http://env-host:5001")
	t.Setenv("DATA_DIR", "/env/data")
	t.Setenv("REMOTE_TIMEOUT", "7s")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Remote.BaseURL != "http://env-host:5001" {
		t.Errorf("Remote.BaseURL = %q, want env override", cfg.Remote.BaseURL)
	}
	if cfg.Storage.DataDir != "/env/data" {
		t.Errorf("Storage.DataDir = %q, want %q (env override)", cfg.Storage.DataDir, "/env/data")
	}
	if cfg.Remote.Timeout != 7*time.Second {
		t.Errorf("Remote.Timeout = %v, want 7s (env override)", cfg.Remote.Timeout)
	}
	// level should remain from YAML since no env override was set.
	if os.Getenv("LOG_LEVEL") == "" && cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want %q (from YAML)", cfg.Logging.Level, "warn")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load() of a missing file returned error: %v", err)
	}
	if cfg.Dashboard.PageSize != 10 {
		t.Errorf("Dashboard.PageSize = %d, want default 10", cfg.Dashboard.PageSize)
	}
	if cfg.Dashboard.PredictionDays != 7 {
		t.Errorf("Dashboard.PredictionDays = %d, want default 7", cfg.Dashboard.PredictionDays)
	}
	if cfg.Remote.Timeout != 10*time.Second {
		t.Errorf("Remote.Timeout = %v, want default 10s", cfg.Remote.Timeout)
	}
	if cfg.Remote.RateBurst != 1 {
		t.Errorf("Remote.RateBurst = %d, want default 1", cfg.Remote.RateBurst)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "remote: [unclosed")
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed YAML")
	}
}

func TestPath(t *testing.T) {
	t.Setenv("MARKETDASH_CONFIG", "/etc/marketdash.yaml")
	if got := Path(); got != "/etc/marketdash.yaml" {
		t.Errorf("Path() = %q, want env value", got)
	}
}
