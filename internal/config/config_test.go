package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"DOCUFLOW_LISTEN_ADDR", "DOCUFLOW_DB_PATH", "DOCUFLOW_LOG_LEVEL",
		"DOCUFLOW_SEED_PATH", "DOCUFLOW_DEFAULT_SLA_HOURS",
		"DOCUFLOW_RETRY_ATTEMPTS", "DOCUFLOW_RETRY_BASE_MS",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	if cfg.ListenAddr != ":8080" {
		t.Errorf("ListenAddr = %q, want :8080", cfg.ListenAddr)
	}
	if cfg.DBPath != "docuflow.db" {
		t.Errorf("DBPath = %q, want docuflow.db", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
	if cfg.SeedPath != "" {
		t.Errorf("SeedPath = %q, want empty", cfg.SeedPath)
	}
	if cfg.DefaultSLAHours != 48 {
		t.Errorf("DefaultSLAHours = %d, want 48", cfg.DefaultSLAHours)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want 5", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 200*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 200ms", cfg.RetryBaseDelay)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("DOCUFLOW_LISTEN_ADDR", ":9090")
	t.Setenv("DOCUFLOW_DB_PATH", "/tmp/flow.db")
	t.Setenv("DOCUFLOW_LOG_LEVEL", "debug")
	t.Setenv("DOCUFLOW_SEED_PATH", "/etc/docuflow/seed.yaml")
	t.Setenv("DOCUFLOW_DEFAULT_SLA_HOURS", "24")
	t.Setenv("DOCUFLOW_RETRY_ATTEMPTS", "8")
	t.Setenv("DOCUFLOW_RETRY_BASE_MS", "50")

	cfg := Load()

	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr = %q, want :9090", cfg.ListenAddr)
	}
	if cfg.DBPath != "/tmp/flow.db" {
		t.Errorf("DBPath = %q, want /tmp/flow.db", cfg.DBPath)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if cfg.SeedPath != "/etc/docuflow/seed.yaml" {
		t.Errorf("SeedPath = %q", cfg.SeedPath)
	}
	if cfg.DefaultSLAHours != 24 {
		t.Errorf("DefaultSLAHours = %d, want 24", cfg.DefaultSLAHours)
	}
	if cfg.RetryAttempts != 8 {
		t.Errorf("RetryAttempts = %d, want 8", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 50*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want 50ms", cfg.RetryBaseDelay)
	}
}

func TestLoadIgnoresInvalidNumbers(t *testing.T) {
	t.Setenv("DOCUFLOW_DEFAULT_SLA_HOURS", "not-a-number")
	t.Setenv("DOCUFLOW_RETRY_ATTEMPTS", "-3")
	t.Setenv("DOCUFLOW_RETRY_BASE_MS", "0")

	cfg := Load()

	if cfg.DefaultSLAHours != 48 {
		t.Errorf("DefaultSLAHours = %d, want default 48", cfg.DefaultSLAHours)
	}
	if cfg.RetryAttempts != 5 {
		t.Errorf("RetryAttempts = %d, want default 5", cfg.RetryAttempts)
	}
	if cfg.RetryBaseDelay != 200*time.Millisecond {
		t.Errorf("RetryBaseDelay = %v, want default 200ms", cfg.RetryBaseDelay)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Error", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNewLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, slog.LevelInfo)

	logger.Info("workflow started", "instance_id", "abc123")
	logger.Debug("suppressed at info level")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log output is not a single JSON object: %v\n%s", err, buf.String())
	}
	if entry["msg"] != "workflow started" {
		t.Errorf("msg = %v", entry["msg"])
	}
	if entry["instance_id"] != "abc123" {
		t.Errorf("instance_id = %v", entry["instance_id"])
	}
}
