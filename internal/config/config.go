package config

import (
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "docuflow.db"
	defaultSLAHours      = 48
	defaultRetryAttempts = 5
	defaultRetryBaseMS   = 200

	envListenAddr    = "DOCUFLOW_LISTEN_ADDR"
	envDBPath        = "DOCUFLOW_DB_PATH"
	envLogLevel      = "DOCUFLOW_LOG_LEVEL"
	envSeedPath      = "DOCUFLOW_SEED_PATH"
	envSLAHours      = "DOCUFLOW_DEFAULT_SLA_HOURS"
	envRetryAttempts = "DOCUFLOW_RETRY_ATTEMPTS"
	envRetryBaseMS   = "DOCUFLOW_RETRY_BASE_MS"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr      string
	DBPath          string
	LogLevel        slog.Level
	SeedPath        string
	DefaultSLAHours int
	RetryAttempts   int
	RetryBaseDelay  time.Duration
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		DefaultSLAHours: defaultSLAHours,
		RetryAttempts:   defaultRetryAttempts,
		RetryBaseDelay:  defaultRetryBaseMS * time.Millisecond,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envSeedPath); v != "" {
		cfg.SeedPath = v
	}
	if n, ok := parsePositiveInt(os.Getenv(envSLAHours)); ok {
		cfg.DefaultSLAHours = n
	}
	if n, ok := parsePositiveInt(os.Getenv(envRetryAttempts)); ok {
		cfg.RetryAttempts = n
	}
	if n, ok := parsePositiveInt(os.Getenv(envRetryBaseMS)); ok {
		cfg.RetryBaseDelay = time.Duration(n) * time.Millisecond
	}

	return cfg
}

func parsePositiveInt(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
