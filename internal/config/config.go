package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the orchestration engine.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	DataDir      string
	ProjectsFile string
	SessionsDir  string
	OutputsDir   string
	ScheduleFile string

	AgentMode string
	AgentBin  string

	ExecTimeout      time.Duration
	ApprovalTimeout  time.Duration
	QueueIdleTimeout time.Duration
	ScheduleTick     time.Duration

	DatabaseURL  string
	HistoryLimit int
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("PUTER_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("PUTER_METRICS_NAMESPACE", "puter"),
		AllowAnyOrigin:   false,
		DataDir:          envOrDefault("PUTER_DATA_DIR", "data"),
		AgentMode:        envOrDefault("PUTER_AGENT_MODE", "auto"),
		AgentBin:         envOrDefault("PUTER_AGENT_BIN", "claude"),
		DatabaseURL:      trimmedEnv("DATABASE_URL"),
		HistoryLimit:     256,
		ShutdownTimeout:  15 * time.Second,
		ExecTimeout:      30 * time.Minute,
		ApprovalTimeout:  5 * time.Minute,
		QueueIdleTimeout: 60 * time.Second,
		ScheduleTick:     30 * time.Second,
	}
	cfg.ProjectsFile = envOrDefault("PUTER_PROJECTS_FILE", filepath.Join(cfg.DataDir, "projects.yaml"))
	cfg.SessionsDir = envOrDefault("PUTER_SESSIONS_DIR", filepath.Join(cfg.DataDir, "sessions"))
	cfg.OutputsDir = envOrDefault("PUTER_OUTPUTS_DIR", filepath.Join(cfg.DataDir, "outputs"))
	cfg.ScheduleFile = envOrDefault("PUTER_SCHEDULE_FILE", filepath.Join(cfg.DataDir, "scheduled_tasks.json"))

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("PUTER_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ExecTimeout, err = durationFromEnv("PUTER_EXEC_TIMEOUT", cfg.ExecTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ApprovalTimeout, err = durationFromEnv("PUTER_APPROVAL_TIMEOUT", cfg.ApprovalTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QueueIdleTimeout, err = durationFromEnv("PUTER_QUEUE_IDLE_TIMEOUT", cfg.QueueIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ScheduleTick, err = durationFromEnv("PUTER_SCHEDULE_TICK", cfg.ScheduleTick)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("PUTER_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("PUTER_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.AgentMode {
	case "auto", "cli", "mock":
	default:
		return Config{}, fmt.Errorf("PUTER_AGENT_MODE must be auto, cli, or mock")
	}
	if cfg.AgentBin == "" {
		return Config{}, fmt.Errorf("PUTER_AGENT_BIN must not be empty")
	}
	if cfg.ExecTimeout <= 0 {
		return Config{}, fmt.Errorf("PUTER_EXEC_TIMEOUT must be positive")
	}
	if cfg.ApprovalTimeout <= 0 {
		return Config{}, fmt.Errorf("PUTER_APPROVAL_TIMEOUT must be positive")
	}
	if cfg.QueueIdleTimeout <= 0 {
		return Config{}, fmt.Errorf("PUTER_QUEUE_IDLE_TIMEOUT must be positive")
	}
	if cfg.ScheduleTick <= 0 {
		return Config{}, fmt.Errorf("PUTER_SCHEDULE_TICK must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("PUTER_HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
