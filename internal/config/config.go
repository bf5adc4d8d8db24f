package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds all configuration for deploytrigger.
// Values are loaded from environment variables; see the config command for the full list.
type Config struct {
	// Store: "memory", "sqlite" or "postgres".
	Store       string `json:"store"`
	SQLitePath  string `json:"sqlite_path"`
	DatabaseURL string `json:"database_url"`

	// Queue: "memory" or "redis".
	Queue         string `json:"queue"`
	QueueCapacity int    `json:"queue_capacity"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	RedisPrefix   string `json:"redis_prefix,omitempty"`

	HTTPAddr string `json:"http_addr"`

	// System resolves production zones: "main" or "cd".
	System string `json:"system"`

	SweepSchedule         string `json:"sweep_schedule"`
	DelayedResumeSchedule string `json:"delayed_resume_schedule"`
	ScheduleTimezone      string `json:"schedule_timezone"`

	DeadJobTimeout    time.Duration `json:"-"`
	DeadJobTimeoutStr string        `json:"dead_job_timeout"`

	RetryCeiling                time.Duration `json:"-"`
	RetryCeilingStr             string        `json:"retry_ceiling"`
	RetryStartedFailingGrace    time.Duration `json:"-"`
	RetryStartedFailingGraceStr string        `json:"retry_started_failing_grace"`
	RetryCapacityWindow         time.Duration `json:"-"`
	RetryCapacityWindowStr      string        `json:"retry_capacity_window"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`

	DBMaxOpenConns       int           `json:"db_max_open_conns"`
	DBMaxIdleConns       int           `json:"db_max_idle_conns"`
	DBConnMaxLifetime    time.Duration `json:"-"`
	DBConnMaxLifetimeStr string        `json:"db_conn_max_lifetime"`
	DBConnMaxIdleTime    time.Duration `json:"-"`
	DBConnMaxIdleTimeStr string        `json:"db_conn_max_idle_time"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`

	// QueueBreakerThreshold: 0 disables the circuit breaker.
	QueueBreakerThreshold   int           `json:"queue_breaker_threshold"`
	QueueBreakerCooldown    time.Duration `json:"-"`
	QueueBreakerCooldownStr string        `json:"queue_breaker_cooldown"`

	// LeaderLockKey: all instances sharing the same database must use the same key.
	LeaderLockKey int64 `json:"leader_lock_key"`

	// LeaderRetryInterval determines the maximum failover gap.
	LeaderRetryInterval    time.Duration `json:"-"`
	LeaderRetryIntervalStr string        `json:"leader_retry_interval"`

	// LeaderHeartbeatInterval: pings the dedicated connection to detect local
	// connection death. Does NOT renew the advisory lock.
	LeaderHeartbeatInterval    time.Duration `json:"-"`
	LeaderHeartbeatIntervalStr string        `json:"leader_heartbeat_interval"`

	LogLevel  string `json:"log_level"`
	LogFormat string `json:"log_format"`
}

// Default leader lock key, "deploy" in ASCII.
const defaultLeaderLockKey int64 = 0x6465706c6f79

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		Store:                       strings.ToLower(os.Getenv("STORE")),
		SQLitePath:                  os.Getenv("SQLITE_PATH"),
		DatabaseURL:                 os.Getenv("DATABASE_URL"),
		Queue:                       strings.ToLower(os.Getenv("QUEUE")),
		RedisAddr:                   os.Getenv("REDIS_ADDR"),
		RedisPrefix:                 os.Getenv("REDIS_PREFIX"),
		HTTPAddr:                    os.Getenv("HTTP_ADDR"),
		System:                      strings.ToLower(os.Getenv("SYSTEM")),
		SweepSchedule:               os.Getenv("SWEEP_SCHEDULE"),
		DelayedResumeSchedule:       os.Getenv("DELAYED_RESUME_SCHEDULE"),
		ScheduleTimezone:            os.Getenv("SCHEDULE_TIMEZONE"),
		DeadJobTimeoutStr:           os.Getenv("DEAD_JOB_TIMEOUT"),
		RetryCeilingStr:             os.Getenv("RETRY_CEILING"),
		RetryStartedFailingGraceStr: os.Getenv("RETRY_STARTED_FAILING_GRACE"),
		RetryCapacityWindowStr:      os.Getenv("RETRY_CAPACITY_WINDOW"),
		DBOpTimeoutStr:              os.Getenv("DB_OP_TIMEOUT"),
		DBConnMaxLifetimeStr:        os.Getenv("DB_CONN_MAX_LIFETIME"),
		DBConnMaxIdleTimeStr:        os.Getenv("DB_CONN_MAX_IDLE_TIME"),
		HTTPShutdownTimeoutStr:      os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		MetricsEnabled:              os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:                 os.Getenv("METRICS_PATH"),
		QueueBreakerCooldownStr:     os.Getenv("QUEUE_BREAKER_COOLDOWN"),
		LeaderRetryIntervalStr:      os.Getenv("LEADER_RETRY_INTERVAL"),
		LeaderHeartbeatIntervalStr:  os.Getenv("LEADER_HEARTBEAT_INTERVAL"),
		LogLevel:                    strings.ToLower(os.Getenv("LOG_LEVEL")),
		LogFormat:                   strings.ToLower(os.Getenv("LOG_FORMAT")),
	}

	if capStr := os.Getenv("QUEUE_CAPACITY"); capStr != "" {
		if n, err := parseInt(capStr); err == nil {
			cfg.QueueCapacity = n
		} else {
			slog.Warn("config: invalid QUEUE_CAPACITY, using unbounded queue", "value", capStr)
		}
	}

	if thresholdStr := os.Getenv("QUEUE_BREAKER_THRESHOLD"); thresholdStr != "" {
		if n, err := parseInt(thresholdStr); err == nil {
			cfg.QueueBreakerThreshold = n
		} else {
			slog.Warn("config: invalid QUEUE_BREAKER_THRESHOLD, using default 5", "value", thresholdStr)
		}
	}
	if cfg.QueueBreakerThreshold == 0 && os.Getenv("QUEUE_BREAKER_THRESHOLD") == "" {
		cfg.QueueBreakerThreshold = 5
	}

	if lockKeyStr := os.Getenv("LEADER_LOCK_KEY"); lockKeyStr != "" {
		if n, err := parseInt(lockKeyStr); err == nil && n > 0 {
			cfg.LeaderLockKey = int64(n)
		} else {
			slog.Warn("config: invalid LEADER_LOCK_KEY (must be a positive integer), using default", "value", lockKeyStr)
		}
	}
	if cfg.LeaderLockKey == 0 {
		cfg.LeaderLockKey = defaultLeaderLockKey
	}

	if maxOpenStr := os.Getenv("DB_MAX_OPEN_CONNS"); maxOpenStr != "" {
		if n, err := parseInt(maxOpenStr); err == nil && n > 0 {
			cfg.DBMaxOpenConns = n
		}
	}
	if cfg.DBMaxOpenConns == 0 {
		cfg.DBMaxOpenConns = 25
	}

	if maxIdleStr := os.Getenv("DB_MAX_IDLE_CONNS"); maxIdleStr != "" {
		if n, err := parseInt(maxIdleStr); err == nil && n > 0 {
			cfg.DBMaxIdleConns = n
		}
	}
	if cfg.DBMaxIdleConns == 0 {
		cfg.DBMaxIdleConns = 5
	}

	if cfg.Store == "" {
		cfg.Store = "memory"
	}
	if cfg.SQLitePath == "" {
		cfg.SQLitePath = "deploytrigger.db"
	}
	if cfg.Queue == "" {
		cfg.Queue = "memory"
	}
	if cfg.System == "" {
		cfg.System = "main"
	}
	// Support the PORT variable of container platforms as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.SweepSchedule == "" {
		cfg.SweepSchedule = "@every 30s"
	}
	if cfg.DelayedResumeSchedule == "" {
		cfg.DelayedResumeSchedule = "@every 1m"
	}
	if cfg.ScheduleTimezone == "" {
		cfg.ScheduleTimezone = "UTC"
	}
	if cfg.DeadJobTimeoutStr == "" {
		cfg.DeadJobTimeoutStr = "12h"
	}
	if cfg.RetryCeilingStr == "" {
		cfg.RetryCeilingStr = "4h"
	}
	if cfg.RetryStartedFailingGraceStr == "" {
		cfg.RetryStartedFailingGraceStr = "10s"
	}
	if cfg.RetryCapacityWindowStr == "" {
		cfg.RetryCapacityWindowStr = "15m"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.DBConnMaxLifetimeStr == "" {
		cfg.DBConnMaxLifetimeStr = "30m"
	}
	if cfg.DBConnMaxIdleTimeStr == "" {
		cfg.DBConnMaxIdleTimeStr = "5m"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.QueueBreakerCooldownStr == "" {
		cfg.QueueBreakerCooldownStr = "30s"
	}
	if cfg.LeaderRetryIntervalStr == "" {
		cfg.LeaderRetryIntervalStr = "5s"
	}
	if cfg.LeaderHeartbeatIntervalStr == "" {
		cfg.LeaderHeartbeatIntervalStr = "2s"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}

	// Parse durations; validation is handled separately by Validate().
	for _, d := range cfg.durations() {
		if v, err := time.ParseDuration(d.raw); err == nil {
			*d.value = v
		}
	}

	return cfg
}

type durationField struct {
	env   string
	raw   string
	value *time.Duration
}

// durations lists the duration settings with their env names, raw text and parsed target.
func (c *Config) durations() []durationField {
	return []durationField{
		{"DEAD_JOB_TIMEOUT", c.DeadJobTimeoutStr, &c.DeadJobTimeout},
		{"RETRY_CEILING", c.RetryCeilingStr, &c.RetryCeiling},
		{"RETRY_STARTED_FAILING_GRACE", c.RetryStartedFailingGraceStr, &c.RetryStartedFailingGrace},
		{"RETRY_CAPACITY_WINDOW", c.RetryCapacityWindowStr, &c.RetryCapacityWindow},
		{"DB_OP_TIMEOUT", c.DBOpTimeoutStr, &c.DBOpTimeout},
		{"DB_CONN_MAX_LIFETIME", c.DBConnMaxLifetimeStr, &c.DBConnMaxLifetime},
		{"DB_CONN_MAX_IDLE_TIME", c.DBConnMaxIdleTimeStr, &c.DBConnMaxIdleTime},
		{"HTTP_SHUTDOWN_TIMEOUT", c.HTTPShutdownTimeoutStr, &c.HTTPShutdownTimeout},
		{"QUEUE_BREAKER_COOLDOWN", c.QueueBreakerCooldownStr, &c.QueueBreakerCooldown},
		{"LEADER_RETRY_INTERVAL", c.LeaderRetryIntervalStr, &c.LeaderRetryInterval},
		{"LEADER_HEARTBEAT_INTERVAL", c.LeaderHeartbeatIntervalStr, &c.LeaderHeartbeatInterval},
	}
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
