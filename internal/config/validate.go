package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/deploytrigger/internal/cron"
	"github.com/djlord-it/deploytrigger/internal/logging"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch cfg.Store {
	case "memory":
	case "sqlite":
		if cfg.SQLitePath == "" {
			add("SQLITE_PATH", "required when STORE is sqlite")
		}
	case "postgres":
		if cfg.DatabaseURL == "" {
			add("DATABASE_URL", "required when STORE is postgres")
		}
	default:
		add("STORE", "must be 'memory', 'sqlite' or 'postgres', got %q", cfg.Store)
	}

	switch cfg.Queue {
	case "memory":
	case "redis":
		if cfg.RedisAddr == "" {
			add("REDIS_ADDR", "required when QUEUE is redis")
		}
	default:
		add("QUEUE", "must be 'memory' or 'redis', got %q", cfg.Queue)
	}

	if cfg.System != "main" && cfg.System != "cd" {
		add("SYSTEM", "must be 'main' or 'cd', got %q", cfg.System)
	}

	parser := cron.NewParser()
	if _, err := parser.Parse(cfg.SweepSchedule, cfg.ScheduleTimezone); err != nil {
		add("SWEEP_SCHEDULE", "%v", err)
	}
	if _, err := parser.Parse(cfg.DelayedResumeSchedule, cfg.ScheduleTimezone); err != nil {
		add("DELAYED_RESUME_SCHEDULE", "%v", err)
	}

	// All durations must parse and be positive.
	for _, d := range cfg.durations() {
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			add(d.env, "invalid duration: %v", err)
		} else if v <= 0 {
			add(d.env, "must be positive")
		}
	}

	if _, ok := logging.ParseLevel(cfg.LogLevel); !ok {
		add("LOG_LEVEL", "must be debug, info, warn or error, got %q", cfg.LogLevel)
	}
	if !logging.ValidFormat(cfg.LogFormat) {
		add("LOG_FORMAT", "must be 'text' or 'json', got %q", cfg.LogFormat)
	}

	if cfg.DBMaxIdleConns > cfg.DBMaxOpenConns {
		add("DB_MAX_IDLE_CONNS", "must not exceed DB_MAX_OPEN_CONNS (%d)", cfg.DBMaxOpenConns)
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}
