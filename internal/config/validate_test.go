package config

import (
	"errors"
	"strings"
	"testing"
)

// validConfig returns the defaults as loaded from an empty environment.
func validConfig(t *testing.T) Config {
	t.Helper()
	clearEnv(t)
	return Load()
}

func TestValidate_BackendRequirements(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr string
	}{
		{"postgres without url", func(c *Config) { c.Store = "postgres" }, "DATABASE_URL"},
		{"sqlite without path", func(c *Config) { c.Store = "sqlite"; c.SQLitePath = "" }, "SQLITE_PATH"},
		{"unknown store", func(c *Config) { c.Store = "mysql" }, "STORE"},
		{"redis without addr", func(c *Config) { c.Queue = "redis" }, "REDIS_ADDR"},
		{"unknown queue", func(c *Config) { c.Queue = "kafka" }, "QUEUE"},
		{"unknown system", func(c *Config) { c.System = "public" }, "SYSTEM"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.modify(&cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should mention %s", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_InvalidDuration(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantErr string
	}{
		{"non-parseable", "invalid", "invalid duration"},
		{"negative", "-1s", "must be positive"},
		{"zero", "0s", "must be positive"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			cfg.DeadJobTimeoutStr = tt.value

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected error for dead_job_timeout=%q", tt.value)
			}
			if !strings.Contains(err.Error(), "DEAD_JOB_TIMEOUT") || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should name DEAD_JOB_TIMEOUT and contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidate_Schedules(t *testing.T) {
	cfg := validConfig(t)
	cfg.SweepSchedule = "*/5 * * * *"
	cfg.DelayedResumeSchedule = "@hourly"
	if err := Validate(cfg); err != nil {
		t.Errorf("valid schedules rejected: %v", err)
	}

	cfg.SweepSchedule = "every thirty seconds"
	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "SWEEP_SCHEDULE") {
		t.Errorf("error = %v, should mention SWEEP_SCHEDULE", err)
	}

	cfg = validConfig(t)
	cfg.ScheduleTimezone = "Mars/Olympus"
	err = Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "SWEEP_SCHEDULE") || !strings.Contains(err.Error(), "DELAYED_RESUME_SCHEDULE") {
		t.Errorf("error = %v, both schedules should be rejected for an unknown timezone", err)
	}
}

func TestValidate_Logging(t *testing.T) {
	cfg := validConfig(t)
	cfg.LogLevel = "loud"
	cfg.LogFormat = "xml"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "LOG_LEVEL") || !strings.Contains(err.Error(), "LOG_FORMAT") {
		t.Errorf("error %q should mention LOG_LEVEL and LOG_FORMAT", err.Error())
	}
}

func TestValidate_PoolSizes(t *testing.T) {
	cfg := validConfig(t)
	cfg.DBMaxIdleConns = cfg.DBMaxOpenConns + 1

	err := Validate(cfg)
	if err == nil || !strings.Contains(err.Error(), "DB_MAX_IDLE_CONNS") {
		t.Errorf("error = %v, should mention DB_MAX_IDLE_CONNS", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := validConfig(t)
	cfg.Store = "postgres"
	cfg.RetryCeilingStr = "invalid"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected error")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 2 {
		t.Errorf("expected 2 errors, got %d: %v", len(verrs), verrs)
	}
}

func TestValidationError_Format(t *testing.T) {
	err := ValidationError{Field: "STORE", Message: "must be 'memory', 'sqlite' or 'postgres'"}
	expected := "STORE: must be 'memory', 'sqlite' or 'postgres'"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}

func TestValidationErrors_Format(t *testing.T) {
	errs := ValidationErrors{
		{Field: "STORE", Message: "invalid"},
		{Field: "QUEUE", Message: "invalid"},
	}

	msg := errs.Error()
	if !strings.Contains(msg, "2 validation errors") {
		t.Errorf("should contain count: %q", msg)
	}
	if !strings.Contains(msg, "STORE") || !strings.Contains(msg, "QUEUE") {
		t.Errorf("should contain both fields: %q", msg)
	}
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should format as empty string")
	}
}
