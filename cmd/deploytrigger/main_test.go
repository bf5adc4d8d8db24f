package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/djlord-it/deploytrigger/internal/api"
	"github.com/djlord-it/deploytrigger/internal/config"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memoryConfig loads a configuration with in-memory backends.
func memoryConfig(t *testing.T) config.Config {
	t.Helper()
	for name, value := range map[string]string{
		"STORE":                   "memory",
		"QUEUE":                   "memory",
		"SYSTEM":                  "main",
		"HTTP_ADDR":               "127.0.0.1:0",
		"METRICS_ENABLED":         "true",
		"METRICS_PATH":            "/metrics",
		"SWEEP_SCHEDULE":          "@every 1h",
		"DELAYED_RESUME_SCHEDULE": "@every 1h",
		"SCHEDULE_TIMEZONE":       "",
		"DATABASE_URL":            "",
		"LOG_LEVEL":               "",
		"LOG_FORMAT":              "",
	} {
		t.Setenv(name, value)
	}
	cfg := config.Load()
	if err := config.Validate(cfg); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return cfg
}

func TestExitCode(t *testing.T) {
	if got := exitCode(&exitError{code: exitInvalidConfig, err: errors.New("bad")}); got != exitInvalidConfig {
		t.Errorf("exitCode = %d, want %d", got, exitInvalidConfig)
	}
	if got := exitCode(errors.New("unknown command")); got != exitRuntimeError {
		t.Errorf("exitCode = %d, want %d", got, exitRuntimeError)
	}
}

func TestVersionCommand(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	if err := root.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "deploytrigger version dev") {
		t.Errorf("output = %q", out.String())
	}
}

func TestValidateCommand(t *testing.T) {
	memoryConfig(t)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"validate"})
	if err := root.Execute(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out.String(), "configuration valid") {
		t.Errorf("output = %q", out.String())
	}

	t.Setenv("STORE", "postgres")
	root = newRootCmd()
	root.SetOut(io.Discard)
	root.SetArgs([]string{"validate"})
	err := root.Execute()
	if exitCode(err) != exitInvalidConfig {
		t.Errorf("exit code = %d, want %d (err %v)", exitCode(err), exitInvalidConfig, err)
	}
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Errorf("error = %v, should mention DATABASE_URL", err)
	}
}

func TestConfigCommand_MasksSecrets(t *testing.T) {
	memoryConfig(t)
	t.Setenv("DATABASE_URL", "postgres://user:hunter2@db/deploytrigger")

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	if strings.Contains(out.String(), "hunter2") {
		t.Errorf("config output leaks the password: %s", out.String())
	}
	var fields map[string]any
	if err := json.Unmarshal(out.Bytes(), &fields); err != nil {
		t.Fatalf("config output is not JSON: %v", err)
	}
}

func TestServeCommand_RejectsInvalidConfig(t *testing.T) {
	memoryConfig(t)
	t.Setenv("QUEUE", "kafka")

	root := newRootCmd()
	root.SetArgs([]string{"serve"})
	err := root.ExecuteContext(context.Background())
	if exitCode(err) != exitInvalidConfig {
		t.Errorf("exit code = %d, want %d (err %v)", exitCode(err), exitInvalidConfig, err)
	}
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, target, r))
	return w
}

func TestService_MemoryBackendsEndToEnd(t *testing.T) {
	cfg := memoryConfig(t)
	svc, err := newService(context.Background(), cfg, discardLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.close()
	if svc.elector != nil {
		t.Error("memory store should not use leader election")
	}

	h := svc.handler
	w := do(t, h, http.MethodPost, "/v1/applications",
		`{"id": "tenant.app.default", "deployment_spec": {"steps": [{"environment": "prod", "regions": ["us-east-3"]}]}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodPost, "/v1/jobs/report",
		`{"application_id": "tenant.app.default", "job_type": "component", "build_number": 1, "success": true, "revision": "abc123"}`)
	if w.Code != http.StatusNoContent {
		t.Fatalf("report: %d %s", w.Code, w.Body.String())
	}

	w = do(t, h, http.MethodGet, "/v1/applications/tenant.app.default/queue", "")
	var queued api.ApplicationQueueResponse
	if err := json.Unmarshal(w.Body.Bytes(), &queued); err != nil {
		t.Fatalf("queue response: %v", err)
	}
	if len(queued.Jobs) != 1 || queued.Jobs[0] != "system-test" {
		t.Errorf("queued = %v, want [system-test]", queued.Jobs)
	}

	w = do(t, h, http.MethodGet, "/v1/applications/tenant.app.default", "")
	var app api.ApplicationResponse
	if err := json.Unmarshal(w.Body.Bytes(), &app); err != nil {
		t.Fatalf("application response: %v", err)
	}
	if app.Deploying.Kind != "application" || app.Deploying.Revision != "abc123" {
		t.Errorf("deploying = %+v", app.Deploying)
	}

	w = do(t, h, http.MethodPost, "/v1/queue/take?limit=10", "")
	var taken api.QueuedJobsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &taken); err != nil {
		t.Fatalf("take response: %v", err)
	}
	if len(taken.Jobs) != 1 || taken.Jobs[0].JobType != "system-test" {
		t.Errorf("taken = %+v", taken.Jobs)
	}

	w = do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("metrics: %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "deploytrigger_jobs_triggered_total") {
		t.Error("metrics output missing deploytrigger_jobs_triggered_total")
	}
}

func TestService_MetricsDisabled(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.MetricsEnabled = false
	svc, err := newService(context.Background(), cfg, discardLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.close()

	if w := do(t, svc.handler, http.MethodGet, "/metrics", ""); w.Code != http.StatusNotFound {
		t.Errorf("metrics with metrics disabled: got %d, want 404", w.Code)
	}
	if w := do(t, svc.handler, http.MethodGet, "/health", ""); w.Code != http.StatusOK {
		t.Errorf("health: got %d, want 200", w.Code)
	}
}

func TestService_SQLiteBackend(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.Store = "sqlite"
	cfg.SQLitePath = t.TempDir() + "/deploytrigger.db"

	svc, err := newService(context.Background(), cfg, discardLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}
	defer svc.close()

	w := do(t, svc.handler, http.MethodPost, "/v1/applications", `{"id": "tenant.app.default"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", w.Code, w.Body.String())
	}
	w = do(t, svc.handler, http.MethodGet, "/health?verbose=true", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"database":"healthy"`) {
		t.Errorf("health: %d %s", w.Code, w.Body.String())
	}
}

func TestService_RunStopsOnCancel(t *testing.T) {
	cfg := memoryConfig(t)
	svc, err := newService(context.Background(), cfg, discardLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func TestService_RunFailsOnBadAddress(t *testing.T) {
	cfg := memoryConfig(t)
	cfg.HTTPAddr = "256.0.0.1:99999"
	svc, err := newService(context.Background(), cfg, discardLogger(), prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newService: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- svc.run(context.Background()) }()

	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "http server") {
			t.Errorf("run error = %v, want http server failure", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the listener failed")
	}
}
