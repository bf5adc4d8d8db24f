// deploytrigger decides when the jobs of application deployment pipelines run.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/djlord-it/deploytrigger/internal/config"
)

// Build-time variables set via -ldflags
var (
	version = "dev"
	commit  = "unknown"
)

const (
	exitSuccess       = 0
	exitRuntimeError  = 1
	exitInvalidConfig = 2
)

// exitError carries the process exit code out of a command.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCode(err))
	}
	os.Exit(exitSuccess)
}

const envHelp = `Environment Variables:
  STORE                        Application store: memory, sqlite or postgres (default: "memory")
  SQLITE_PATH                  SQLite database file (default: "deploytrigger.db")
  DATABASE_URL                 PostgreSQL connection string (required for STORE=postgres)
  QUEUE                        Job queue: memory or redis (default: "memory")
  QUEUE_CAPACITY               Maximum queued jobs for the memory queue, 0 = unbounded (default: "0")
  REDIS_ADDR                   Redis address (required for QUEUE=redis)
  REDIS_PREFIX                 Redis key prefix (default: "deploytrigger:queue")
  HTTP_ADDR                    HTTP server address (default: ":8080", or ":$PORT")
  SYSTEM                       Zone topology: main or cd (default: "main")

  SWEEP_SCHEDULE               Failure redeployer schedule (default: "@every 30s")
  DELAYED_RESUME_SCHEDULE      Delayed deployment resumer schedule (default: "@every 1m")
  SCHEDULE_TIMEZONE            Timezone of the schedules (default: "UTC")
  DEAD_JOB_TIMEOUT             Age after which an unreported job is retriggered (default: "12h")
  RETRY_CEILING                Longest wait between retries of a failing job (default: "4h")
  RETRY_STARTED_FAILING_GRACE  Immediate retry window after a first failure (default: "10s")
  RETRY_CAPACITY_WINDOW        Immediate retry window for out-of-capacity errors (default: "15m")

  DB_OP_TIMEOUT                Database operation timeout (default: "5s")
  DB_MAX_OPEN_CONNS            Max open database connections (default: "25")
  DB_MAX_IDLE_CONNS            Max idle database connections (default: "5")
  DB_CONN_MAX_LIFETIME         Max connection lifetime (default: "30m")
  DB_CONN_MAX_IDLE_TIME        Max connection idle time (default: "5m")
  HTTP_SHUTDOWN_TIMEOUT        Graceful HTTP shutdown timeout (default: "10s")

  METRICS_ENABLED              Enable Prometheus metrics (default: "false")
  METRICS_PATH                 Metrics endpoint path (default: "/metrics")
  QUEUE_BREAKER_THRESHOLD      Redis failures before the breaker opens, 0 = disabled (default: "5")
  QUEUE_BREAKER_COOLDOWN       Time the breaker stays open (default: "30s")

  LEADER_LOCK_KEY              Advisory lock key shared by all instances (STORE=postgres)
  LEADER_RETRY_INTERVAL        Follower lock acquisition interval (default: "5s")
  LEADER_HEARTBEAT_INTERVAL    Leader connection ping interval (default: "2s")

  LOG_LEVEL                    debug, info, warn or error (default: "info")
  LOG_FORMAT                   text or json (default: "text")`

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitRuntimeError
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "deploytrigger",
		Short: "Deployment pipeline trigger",
		Long: `deploytrigger decides when each job of an application's deployment pipeline
runs: it advances changes through test, staging and production, retries
failing jobs and resumes rollouts paused by delay steps.

` + envHelp,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(validateCmd())
	root.AddCommand(configCmd())
	root.AddCommand(versionCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the maintainers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := config.Validate(cfg); err != nil {
				return &exitError{code: exitInvalidConfig, err: fmt.Errorf("configuration error: %w", err)}
			}
			if err := runServe(cmd.Context(), cfg); err != nil {
				return &exitError{code: exitRuntimeError, err: err}
			}
			return nil
		},
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration (no connections made)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.OutOrStdout(), config.Load())
		},
	}
}

func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print effective configuration as JSON (secrets masked)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfig(cmd.OutOrStdout(), config.Load())
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "deploytrigger version %s (commit: %s)\n", version, commit)
		},
	}
}

func runValidate(w io.Writer, cfg config.Config) error {
	if err := config.Validate(cfg); err != nil {
		return &exitError{code: exitInvalidConfig, err: err}
	}
	fmt.Fprintln(w, "configuration valid")
	return nil
}

func runConfig(w io.Writer, cfg config.Config) error {
	data, err := cfg.MaskedJSON()
	if err != nil {
		return &exitError{code: exitRuntimeError, err: fmt.Errorf("failed to marshal config: %w", err)}
	}
	fmt.Fprintln(w, string(data))
	return nil
}
