package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/deploytrigger/internal/api"
	"github.com/djlord-it/deploytrigger/internal/circuitbreaker"
	"github.com/djlord-it/deploytrigger/internal/clock"
	"github.com/djlord-it/deploytrigger/internal/config"
	"github.com/djlord-it/deploytrigger/internal/cron"
	"github.com/djlord-it/deploytrigger/internal/domain"
	"github.com/djlord-it/deploytrigger/internal/leaderelection"
	"github.com/djlord-it/deploytrigger/internal/logging"
	"github.com/djlord-it/deploytrigger/internal/maintainer"
	"github.com/djlord-it/deploytrigger/internal/metrics"
	"github.com/djlord-it/deploytrigger/internal/pipeline"
	"github.com/djlord-it/deploytrigger/internal/queue/memory"
	"github.com/djlord-it/deploytrigger/internal/queue/redisqueue"
	"github.com/djlord-it/deploytrigger/internal/retry"
	memstore "github.com/djlord-it/deploytrigger/internal/store/memory"
	"github.com/djlord-it/deploytrigger/internal/store/postgres"
	"github.com/djlord-it/deploytrigger/internal/store/sqlite"
	"github.com/djlord-it/deploytrigger/internal/trigger"

	_ "github.com/lib/pq"
)

// applicationStore is what the engine and the API need from a store backend.
type applicationStore interface {
	trigger.ApplicationStore
	Create(ctx context.Context, app domain.Application) error
}

// jobQueue is what the engine and the API need from a queue backend.
type jobQueue interface {
	trigger.JobQueue
	api.Queue
}

// redisPinger adapts a redis client to api.HealthChecker.
type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) PingContext(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// service is a fully wired deploytrigger instance.
type service struct {
	cfg         config.Config
	logger      *slog.Logger
	handler     http.Handler
	engine      *trigger.Engine
	maintainers *maintainer.Set
	elector     *leaderelection.Elector // nil unless the store is shared
	closers     []func() error
}

func runServe(ctx context.Context, cfg config.Config) error {
	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.New(level, cfg.LogFormat)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc, err := newService(ctx, cfg, logger, reg)
	if err != nil {
		return err
	}
	return svc.run(ctx)
}

func newService(ctx context.Context, cfg config.Config, logger *slog.Logger, reg *prometheus.Registry) (svc *service, err error) {
	svc = &service{cfg: cfg, logger: logger.With("component", "main")}
	defer func() {
		if err != nil {
			svc.close()
		}
	}()

	var sink metrics.Sink = metrics.NewNoopSink()
	if cfg.MetricsEnabled {
		sink = metrics.NewPrometheusSink(reg, logger)
		svc.logger.Info("metrics enabled", "path", cfg.MetricsPath)
	} else {
		svc.logger.Info("METRICS_ENABLED not set; metrics disabled")
	}

	checks := map[string]api.HealthChecker{}
	clk := clock.System{}

	var store applicationStore
	var sharedDB *sql.DB
	switch cfg.Store {
	case "memory":
		store = memstore.New()
		svc.logger.Warn("STORE=memory: application state is lost on restart")
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db.Close)
		store = sqlite.New(db)
		checks["database"] = db
		svc.logger.Info("sqlite store opened", "path", cfg.SQLitePath)
	case "postgres":
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		svc.closers = append(svc.closers, db.Close)
		store = postgres.New(db, cfg.DBOpTimeout, logger)
		checks["database"] = db
		sharedDB = db
		svc.logger.Info("postgres store opened",
			"max_open", cfg.DBMaxOpenConns, "max_idle", cfg.DBMaxIdleConns,
			"max_lifetime", cfg.DBConnMaxLifetime, "max_idle_time", cfg.DBConnMaxIdleTime)
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	var queue jobQueue
	switch cfg.Queue {
	case "memory":
		queue = memory.New(memory.WithCapacity(cfg.QueueCapacity), memory.WithMetrics(sink))
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		svc.closers = append(svc.closers, client.Close)
		var breaker *circuitbreaker.CircuitBreaker
		if cfg.QueueBreakerThreshold > 0 {
			breaker = circuitbreaker.New(cfg.QueueBreakerThreshold, cfg.QueueBreakerCooldown, clk).
				OnStateChange(sink.BreakerStateChanged)
		}
		queue = redisqueue.New(client, cfg.RedisPrefix, breaker)
		checks["redis"] = redisPinger{client: client}
		svc.logger.Info("redis queue configured", "addr", cfg.RedisAddr, "breaker_threshold", cfg.QueueBreakerThreshold)
	default:
		return nil, fmt.Errorf("unknown queue %q", cfg.Queue)
	}

	system := domain.System(cfg.System)
	svc.engine = trigger.New(
		trigger.Config{
			System: system,
			Policy: retry.Policy{
				Ceiling:             cfg.RetryCeiling,
				StartedFailingGrace: cfg.RetryStartedFailingGrace,
				CapacityWindow:      cfg.RetryCapacityWindow,
			},
		},
		store,
		queue,
		pipeline.New(system, clk, logger),
		clk,
		logger,
	).WithMetrics(sink)

	svc.maintainers, err = newMaintainers(cfg, store, svc.engine, sink, clk, logger)
	if err != nil {
		return nil, err
	}

	if sharedDB != nil {
		svc.elector = leaderelection.New(sharedDB, leaderelection.Config{
			LockKey:           cfg.LeaderLockKey,
			RetryInterval:     cfg.LeaderRetryInterval,
			HeartbeatInterval: cfg.LeaderHeartbeatInterval,
		}, svc.maintainers, logger).WithMetrics(sink)
	}

	apiHandler := api.NewHandler(svc.engine, store, queue, system, logger)
	for name, c := range checks {
		apiHandler.WithHealthChecker(name, c)
	}

	r := chi.NewRouter()
	if cfg.MetricsEnabled {
		r.Handle(cfg.MetricsPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	r.Mount("/", apiHandler)
	svc.handler = r

	return svc, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)
	db.SetConnMaxLifetime(cfg.DBConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.DBConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DBOpTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := postgres.Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newMaintainers(
	cfg config.Config,
	store maintainer.Store,
	engine maintainer.Engine,
	sink metrics.Sink,
	clk clock.Clock,
	logger *slog.Logger,
) (*maintainer.Set, error) {
	parser := cron.NewParser()
	sweep, err := parser.Parse(cfg.SweepSchedule, cfg.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("sweep schedule: %w", err)
	}
	resume, err := parser.Parse(cfg.DelayedResumeSchedule, cfg.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("delayed resume schedule: %w", err)
	}

	redeployer := maintainer.NewFailureRedeployer(store, engine, cfg.DeadJobTimeout, logger).WithMetrics(sink)
	resumer := maintainer.NewDelayedResumer(engine)

	return maintainer.NewSet(
		maintainer.NewRunner(redeployer, sweep, clk, logger).WithMetrics(sink),
		maintainer.NewRunner(resumer, resume, clk, logger).WithMetrics(sink),
	), nil
}

// run serves until ctx is done or the HTTP server fails, then shuts down in order:
// maintainers first so no trigger decision is cut short, then the HTTP server,
// then the backends.
func (s *service) run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              s.cfg.HTTPAddr,
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	electorDone := make(chan struct{})
	if s.elector != nil {
		go func() {
			defer close(electorDone)
			s.elector.Run(runCtx)
		}()
	} else {
		close(electorDone)
		s.maintainers.Start(runCtx)
		s.logger.Info("maintainers started without leader election", "store", s.cfg.Store)
	}

	s.logger.Info("started",
		"store", s.cfg.Store, "queue", s.cfg.Queue, "system", s.cfg.System,
		"sweep", s.cfg.SweepSchedule, "delayed_resume", s.cfg.DelayedResumeSchedule)

	var runErr error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-serveErr:
		runErr = fmt.Errorf("http server: %w", err)
		s.logger.Error("http server failed, shutting down", "error", err)
	}

	cancel()
	<-electorDone
	s.maintainers.Stop()
	s.logger.Info("maintainers stopped")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), s.cfg.HTTPShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Warn("http server shutdown error", "error", err)
	}
	s.logger.Info("http server stopped")

	s.close()
	s.logger.Info("stopped")
	return runErr
}

// close releases the backends in reverse order of opening.
func (s *service) close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			s.logger.Warn("close error", "error", err)
		}
	}
	s.closers = nil
}
