// Package leaderelection elects the deploytrigger instance which runs the
// maintainers, using a Postgres advisory lock.
//
// Leadership is a session-scoped advisory lock held on a dedicated
// connection. There is no renewal or TTL: when the session ends, Postgres
// releases the lock and a follower takes over on its next attempt. The
// heartbeat only detects a dead local connection so that the leader stops
// its duties promptly; it does not extend anything.
package leaderelection

import (
	"context"
	"database/sql"
	"log/slog"
	"sync/atomic"
	"time"
)

// DefaultLockKey is the advisory lock key used when none is configured.
const DefaultLockKey int64 = 0x6465706c6f79 // "deploy"

// Reasons leadership ends.
const (
	ReasonShutdown = "shutdown"
	ReasonConnLost = "conn_lost"
)

const (
	queryTryLock = "SELECT pg_try_advisory_lock($1)"
	queryUnlock  = "SELECT pg_advisory_unlock($1)"

	unlockTimeout = 2 * time.Second
)

// Duties are started on election and stopped on demotion. Stop must block
// until the duties have ended and must be idempotent.
type Duties interface {
	Start(ctx context.Context)
	Stop()
}

// MetricsSink defines the interface for recording leader election metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)
}

// Config holds election timing.
type Config struct {
	// LockKey must be shared by every instance using the same database.
	LockKey int64

	// RetryInterval is how often a follower tries to take the lock. It bounds
	// the failover gap.
	RetryInterval time.Duration

	// HeartbeatInterval is how often the leader pings its connection.
	HeartbeatInterval time.Duration
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		LockKey:           DefaultLockKey,
		RetryInterval:     5 * time.Second,
		HeartbeatInterval: 2 * time.Second,
	}
}

// Elector campaigns for leadership and runs the duties while it holds it.
type Elector struct {
	db      *sql.DB
	config  Config
	duties  Duties
	leader  atomic.Bool
	logger  *slog.Logger
	metrics MetricsSink // optional, nil = disabled
}

func New(db *sql.DB, config Config, duties Duties, logger *slog.Logger) *Elector {
	return &Elector{
		db:     db,
		config: config,
		duties: duties,
		logger: logger.With("component", "leader", "lock_key", config.LockKey),
	}
}

// WithMetrics attaches a metrics sink to the elector.
func (e *Elector) WithMetrics(sink MetricsSink) *Elector {
	e.metrics = sink
	return e
}

// IsLeader reports whether this instance currently runs the duties.
func (e *Elector) IsLeader() bool {
	return e.leader.Load()
}

// Run campaigns until ctx is cancelled. The duties are stopped before it returns.
func (e *Elector) Run(ctx context.Context) {
	e.logger.Info("campaigning", "retry", e.config.RetryInterval, "heartbeat", e.config.HeartbeatInterval)
	defer e.logger.Info("campaign stopped")

	retry := time.NewTimer(0)
	defer retry.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-retry.C:
		}

		if reason, led := e.campaign(ctx); led && reason != ReasonShutdown {
			e.logger.Warn("lost leadership", "reason", reason, "retry_in", e.config.RetryInterval)
		}
		retry.Reset(e.config.RetryInterval)
	}
}

// campaign tries to take the lock once and, if it succeeds, leads until the
// lock is lost. led reports whether this instance was leader at all.
func (e *Elector) campaign(ctx context.Context) (reason string, led bool) {
	conn, err := e.db.Conn(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Error("failed to acquire dedicated connection", "error", err)
		}
		return "", false
	}
	defer conn.Close()

	var acquired bool
	if err := conn.QueryRowContext(ctx, queryTryLock, e.config.LockKey).Scan(&acquired); err != nil {
		if ctx.Err() == nil {
			e.logger.Error("advisory lock query failed", "error", err)
		}
		return "", false
	}
	if !acquired {
		e.logger.Debug("lock held by another instance")
		return "", false
	}

	return e.lead(ctx, conn), true
}

func (e *Elector) lead(ctx context.Context, conn *sql.Conn) string {
	e.leader.Store(true)
	e.logger.Info("acquired leadership")
	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(true)
		e.metrics.LeaderAcquired()
	}

	dutyCtx, cancel := context.WithCancel(ctx)
	e.duties.Start(dutyCtx)

	reason := e.heartbeat(ctx, conn)

	cancel()
	e.duties.Stop()
	e.release(conn)
	e.leader.Store(false)

	if e.metrics != nil {
		e.metrics.LeaderStatusChanged(false)
		e.metrics.LeaderLost(reason)
	}
	e.logger.Info("released leadership", "reason", reason)
	return reason
}

// heartbeat pings conn until it fails or ctx is done.
func (e *Elector) heartbeat(ctx context.Context, conn *sql.Conn) string {
	ticker := time.NewTicker(e.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ReasonShutdown
		case <-ticker.C:
		}
		if err := conn.PingContext(ctx); err != nil {
			if ctx.Err() != nil {
				return ReasonShutdown
			}
			e.logger.Error("dedicated connection ping failed", "error", err)
			return ReasonConnLost
		}
	}
}

// release unlocks explicitly, since closing a *sql.Conn returns the session
// to the pool with the lock still held.
func (e *Elector) release(conn *sql.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
	defer cancel()
	if _, err := conn.ExecContext(ctx, queryUnlock, e.config.LockKey); err != nil {
		e.logger.Warn("advisory unlock failed", "error", err)
	}
}
