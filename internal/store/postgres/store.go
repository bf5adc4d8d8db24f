// Package postgres stores applications in PostgreSQL.
//
// Each application is one row holding its JSON encoded record. The lock of an
// application is a session-scoped advisory lock taken on a dedicated
// connection, so several deploytrigger instances may share a database.
// Writes made under a lock go through the lock's connection. Inside one
// process, waiters for the same application queue on an in-process lock first
// so that they do not each hold a pool connection while blocked.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/lib/pq"

	"github.com/djlord-it/deploytrigger/internal/domain"
	"github.com/djlord-it/deploytrigger/internal/lock"
)

// Store implements the application store using PostgreSQL.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	local     *lock.Keyed[domain.ApplicationID]
	logger    *slog.Logger
}

// New creates a new PostgreSQL store. opTimeout bounds every query which is
// not a lock wait; zero disables it.
func New(db *sql.DB, opTimeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		db:        db,
		opTimeout: opTimeout,
		local:     lock.NewKeyed[domain.ApplicationID](),
		logger:    logger.With("component", "postgres"),
	}
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// lockKey maps an application to an advisory lock key.
func lockKey(id domain.ApplicationID) int64 {
	h := fnv.New64a()
	h.Write([]byte("deploytrigger/application/"))
	h.Write([]byte(id))
	return int64(h.Sum64())
}

type appLock struct {
	store *Store
	local *lock.Handle[domain.ApplicationID]
	conn  *sql.Conn
	key   int64
	held  atomic.Bool
}

func (l *appLock) ApplicationID() domain.ApplicationID { return l.local.Key() }

func (l *appLock) Held() bool { return l.held.Load() }

func (l *appLock) Release() error {
	if !l.held.CompareAndSwap(true, false) {
		return nil
	}
	defer l.local.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var unlocked bool
	err := l.conn.QueryRowContext(ctx, queryAdvisoryUnlock, l.key).Scan(&unlocked)
	if err == nil && !unlocked {
		err = fmt.Errorf("advisory lock %d was not held", l.key)
	}
	if err != nil {
		// the session may still hold the lock, so it must not go back to the pool
		discard(l.conn)
		return fmt.Errorf("unlock application %q: %w", l.ApplicationID(), err)
	}
	return l.conn.Close()
}

// discard closes conn and removes it from the pool, ending its session.
func discard(conn *sql.Conn) {
	_ = conn.Raw(func(any) error { return driver.ErrBadConn })
	_ = conn.Close()
}

// Lock blocks until the application's advisory lock is held or ctx is done.
func (s *Store) Lock(ctx context.Context, id domain.ApplicationID) (domain.Lock, error) {
	local, err := s.local.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock application %q: %w", id, err)
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		local.Release()
		return nil, fmt.Errorf("acquire dedicated connection: %w", err)
	}

	key := lockKey(id)
	if _, err := conn.ExecContext(ctx, queryAdvisoryLock, key); err != nil {
		// a cancelled wait may still have taken the lock
		discard(conn)
		local.Release()
		return nil, fmt.Errorf("lock application %q: %w", id, err)
	}

	l := &appLock{store: s, local: local, conn: conn, key: key}
	l.held.Store(true)
	return l, nil
}

// Create inserts a new application.
func (s *Store) Create(ctx context.Context, app domain.Application) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, queryInsertApplication, string(app.ID), record); err != nil {
		if isDuplicateKeyError(err) {
			return fmt.Errorf("application %q: %w", app.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	s.logger.Info("application created", "application", app.ID)
	return nil
}

// Require returns the application, or domain.ErrNotFound.
func (s *Store) Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var record []byte
	if err := s.db.QueryRowContext(ctx, queryGetApplication, string(id)).Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("application %q: %w", id, domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("read application: %w", err)
	}
	return decode(record)
}

// Store replaces the application's record through the lock's connection.
func (s *Store) Store(ctx context.Context, app domain.Application, l domain.Lock) error {
	al, ok := l.(*appLock)
	if !ok || al.store != s || !al.Held() || al.ApplicationID() != app.ID {
		return fmt.Errorf("store application %q: %w", app.ID, domain.ErrLockNotHeld)
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	record, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	res, err := al.conn.ExecContext(ctx, queryUpdateApplication, string(app.ID), record)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("application %q: %w", app.ID, domain.ErrNotFound)
	}
	return nil
}

// ListAll returns every application ordered by identity.
func (s *Store) ListAll(ctx context.Context) ([]domain.Application, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListApplications)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := []domain.Application{}
	for rows.Next() {
		var record []byte
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		app, err := decode(record)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return apps, nil
}

func decode(record []byte) (domain.Application, error) {
	var app domain.Application
	if err := json.Unmarshal(record, &app); err != nil {
		return domain.Application{}, fmt.Errorf("unmarshal application: %w", err)
	}
	return app, nil
}

const uniqueViolation pq.ErrorCode = "23505"

func isDuplicateKeyError(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
