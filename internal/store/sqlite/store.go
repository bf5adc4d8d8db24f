// Package sqlite stores applications in a SQLite database. Each application
// is one row holding its JSON encoded record.
//
// Locks are held in process, so a database must not be shared by several
// deploytrigger instances.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/djlord-it/deploytrigger/internal/domain"
	"github.com/djlord-it/deploytrigger/internal/lock"
)

// Store implements the application store backed by SQLite.
type Store struct {
	db    *sql.DB
	locks *lock.Keyed[domain.ApplicationID]
}

// New creates a store on a database opened with Open.
func New(db *sql.DB) *Store {
	return &Store{db: db, locks: lock.NewKeyed[domain.ApplicationID]()}
}

type appLock struct {
	*lock.Handle[domain.ApplicationID]
}

func (l appLock) ApplicationID() domain.ApplicationID { return l.Key() }

func (l appLock) Release() error {
	l.Handle.Release()
	return nil
}

// Create inserts a new application.
func (s *Store) Create(ctx context.Context, app domain.Application) error {
	record, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO applications (id, record) VALUES (?, ?)`,
		string(app.ID), string(record),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("application %q: %w", app.ID, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("insert application: %w", err)
	}
	return nil
}

// Lock blocks until the application's lock is held or ctx is done.
func (s *Store) Lock(ctx context.Context, id domain.ApplicationID) (domain.Lock, error) {
	h, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock application %q: %w", id, err)
	}
	return appLock{h}, nil
}

// Require returns the application, or domain.ErrNotFound.
func (s *Store) Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error) {
	row := s.db.QueryRowContext(ctx, `SELECT record FROM applications WHERE id = ?`, string(id))
	var record string
	if err := row.Scan(&record); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Application{}, fmt.Errorf("application %q: %w", id, domain.ErrNotFound)
		}
		return domain.Application{}, fmt.Errorf("read application: %w", err)
	}
	return decode(record)
}

// Store replaces the application's record. The caller must hold its lock.
func (s *Store) Store(ctx context.Context, app domain.Application, l domain.Lock) error {
	al, ok := l.(appLock)
	if !ok || !al.Held() || !al.Owner(s.locks) || al.ApplicationID() != app.ID {
		return fmt.Errorf("store application %q: %w", app.ID, domain.ErrLockNotHeld)
	}

	record, err := json.Marshal(app)
	if err != nil {
		return fmt.Errorf("marshal application: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE applications SET record = ?, updated_at = strftime('%Y-%m-%dT%H:%M:%fZ', 'now') WHERE id = ?`,
		string(record), string(app.ID),
	)
	if err != nil {
		return fmt.Errorf("update application: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("application %q: %w", app.ID, domain.ErrNotFound)
	}
	return nil
}

// ListAll returns every application ordered by identity.
func (s *Store) ListAll(ctx context.Context) ([]domain.Application, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM applications ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list applications: %w", err)
	}
	defer rows.Close()

	apps := []domain.Application{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("scan application: %w", err)
		}
		app, err := decode(record)
		if err != nil {
			return nil, err
		}
		apps = append(apps, app)
	}
	return apps, rows.Err()
}

func decode(record string) (domain.Application, error) {
	var app domain.Application
	if err := json.Unmarshal([]byte(record), &app); err != nil {
		return domain.Application{}, fmt.Errorf("unmarshal application: %w", err)
	}
	return app, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
