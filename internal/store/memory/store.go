// Package memory provides an in-process application store.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/djlord-it/deploytrigger/internal/domain"
	"github.com/djlord-it/deploytrigger/internal/lock"
)

// Store keeps applications in memory. It is safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	apps  map[domain.ApplicationID]domain.Application
	locks *lock.Keyed[domain.ApplicationID]
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		apps:  make(map[domain.ApplicationID]domain.Application),
		locks: lock.NewKeyed[domain.ApplicationID](),
	}
}

type appLock struct {
	*lock.Handle[domain.ApplicationID]
}

func (l appLock) ApplicationID() domain.ApplicationID { return l.Key() }

func (l appLock) Release() error {
	l.Handle.Release()
	return nil
}

// Create adds a new application.
func (s *Store) Create(ctx context.Context, app domain.Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; ok {
		return fmt.Errorf("application %q: %w", app.ID, domain.ErrAlreadyExists)
	}
	s.apps[app.ID] = app.Clone()
	return nil
}

// Lock blocks until the application's lock is held or ctx is done.
// The application need not exist.
func (s *Store) Lock(ctx context.Context, id domain.ApplicationID) (domain.Lock, error) {
	h, err := s.locks.Acquire(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lock application %q: %w", id, err)
	}
	return appLock{h}, nil
}

// Require returns the application, or domain.ErrNotFound.
func (s *Store) Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return domain.Application{}, fmt.Errorf("application %q: %w", id, domain.ErrNotFound)
	}
	return app.Clone(), nil
}

// Store replaces the application. The caller must hold its lock.
func (s *Store) Store(ctx context.Context, app domain.Application, l domain.Lock) error {
	al, ok := l.(appLock)
	if !ok || !al.Held() || !al.Owner(s.locks) || al.ApplicationID() != app.ID {
		return fmt.Errorf("store application %q: %w", app.ID, domain.ErrLockNotHeld)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apps[app.ID] = app.Clone()
	return nil
}

// ListAll returns every application ordered by identity.
func (s *Store) ListAll(ctx context.Context) ([]domain.Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	apps := make([]domain.Application, 0, len(s.apps))
	for _, app := range s.apps {
		apps = append(apps, app.Clone())
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].ID < apps[j].ID })
	return apps, nil
}
