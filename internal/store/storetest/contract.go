// Package storetest provides contract tests for application store
// implementations.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Store is the behaviour every application store provides.
type Store interface {
	Create(ctx context.Context, app domain.Application) error
	Lock(ctx context.Context, id domain.ApplicationID) (domain.Lock, error)
	Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error)
	Store(ctx context.Context, app domain.Application, lock domain.Lock) error
	ListAll(ctx context.Context) ([]domain.Application, error)
}

// Factory creates a fresh, empty Store for each test invocation.
type Factory func(t *testing.T) Store

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleApp(id domain.ApplicationID) domain.Application {
	return domain.NewApplication(id, domain.DeploymentSpec{Steps: []domain.Step{
		{Environment: domain.EnvironmentProd, Regions: []domain.Region{"us-east-3"}},
		{Delay: 30 * time.Minute},
		{Environment: domain.EnvironmentProd, Regions: []domain.Region{"us-west-1", "eu-west-1"}},
	}})
}

func mustLock(t *testing.T, s Store, id domain.ApplicationID) domain.Lock {
	t.Helper()
	l, err := s.Lock(context.Background(), id)
	if err != nil {
		t.Fatalf("Lock(%s): %v", id, err)
	}
	return l
}

// Run exercises the Store contract.
func Run(t *testing.T, factory Factory) {
	t.Run("CreateAndRequire", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		app := sampleApp("tenant.app.default")

		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := s.Require(ctx, app.ID)
		if err != nil {
			t.Fatalf("Require: %v", err)
		}
		if got.ID != app.ID {
			t.Errorf("ID = %q, want %q", got.ID, app.ID)
		}
		if len(got.DeploymentSpec.Steps) != 3 {
			t.Errorf("len(Steps) = %d, want 3", len(got.DeploymentSpec.Steps))
		}
		if got.DeploymentSpec.Steps[1].Delay != 30*time.Minute {
			t.Errorf("delay = %s, want 30m", got.DeploymentSpec.Steps[1].Delay)
		}
		if got.IsDeploying() {
			t.Error("new application should not be deploying")
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		app := sampleApp("tenant.app.default")

		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("first Create: %v", err)
		}
		if err := s.Create(ctx, app); !errors.Is(err, domain.ErrAlreadyExists) {
			t.Fatalf("second Create: got %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("RequireNotFound", func(t *testing.T) {
		s := factory(t)
		_, err := s.Require(context.Background(), "tenant.missing.default")
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("Require: got %v, want ErrNotFound", err)
		}
	})

	t.Run("StoreRoundTrip", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		app := sampleApp("tenant.app.default")
		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}

		change := domain.ApplicationChange{ID: uuid.New(), Revision: "abc123"}
		capacity := domain.JobErrorOutOfCapacity
		app = app.WithDeploying(change).WithOutstandingChange(true)
		app = app.WithJobTriggering(domain.JobSystemTest, change, t0)
		app = app.WithJobCompletion(domain.JobReport{
			ApplicationID: app.ID,
			JobType:       domain.JobSystemTest,
			BuildNumber:   7,
			Error:         &capacity,
		}, t0.Add(time.Minute))

		l := mustLock(t, s, app.ID)
		if err := s.Store(ctx, app, l); err != nil {
			t.Fatalf("Store: %v", err)
		}
		if err := l.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}

		got, err := s.Require(ctx, app.ID)
		if err != nil {
			t.Fatalf("Require: %v", err)
		}
		if !domain.SameChange(got.Deploying, change) {
			t.Errorf("Deploying = %v, want %v", got.Deploying, change)
		}
		if !got.OutstandingChange {
			t.Error("OutstandingChange = false, want true")
		}
		status, ok := got.DeploymentJobs.JobStatus(domain.JobSystemTest)
		if !ok {
			t.Fatal("system test status missing")
		}
		if !status.HasError(domain.JobErrorOutOfCapacity) {
			t.Errorf("Error = %v, want out-of-capacity", status.Error)
		}
		if status.FirstFailing == nil || !status.FirstFailing.At.Equal(t0.Add(time.Minute)) {
			t.Errorf("FirstFailing = %v, want %s", status.FirstFailing, t0.Add(time.Minute))
		}
		if !status.LastCompletedFor(change) {
			t.Error("last completion lost its change")
		}
	})

	t.Run("StoreRequiresHeldLock", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		app := sampleApp("tenant.app.default")
		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}

		l := mustLock(t, s, app.ID)
		if err := l.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		if err := s.Store(ctx, app, l); !errors.Is(err, domain.ErrLockNotHeld) {
			t.Fatalf("Store with released lock: got %v, want ErrLockNotHeld", err)
		}
	})

	t.Run("StoreRequiresLockOfSameApplication", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		a := sampleApp("tenant.a.default")
		b := sampleApp("tenant.b.default")
		for _, app := range []domain.Application{a, b} {
			if err := s.Create(ctx, app); err != nil {
				t.Fatalf("Create: %v", err)
			}
		}

		l := mustLock(t, s, a.ID)
		defer l.Release()
		if err := s.Store(ctx, b, l); !errors.Is(err, domain.ErrLockNotHeld) {
			t.Fatalf("Store with other application's lock: got %v, want ErrLockNotHeld", err)
		}
	})

	t.Run("LockIsExclusive", func(t *testing.T) {
		s := factory(t)
		app := sampleApp("tenant.app.default")
		if err := s.Create(context.Background(), app); err != nil {
			t.Fatalf("Create: %v", err)
		}

		l := mustLock(t, s, app.ID)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()
		if _, err := s.Lock(ctx, app.ID); err == nil {
			t.Fatal("second Lock succeeded while the first is held")
		}

		if err := l.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
		l2 := mustLock(t, s, app.ID)
		if err := l2.Release(); err != nil {
			t.Fatalf("Release: %v", err)
		}
	})

	t.Run("LocksAreIndependent", func(t *testing.T) {
		s := factory(t)
		l := mustLock(t, s, "tenant.a.default")
		defer l.Release()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		l2, err := s.Lock(ctx, "tenant.b.default")
		if err != nil {
			t.Fatalf("Lock of another application: %v", err)
		}
		l2.Release()
	})

	t.Run("NoLostUpdates", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		app := sampleApp("tenant.app.default")
		if err := s.Create(ctx, app); err != nil {
			t.Fatalf("Create: %v", err)
		}

		const writers = 8
		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				l, err := s.Lock(ctx, app.ID)
				if err != nil {
					t.Errorf("Lock: %v", err)
					return
				}
				defer l.Release()
				current, err := s.Require(ctx, app.ID)
				if err != nil {
					t.Errorf("Require: %v", err)
					return
				}
				// each writer bumps the build number it read
				next := int64(1)
				if status, ok := current.DeploymentJobs.JobStatus(domain.JobSystemTest); ok && status.LastCompleted != nil {
					next = status.LastCompleted.BuildNumber + 1
				}
				current = current.WithJobCompletion(domain.JobReport{
					ApplicationID: app.ID,
					JobType:       domain.JobSystemTest,
					BuildNumber:   next,
					Success:       true,
				}, t0)
				if err := s.Store(ctx, current, l); err != nil {
					t.Errorf("Store: %v", err)
				}
			}()
		}
		wg.Wait()

		build, ok := lastBuild(ctx, s, app.ID)
		if !ok || build != writers {
			t.Errorf("last build = %d, want %d", build, writers)
		}
	})

	t.Run("ListAll", func(t *testing.T) {
		s := factory(t)
		ctx := context.Background()
		for _, id := range []domain.ApplicationID{"tenant.b.default", "tenant.a.default"} {
			if err := s.Create(ctx, sampleApp(id)); err != nil {
				t.Fatalf("Create %s: %v", id, err)
			}
		}

		apps, err := s.ListAll(ctx)
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		if len(apps) != 2 {
			t.Fatalf("len = %d, want 2", len(apps))
		}
		if apps[0].ID != "tenant.a.default" || apps[1].ID != "tenant.b.default" {
			t.Errorf("order = %s, %s; want ordered by identity", apps[0].ID, apps[1].ID)
		}
	})

	t.Run("ListAllEmpty", func(t *testing.T) {
		s := factory(t)
		apps, err := s.ListAll(context.Background())
		if err != nil {
			t.Fatalf("ListAll: %v", err)
		}
		if len(apps) != 0 {
			t.Errorf("len = %d, want 0", len(apps))
		}
	})
}

func lastBuild(ctx context.Context, s Store, id domain.ApplicationID) (int64, bool) {
	app, err := s.Require(ctx, id)
	if err != nil {
		return 0, false
	}
	status, ok := app.DeploymentJobs.JobStatus(domain.JobSystemTest)
	if !ok || status.LastCompleted == nil {
		return 0, false
	}
	return status.LastCompleted.BuildNumber, true
}
