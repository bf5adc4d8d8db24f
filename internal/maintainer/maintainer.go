// Package maintainer runs the periodic upkeep of deployment pipelines.
//
// A maintainer runs one cycle on every tick of its cron schedule. The
// failure redeployer sweeps every application with an active change for jobs
// to retry; the delayed resumer restarts rollouts paused by a delay step.
// Maintainers are leader duties: with several instances sharing a store, a
// Set is started when this instance is elected and stopped when it is demoted.
package maintainer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/djlord-it/deploytrigger/internal/clock"
	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Store lists the applications to maintain.
type Store interface {
	ListAll(ctx context.Context) ([]domain.Application, error)
}

// Engine is the part of the trigger engine maintainers drive.
type Engine interface {
	OnPeriodicSweep(ctx context.Context, id domain.ApplicationID, deadTimeout time.Duration) error
	OnDelayedResume(ctx context.Context) error
}

// Schedule yields the next instant a cycle is due.
type Schedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink defines the interface for recording maintainer metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	MaintainerCycleCompleted(maintainer string, duration time.Duration, err error)
	MaintainerApplicationFailed(maintainer string)
}

// Maintainer is one periodic duty.
type Maintainer interface {
	Name() string
	RunCycle(ctx context.Context) error
}

// Runner runs a maintainer on its schedule.
type Runner struct {
	maintainer Maintainer
	schedule   Schedule
	clock      clock.Clock
	logger     *slog.Logger
	metrics    MetricsSink // optional, nil = disabled
}

// NewRunner creates a Runner for m.
func NewRunner(m Maintainer, schedule Schedule, c clock.Clock, logger *slog.Logger) *Runner {
	return &Runner{
		maintainer: m,
		schedule:   schedule,
		clock:      c,
		logger:     logger.With("component", "maintainer", "maintainer", m.Name()),
	}
}

// WithMetrics attaches a metrics sink to the runner.
func (r *Runner) WithMetrics(sink MetricsSink) *Runner {
	r.metrics = sink
	return r
}

// Run runs cycles until ctx is cancelled. A failed cycle is logged and the
// next one runs on schedule.
func (r *Runner) Run(ctx context.Context) {
	r.logger.Info("started")
	for {
		now := r.clock.Now()
		next := r.schedule.Next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("stopped")
			return
		case <-timer.C:
		}

		r.runCycle(ctx)
	}
}

func (r *Runner) runCycle(ctx context.Context) {
	start := time.Now()
	err := r.maintainer.RunCycle(ctx)
	duration := time.Since(start)

	if r.metrics != nil {
		r.metrics.MaintainerCycleCompleted(r.maintainer.Name(), duration, err)
	}
	if err != nil && ctx.Err() == nil {
		r.logger.Error("cycle failed", "error", err, "duration", duration)
		return
	}
	r.logger.Debug("cycle complete", "duration", duration)
}

// Set starts and stops a group of runners together.
type Set struct {
	runners []*Runner

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewSet groups runners.
func NewSet(runners ...*Runner) *Set {
	return &Set{runners: runners}
}

// Start launches every runner. It is a no-op while the set is running.
func (s *Set) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	stopped := make(chan struct{})
	var wg sync.WaitGroup
	for _, r := range s.runners {
		wg.Add(1)
		go func(r *Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(r)
	}
	go func() {
		wg.Wait()
		close(stopped)
	}()

	s.cancel = cancel
	s.stopped = stopped
}

// Stop cancels every runner and blocks until they have returned.
// It is idempotent.
func (s *Set) Stop() {
	s.mu.Lock()
	cancel, stopped := s.cancel, s.stopped
	s.cancel, s.stopped = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}
