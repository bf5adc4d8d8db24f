// Package trigger decides when the jobs of an application's deployment
// pipeline run.
//
// The Engine reacts to job completions, periodic sweeps, delayed-resume ticks
// and operator requests. Every entry point holds the application's lock for
// its whole body: it reads the application fresh, computes the next state,
// enqueues jobs and stores the result, so no two decisions for the same
// application interleave. Different applications proceed independently.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/djlord-it/deploytrigger/internal/clock"
	"github.com/djlord-it/deploytrigger/internal/domain"
	"github.com/djlord-it/deploytrigger/internal/retry"
)

// ApplicationStore holds one record per application.
// Store MUST reject a lock which is no longer held with domain.ErrLockNotHeld.
type ApplicationStore interface {
	Lock(ctx context.Context, id domain.ApplicationID) (domain.Lock, error)
	Require(ctx context.Context, id domain.ApplicationID) (domain.Application, error)
	Store(ctx context.Context, app domain.Application, lock domain.Lock) error
	ListAll(ctx context.Context) ([]domain.Application, error)
}

// JobQueue is the build system's queue of jobs to run.
type JobQueue interface {
	// Enqueue adds a job to the queue, at its head if first is set.
	Enqueue(ctx context.Context, id domain.ApplicationID, jobType domain.JobType, first bool) error
	// RemoveAll drops every queued job of the application.
	RemoveAll(ctx context.Context, id domain.ApplicationID) error
}

// Oracle knows the job order of a deployment pipeline.
type Oracle interface {
	IsFirst(job domain.JobType) bool
	IsLast(job domain.JobType, app domain.Application) bool
	NextAfter(job domain.JobType, app domain.Application) []domain.JobType
	OrderedJobs(spec domain.DeploymentSpec) []domain.JobType
	ProductionJobs(spec domain.DeploymentSpec) []domain.JobType
}

// MetricsSink defines the interface for recording engine metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	JobCompleted(jobType string, success bool)
	JobTriggered(jobType string, cause string)
	TriggerSuppressed(reason string)
	ChangeStarted()
	ChangePostponed()
	ChangeDeployed()
	ChangeCancelled()
	ChangeRejected()
	DeadJobDetected(jobType string)
	OperationCompleted(operation string, duration time.Duration, err error)
}

// Causes attached to triggered jobs.
const (
	CauseNextStep           = "next_step"
	CauseOutOfCapacity      = "out_of_capacity"
	CauseJustStartedFailing = "just_started_failing"
	CauseFailingJob         = "failing_job"
	CauseDeadJob            = "dead_job"
	CauseDelayedResume      = "delayed_resume"
	CauseChangeRequested    = "change_requested"
)

// Reasons a trigger is suppressed.
const (
	SuppressNoChange       = "no_change"
	SuppressZoneExcluded   = "zone_excluded"
	SuppressUntested       = "untested"
	SuppressSelfTriggering = "self_triggering"
)

// Config holds engine configuration.
type Config struct {
	// System is the deployment system whose zones production jobs deploy to.
	System domain.System

	// Policy holds the retry timing.
	Policy retry.Policy
}

// DefaultConfig returns the configuration for the main system.
func DefaultConfig() Config {
	return Config{
		System: domain.SystemMain,
		Policy: retry.DefaultPolicy(),
	}
}

// Engine is the deployment trigger.
type Engine struct {
	config    Config
	store     ApplicationStore
	queue     JobQueue
	order     Oracle
	clock     clock.Clock
	logger    *slog.Logger
	metrics   MetricsSink // optional, nil = disabled
	newChange func(revision string) domain.Change
}

// New creates an Engine.
func New(config Config, store ApplicationStore, queue JobQueue, order Oracle, c clock.Clock, logger *slog.Logger) *Engine {
	return &Engine{
		config: config,
		store:  store,
		queue:  queue,
		order:  order,
		clock:  c,
		logger: logger.With("component", "trigger"),
		newChange: func(revision string) domain.Change {
			return domain.NewApplicationChange(revision)
		},
	}
}

// WithMetrics attaches a metrics sink to the engine.
func (e *Engine) WithMetrics(sink MetricsSink) *Engine {
	e.metrics = sink
	return e
}

// WithChangeFactory replaces how the change installed by a component build is created.
func (e *Engine) WithChangeFactory(fn func(revision string) domain.Change) *Engine {
	e.newChange = fn
	return e
}

// JobQueue returns the queue jobs are triggered on, for inspection.
func (e *Engine) JobQueue() JobQueue {
	return e.queue
}

// OnJobCompletion folds a job report into the application and triggers
// whatever follows from it.
func (e *Engine) OnJobCompletion(ctx context.Context, report domain.JobReport) error {
	if !report.JobType.Valid() {
		return fmt.Errorf("%w: %q", domain.ErrUnknownJobType, report.JobType)
	}
	if e.metrics != nil {
		e.metrics.JobCompleted(string(report.JobType), report.Success)
	}

	return e.observe("job_completion", func() error {
		return e.locked(ctx, report.ApplicationID, func(app domain.Application) (domain.Application, bool, error) {
			return e.completeJob(ctx, app, report)
		})
	})
}

func (e *Engine) completeJob(ctx context.Context, app domain.Application, report domain.JobReport) (domain.Application, bool, error) {
	now := e.clock.Now()
	logger := e.logger.With("application", app.ID, "job", report.JobType)
	app = app.WithJobCompletion(report, now)

	if e.order.IsFirst(report.JobType) && report.Success {
		if app.IsDeploying() && !app.DeploymentJobs.HasFailures() {
			logger.Info("new change postponed, another change is in progress", "deploying", app.Deploying)
			app = app.WithOutstandingChange(true)
			if e.metrics != nil {
				e.metrics.ChangePostponed()
			}
			return app, true, nil
		}
		change := e.newChange(report.Revision)
		logger.Info("starting change", "change", change)
		app = app.WithDeploying(change).WithOutstandingChange(false)
		if e.metrics != nil {
			e.metrics.ChangeStarted()
		}
	} else if report.Success && e.order.IsLast(report.JobType, app) &&
		app.DeploymentJobs.IsDeployed(app.Deploying, e.order.ProductionJobs(app.DeploymentSpec)) {
		logger.Info("change deployed", "change", app.Deploying)
		app = app.WithDeploying(domain.NoChange{})
		if e.metrics != nil {
			e.metrics.ChangeDeployed()
		}
	}

	status, _ := app.DeploymentJobs.JobStatus(report.JobType)

	var err error
	switch {
	case report.Success:
		app, err = e.triggerAll(ctx, app, e.order.NextAfter(report.JobType, app), CauseNextStep)
	case report.JobType.IsTest() && e.config.Policy.CapacityRetryEligible(status, now):
		app, err = e.trigger(ctx, app, report.JobType, true, CauseOutOfCapacity)
	case e.config.Policy.JustStartedFailing(app.DeploymentJobs, now):
		app, err = e.trigger(ctx, app, report.JobType, false, CauseJustStartedFailing)
	}
	return app, true, err
}

// OnPeriodicSweep retries the first failing job of the active change, when
// the retry policy allows it, and re-triggers the oldest running job if it
// has not reported back within deadTimeout.
func (e *Engine) OnPeriodicSweep(ctx context.Context, id domain.ApplicationID, deadTimeout time.Duration) error {
	return e.observe("periodic_sweep", func() error {
		return e.locked(ctx, id, func(app domain.Application) (domain.Application, bool, error) {
			return e.sweep(ctx, app, deadTimeout)
		})
	})
}

func (e *Engine) sweep(ctx context.Context, app domain.Application, deadTimeout time.Duration) (domain.Application, bool, error) {
	if !app.IsDeploying() {
		return app, false, nil
	}
	now := e.clock.Now()
	changed := false
	var errs []error

	// Only the first failing job is considered per sweep.
	for _, jt := range e.order.OrderedJobs(app.DeploymentSpec) {
		status, ok := app.DeploymentJobs.JobStatus(jt)
		if !ok || !failingFor(status, app.Deploying) {
			continue
		}
		if e.config.Policy.RetryNow(status, now) {
			var err error
			app, err = e.trigger(ctx, app, jt, false, CauseFailingJob)
			errs = append(errs, err)
			changed = true
		}
		break
	}

	if dead, ok := retry.DeadJob(app.DeploymentJobs, now, deadTimeout); ok {
		e.logger.Warn("job has not reported back, retrying",
			"application", app.ID, "job", dead.Type, "triggered_at", dead.LastTriggered.At)
		if e.metrics != nil {
			e.metrics.DeadJobDetected(string(dead.Type))
		}
		var err error
		app, err = e.trigger(ctx, app, dead.Type, false, CauseDeadJob)
		errs = append(errs, err)
		changed = true
	}
	return app, changed, errors.Join(errs...)
}

// failingFor reports whether the job's last completion ran for change and failed.
func failingFor(status domain.JobStatus, change domain.Change) bool {
	return !status.IsSuccess() && status.LastCompletedFor(change)
}

// OnDelayedResume resumes every healthy, idle rollout whose pipeline has a
// delay step, by triggering whatever follows the job which succeeded last.
// Whether a delay has passed is decided by the Oracle.
func (e *Engine) OnDelayedResume(ctx context.Context) error {
	return e.observe("delayed_resume", func() error {
		apps, err := e.store.ListAll(ctx)
		if err != nil {
			return fmt.Errorf("list applications: %w", err)
		}

		var errs []error
		for _, candidate := range apps {
			if ctx.Err() != nil {
				errs = append(errs, ctx.Err())
				break
			}
			if !resumable(candidate) {
				continue
			}
			err := e.locked(ctx, candidate.ID, func(app domain.Application) (domain.Application, bool, error) {
				// the listed copy may be stale
				if !resumable(app) {
					return app, false, nil
				}
				last, ok := app.DeploymentJobs.LastSuccessful()
				if !ok {
					return app, false, nil
				}
				next := e.order.NextAfter(last.Type, app)
				if len(next) == 0 {
					return app, false, nil
				}
				app, err := e.triggerAll(ctx, app, next, CauseDelayedResume)
				return app, true, err
			})
			if err != nil {
				errs = append(errs, fmt.Errorf("resume %s: %w", candidate.ID, err))
			}
		}
		return errors.Join(errs...)
	})
}

func resumable(app domain.Application) bool {
	return app.IsDeploying() &&
		!app.DeploymentJobs.HasFailures() &&
		!app.DeploymentJobs.InProgress() &&
		app.DeploymentSpec.HasDelay()
}

// RequestChange starts rolling out change. It returns domain.ErrChangeInProgress
// when another change is rolling out without failures. Requesting the change
// which is already rolling out is a no-op.
func (e *Engine) RequestChange(ctx context.Context, id domain.ApplicationID, change domain.Change) error {
	if !domain.IsPresent(change) {
		return fmt.Errorf("%w: cannot deploy %s", domain.ErrInvalidChange, domain.NoChange{})
	}
	return e.observe("request_change", func() error {
		return e.locked(ctx, id, func(app domain.Application) (domain.Application, bool, error) {
			if app.IsDeploying() && !app.DeploymentJobs.HasFailures() {
				if domain.SameChange(app.Deploying, change) {
					return app, false, nil
				}
				if e.metrics != nil {
					e.metrics.ChangeRejected()
				}
				return app, false, fmt.Errorf("start %s on %s: %s is rolling out: %w",
					change, app.ID, app.Deploying, domain.ErrChangeInProgress)
			}

			e.logger.Info("change requested", "application", app.ID, "change", change)
			app = app.WithDeploying(change)
			if _, ok := change.(domain.ApplicationChange); ok {
				app = app.WithOutstandingChange(false)
			}
			if e.metrics != nil {
				e.metrics.ChangeStarted()
			}

			jobs := e.order.OrderedJobs(app.DeploymentSpec)
			if len(jobs) == 0 {
				return app, true, nil
			}
			app, err := e.trigger(ctx, app, jobs[0], false, CauseChangeRequested)
			return app, true, err
		})
	})
}

// CancelChange drops the application's queued jobs and its active change.
// Job history is kept.
func (e *Engine) CancelChange(ctx context.Context, id domain.ApplicationID) error {
	return e.observe("cancel_change", func() error {
		return e.locked(ctx, id, func(app domain.Application) (domain.Application, bool, error) {
			if err := e.queue.RemoveAll(ctx, app.ID); err != nil {
				return app, false, fmt.Errorf("remove queued jobs of %s: %w", app.ID, err)
			}
			e.logger.Info("change cancelled", "application", app.ID, "change", app.Deploying)
			if e.metrics != nil {
				e.metrics.ChangeCancelled()
			}
			return app.WithDeploying(domain.NoChange{}), true, nil
		})
	})
}

// triggerAll triggers each job in turn. A failing enqueue does not stop the
// remaining jobs; the returned application records every job which was triggered.
func (e *Engine) triggerAll(ctx context.Context, app domain.Application, jobs []domain.JobType, cause string) (domain.Application, error) {
	var errs []error
	for _, jt := range jobs {
		var err error
		app, err = e.trigger(ctx, app, jt, false, cause)
		errs = append(errs, err)
	}
	return app, errors.Join(errs...)
}

// trigger enqueues jobType unless the application's state forbids it.
// A suppressed trigger is logged and returns the application unchanged.
func (e *Engine) trigger(ctx context.Context, app domain.Application, jobType domain.JobType, first bool, cause string) (domain.Application, error) {
	logger := e.logger.With("application", app.ID, "job", jobType, "cause", cause)

	if !app.IsDeploying() && !e.order.IsFirst(jobType) {
		logger.Warn("not triggering, no change is being deployed")
		e.suppressed(SuppressNoChange)
		return app, nil
	}
	if jobType.IsProduction() {
		zone, ok := jobType.Zone(e.config.System)
		if !ok || !app.DeploymentSpec.Includes(zone.Environment, zone.Region) {
			logger.Info("not triggering, zone is not in the deployment spec", "system", e.config.System)
			e.suppressed(SuppressZoneExcluded)
			return app, nil
		}
	}
	if !app.DeploymentJobs.IsDeployableTo(jobType.Environment(), app.Deploying) {
		logger.Warn("not triggering, change is not tested", "change", app.Deploying)
		e.suppressed(SuppressUntested)
		return app, nil
	}
	if app.DeploymentJobs.SelfTriggering {
		logger.Info("not triggering, application triggers its own jobs")
		e.suppressed(SuppressSelfTriggering)
		return app, nil
	}

	if err := e.queue.Enqueue(ctx, app.ID, jobType, first); err != nil {
		return app, fmt.Errorf("enqueue %s for %s: %w", jobType, app.ID, err)
	}
	logger.Info("triggered job", "change", app.Deploying, "first", first)
	if e.metrics != nil {
		e.metrics.JobTriggered(string(jobType), cause)
	}
	return app.WithJobTriggering(jobType, app.Deploying, e.clock.Now()), nil
}

func (e *Engine) suppressed(reason string) {
	if e.metrics != nil {
		e.metrics.TriggerSuppressed(reason)
	}
}

// locked runs fn on a fresh read of the application while holding its lock,
// and stores the returned application when fn reports a change. The record
// is stored even when fn also returns an error, so jobs which were enqueued
// stay recorded.
func (e *Engine) locked(ctx context.Context, id domain.ApplicationID, fn func(domain.Application) (domain.Application, bool, error)) (err error) {
	lock, err := e.store.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("lock %s: %w", id, err)
	}
	defer func() {
		if rerr := lock.Release(); rerr != nil {
			err = errors.Join(err, fmt.Errorf("release lock %s: %w", id, rerr))
		}
	}()

	app, err := e.store.Require(ctx, id)
	if err != nil {
		return fmt.Errorf("read %s: %w", id, err)
	}

	updated, write, err := fn(app)
	if !write {
		return err
	}
	if serr := e.store.Store(ctx, updated, lock); serr != nil {
		return errors.Join(err, fmt.Errorf("store %s: %w", id, serr))
	}
	return err
}

func (e *Engine) observe(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	if e.metrics != nil {
		e.metrics.OperationCompleted(operation, time.Since(start), err)
	}
	return err
}
