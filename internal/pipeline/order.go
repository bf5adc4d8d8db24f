// Package pipeline derives the order of deployment jobs from a deployment
// specification.
//
// A pipeline always starts with the component build, followed by the
// implicit system test and staging test steps, followed by the production
// steps of the deployment spec. A production step may deploy to several
// regions in parallel; delay steps pause the pipeline between two steps.
package pipeline

import (
	"log/slog"
	"time"

	"github.com/djlord-it/deploytrigger/internal/clock"
	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Order answers questions about the job order of an application.
type Order struct {
	system domain.System
	clock  clock.Clock
	logger *slog.Logger
}

// New returns an Order resolving zones in the given system.
func New(system domain.System, c clock.Clock, logger *slog.Logger) *Order {
	return &Order{
		system: system,
		clock:  c,
		logger: logger.With("component", "pipeline"),
	}
}

// step is a deployment step resolved to jobs, with the delay which follows it.
type step struct {
	jobs       []domain.JobType
	delayAfter time.Duration
}

func (o *Order) steps(spec domain.DeploymentSpec) []step {
	steps := []step{
		{jobs: []domain.JobType{domain.JobSystemTest}},
		{jobs: []domain.JobType{domain.JobStagingTest}},
	}
	for _, s := range spec.Steps {
		if s.IsDelay() {
			steps[len(steps)-1].delayAfter += s.Delay
			continue
		}
		if s.Environment != domain.EnvironmentProd {
			// test and staging are implicit
			continue
		}
		var jobs []domain.JobType
		for _, region := range s.Regions {
			jt, ok := domain.JobTypeForZone(o.system, domain.Zone{Environment: domain.EnvironmentProd, Region: region})
			if !ok {
				o.logger.Warn("no job deploys to declared zone", "region", region, "system", o.system)
				continue
			}
			jobs = append(jobs, jt)
		}
		if len(jobs) > 0 {
			steps = append(steps, step{jobs: jobs})
		}
	}
	return steps
}

func indexOf(steps []step, job domain.JobType) int {
	for i, s := range steps {
		for _, jt := range s.jobs {
			if jt == job {
				return i
			}
		}
	}
	return -1
}

// IsFirst reports whether job is the first job of every pipeline.
func (o *Order) IsFirst(job domain.JobType) bool {
	return job == domain.JobComponent
}

// IsLast reports whether job belongs to the last step of the application's pipeline.
func (o *Order) IsLast(job domain.JobType, app domain.Application) bool {
	steps := o.steps(app.DeploymentSpec)
	i := indexOf(steps, job)
	return i >= 0 && i == len(steps)-1
}

// OrderedJobs returns the jobs of the deployment spec in pipeline order,
// excluding the component build.
func (o *Order) OrderedJobs(spec domain.DeploymentSpec) []domain.JobType {
	var jobs []domain.JobType
	for _, s := range o.steps(spec) {
		jobs = append(jobs, s.jobs...)
	}
	return jobs
}

// ProductionJobs returns the production jobs of the deployment spec in pipeline order.
func (o *Order) ProductionJobs(spec domain.DeploymentSpec) []domain.JobType {
	var jobs []domain.JobType
	for _, jt := range o.OrderedJobs(spec) {
		if jt.IsProduction() {
			jobs = append(jobs, jt)
		}
	}
	return jobs
}

// NextAfter returns the jobs to run once job has succeeded. It is empty while
// other jobs of the same step have not yet succeeded for the active change,
// while a delay following the step has not yet passed, and after the last step.
func (o *Order) NextAfter(job domain.JobType, app domain.Application) []domain.JobType {
	// The specification may not be known before the first system test,
	// so the component build is always followed by it.
	if job == domain.JobComponent {
		return []domain.JobType{domain.JobSystemTest}
	}

	steps := o.steps(app.DeploymentSpec)
	i := indexOf(steps, job)
	if i < 0 || i == len(steps)-1 {
		return nil
	}

	current := steps[i]
	for _, jt := range current.jobs {
		if !app.DeploymentJobs.IsSuccessful(app.Deploying, jt) {
			return nil
		}
	}

	if current.delayAfter > 0 && o.postpone(job, current.delayAfter, app) {
		return nil
	}

	next := make([]domain.JobType, len(steps[i+1].jobs))
	copy(next, steps[i+1].jobs)
	return next
}

func (o *Order) postpone(job domain.JobType, delay time.Duration, app domain.Application) bool {
	status, ok := app.DeploymentJobs.JobStatus(job)
	if !ok || status.LastSuccess == nil {
		return false
	}
	resumeAt := status.LastSuccess.At.Add(delay)
	if o.clock.Now().Before(resumeAt) {
		o.logger.Debug("postponing deployment", "application", app.ID, "after", job, "delay", delay, "resume_at", resumeAt)
		return true
	}
	return false
}
