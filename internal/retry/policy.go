// Package retry decides when failing and stuck deployment jobs are retried.
//
// All decisions are pure functions of a job's history and the current instant;
// they never fail. Failing jobs are retried at most every tenth of the time
// they have been failing, so retries thin out as an outage lengthens, and at
// least once per Ceiling. A job which just started failing gets one immediate
// retry, and test jobs failing for lack of capacity are retried eagerly for a
// short while.
package retry

import (
	"time"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Policy holds the retry timing constants.
type Policy struct {
	// Ceiling is the longest a failing job waits between retries.
	Ceiling time.Duration

	// StartedFailingGrace is how recently an application must have started
	// failing for a completion to be retried immediately.
	StartedFailingGrace time.Duration

	// CapacityWindow is how long after a job first failed an out-of-capacity
	// error still causes an immediate retry.
	CapacityWindow time.Duration
}

// DefaultPolicy returns the reference timing: 4 hours, 10 seconds and 15 minutes.
func DefaultPolicy() Policy {
	return Policy{
		Ceiling:             4 * time.Hour,
		StartedFailingGrace: 10 * time.Second,
		CapacityWindow:      15 * time.Minute,
	}
}

// RetryNow decides whether the periodic sweep should retry the job now.
func (p Policy) RetryNow(job domain.JobStatus, now time.Time) bool {
	if job.IsSuccess() {
		return false
	}

	// never heard back
	if job.LastCompleted == nil {
		return true
	}
	lastCompleted := job.LastCompleted.At

	if lastCompleted.Before(now.Add(-p.Ceiling)) {
		return true
	}

	failingSince := lastCompleted
	if job.FirstFailing != nil {
		failingSince = job.FirstFailing.At
	}
	tenthOfFailTime := time.Duration((now.UnixMilli()-failingSince.UnixMilli())/10) * time.Millisecond
	return lastCompleted.Before(now.Add(-tenthOfFailTime))
}

// JustStartedFailing reports whether the application started failing within the grace period.
func (p Policy) JustStartedFailing(jobs domain.DeploymentJobs, now time.Time) bool {
	since, ok := jobs.FailingSince()
	if !ok {
		return false
	}
	return since.After(now.Add(-p.StartedFailingGrace))
}

// CapacityRetryEligible reports whether the job failed for lack of capacity
// recently enough to be retried immediately.
func (p Policy) CapacityRetryEligible(job domain.JobStatus, now time.Time) bool {
	if !job.HasError(domain.JobErrorOutOfCapacity) || job.FirstFailing == nil {
		return false
	}
	return job.FirstFailing.At.After(now.Add(-p.CapacityWindow))
}

// DeadJob returns the running job which was triggered longest ago, if that
// was more than timeout before now.
func DeadJob(jobs domain.DeploymentJobs, now time.Time, timeout time.Duration) (domain.JobStatus, bool) {
	running := jobs.InProgressByAge()
	if len(running) == 0 {
		return domain.JobStatus{}, false
	}
	oldest := running[0]
	if !oldest.LastTriggered.At.Before(now.Add(-timeout)) {
		return domain.JobStatus{}, false
	}
	return oldest, true
}
