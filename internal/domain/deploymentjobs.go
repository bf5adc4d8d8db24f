package domain

import (
	"sort"
	"time"
)

// DeploymentJobs holds the status of every job of an application's pipeline.
// It is a value: the with* methods return modified copies and never mutate
// the receiver's map.
type DeploymentJobs struct {
	Status map[JobType]JobStatus `json:"status"`

	// SelfTriggering is set when the application triggers its own jobs and
	// the scheduler must not interfere.
	SelfTriggering bool `json:"self_triggering"`
}

// JobStatus returns the status of jobType, if the job has ever been triggered or completed.
func (d DeploymentJobs) JobStatus(jobType JobType) (JobStatus, bool) {
	s, ok := d.Status[jobType]
	return s, ok
}

// HasFailures reports whether any job's last completion failed.
func (d DeploymentJobs) HasFailures() bool {
	for _, s := range d.Status {
		if s.IsFailing() {
			return true
		}
	}
	return false
}

// InProgress reports whether any job is currently running.
func (d DeploymentJobs) InProgress() bool {
	for _, s := range d.Status {
		if s.InProgress() {
			return true
		}
	}
	return false
}

// FailingSince returns the earliest first-failing instant among the failing jobs.
func (d DeploymentJobs) FailingSince() (time.Time, bool) {
	var since time.Time
	found := false
	for _, s := range d.Status {
		if !s.IsFailing() || s.FirstFailing == nil {
			continue
		}
		if !found || s.FirstFailing.At.Before(since) {
			since = s.FirstFailing.At
			found = true
		}
	}
	return since, found
}

// IsSuccessful reports whether jobType has succeeded for change.
func (d DeploymentJobs) IsSuccessful(change Change, jobType JobType) bool {
	s, ok := d.Status[jobType]
	return ok && s.LastSuccessFor(change)
}

// IsDeployableTo reports whether change has passed the tests environment requires:
// staging needs a successful system test, production a successful staging test.
func (d DeploymentJobs) IsDeployableTo(environment Environment, change Change) bool {
	if !IsPresent(change) {
		return true
	}
	switch environment {
	case EnvironmentStaging:
		return d.IsSuccessful(change, JobSystemTest)
	case EnvironmentProd:
		return d.IsSuccessful(change, JobStagingTest)
	default:
		return true
	}
}

// IsDeployed reports whether change has succeeded in every given production job.
func (d DeploymentJobs) IsDeployed(change Change, productionJobs []JobType) bool {
	if !IsPresent(change) {
		return false
	}
	for _, jt := range productionJobs {
		if !d.IsSuccessful(change, jt) {
			return false
		}
	}
	return true
}

// InProgressByAge returns the running jobs, oldest triggering first and then
// by job type.
func (d DeploymentJobs) InProgressByAge() []JobStatus {
	var running []JobStatus
	for _, s := range d.Status {
		if s.InProgress() {
			running = append(running, s)
		}
	}
	sort.Slice(running, func(i, j int) bool {
		a, b := running[i].LastTriggered.At, running[j].LastTriggered.At
		if a.Equal(b) {
			return running[i].Type < running[j].Type
		}
		return a.Before(b)
	})
	return running
}

// LastSuccessful returns the job which succeeded most recently. Ties go to
// the lowest job type.
func (d DeploymentJobs) LastSuccessful() (JobStatus, bool) {
	var latest JobStatus
	found := false
	for _, s := range d.Status {
		if s.LastSuccess == nil {
			continue
		}
		if !found || s.LastSuccess.At.After(latest.LastSuccess.At) ||
			(s.LastSuccess.At.Equal(latest.LastSuccess.At) && s.Type < latest.Type) {
			latest = s
			found = true
		}
	}
	return latest, found
}

func (d DeploymentJobs) withStatus(s JobStatus) DeploymentJobs {
	status := make(map[JobType]JobStatus, len(d.Status)+1)
	for k, v := range d.Status {
		status[k] = v
	}
	status[s.Type] = s
	d.Status = status
	return d
}

func (d DeploymentJobs) statusOrInitial(jobType JobType) JobStatus {
	if s, ok := d.Status[jobType]; ok {
		return s
	}
	return InitialJobStatus(jobType)
}

func (d DeploymentJobs) withTriggering(jobType JobType, change Change, at time.Time) DeploymentJobs {
	return d.withStatus(d.statusOrInitial(jobType).withTriggering(change, at))
}

func (d DeploymentJobs) withCompletion(report JobReport, at time.Time) DeploymentJobs {
	d = d.withStatus(d.statusOrInitial(report.JobType).withCompletion(report.BuildNumber, report.jobError(), at))
	d.SelfTriggering = report.SelfTriggering
	return d
}
