package domain

import "fmt"

// JobReport tells the scheduler that a job completed. It is folded into the
// application's DeploymentJobs and never stored by itself.
type JobReport struct {
	ApplicationID ApplicationID `json:"application_id"`
	JobType       JobType       `json:"job_type"`
	BuildNumber   int64         `json:"build_number"`
	Success       bool          `json:"success"`
	Error         *JobError     `json:"error,omitempty"`

	// Revision is the source revision built, reported by the component job.
	Revision string `json:"revision,omitempty"`

	// SelfTriggering is set by applications which trigger their own jobs.
	SelfTriggering bool `json:"self_triggering,omitempty"`
}

// jobError returns the error to record for this report: nil on success,
// JobErrorUnknown for an unclassified failure.
func (r JobReport) jobError() *JobError {
	if r.Success {
		return nil
	}
	if r.Error != nil {
		e := *r.Error
		return &e
	}
	e := JobErrorUnknown
	return &e
}

func (r JobReport) String() string {
	outcome := "success"
	if !r.Success {
		outcome = "failure"
		if e := r.jobError(); e != nil {
			outcome += " (" + string(*e) + ")"
		}
	}
	return fmt.Sprintf("%s of %s build %d: %s", r.JobType, r.ApplicationID, r.BuildNumber, outcome)
}
