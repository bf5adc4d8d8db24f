package domain

import (
	"encoding/json"
	"time"
)

// JobError classifies a job failure.
type JobError string

const (
	JobErrorUnknown       JobError = "unknown"
	JobErrorOutOfCapacity JobError = "out-of-capacity"
)

// JobRun is one triggering or completion of a job.
type JobRun struct {
	// BuildNumber is the build system's number for a completion, -1 for a triggering.
	BuildNumber int64
	Change      Change
	At          time.Time
}

type jobRunJSON struct {
	BuildNumber int64      `json:"build_number"`
	Change      changeJSON `json:"change"`
	At          time.Time  `json:"at"`
}

func (r JobRun) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobRunJSON{BuildNumber: r.BuildNumber, Change: encodeChange(r.Change), At: r.At})
}

func (r *JobRun) UnmarshalJSON(data []byte) error {
	var j jobRunJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	change, err := j.Change.decode()
	if err != nil {
		return err
	}
	*r = JobRun{BuildNumber: j.BuildNumber, Change: change, At: j.At}
	return nil
}

// JobStatus is the latest known execution history of one job for one application.
// It is a value: the with* methods return modified copies.
type JobStatus struct {
	Type          JobType   `json:"type"`
	Error         *JobError `json:"error,omitempty"`
	LastTriggered *JobRun   `json:"last_triggered,omitempty"`
	LastCompleted *JobRun   `json:"last_completed,omitempty"`
	FirstFailing  *JobRun   `json:"first_failing,omitempty"`
	LastSuccess   *JobRun   `json:"last_success,omitempty"`
}

// InitialJobStatus returns the status of a job which has never run.
func InitialJobStatus(jobType JobType) JobStatus {
	return JobStatus{Type: jobType}
}

// IsSuccess reports whether the job has completed and its last completion succeeded.
func (s JobStatus) IsSuccess() bool {
	return s.LastCompleted != nil && s.Error == nil
}

// IsFailing reports whether the last completion of the job failed.
func (s JobStatus) IsFailing() bool {
	return s.LastCompleted != nil && s.Error != nil
}

// InProgress reports whether the job was triggered and has not completed since.
func (s JobStatus) InProgress() bool {
	if s.LastTriggered == nil {
		return false
	}
	return s.LastCompleted == nil || s.LastCompleted.At.Before(s.LastTriggered.At)
}

// LastCompletedFor reports whether the last completion ran for change.
func (s JobStatus) LastCompletedFor(change Change) bool {
	return s.LastCompleted != nil && SameChange(s.LastCompleted.Change, change)
}

// LastSuccessFor reports whether the job has succeeded for change.
func (s JobStatus) LastSuccessFor(change Change) bool {
	return s.LastSuccess != nil && SameChange(s.LastSuccess.Change, change)
}

// HasError reports whether the last completion failed with the given error.
func (s JobStatus) HasError(jobError JobError) bool {
	return s.Error != nil && *s.Error == jobError
}

func (s JobStatus) withTriggering(change Change, at time.Time) JobStatus {
	s.LastTriggered = &JobRun{BuildNumber: -1, Change: normalizeChange(change), At: at}
	return s
}

func (s JobStatus) withCompletion(buildNumber int64, jobError *JobError, at time.Time) JobStatus {
	var change Change = NoChange{}
	if s.LastTriggered != nil {
		change = s.LastTriggered.Change
	}
	completion := &JobRun{BuildNumber: buildNumber, Change: change, At: at}

	if jobError != nil {
		if !s.IsFailing() {
			s.FirstFailing = completion
		}
		e := *jobError
		s.Error = &e
	} else {
		s.LastSuccess = completion
		s.FirstFailing = nil
		s.Error = nil
	}
	s.LastCompleted = completion
	return s
}
