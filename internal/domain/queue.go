package domain

// QueuedJob is a job waiting in the build system's queue.
type QueuedJob struct {
	ApplicationID ApplicationID `json:"application_id"`
	JobType       JobType       `json:"job_type"`
}

func (q QueuedJob) String() string {
	return string(q.ApplicationID) + "/" + string(q.JobType)
}
