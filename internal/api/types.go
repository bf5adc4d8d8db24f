package api

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

// JobReportRequest is a job completion as posted by the build system.
type JobReportRequest struct {
	ApplicationID  string `json:"application_id"`
	JobType        string `json:"job_type"`
	BuildNumber    int64  `json:"build_number"`
	Success        bool   `json:"success"`
	Error          string `json:"error,omitempty"` // "unknown" or "out-of-capacity"
	Revision       string `json:"revision,omitempty"`
	SelfTriggering bool   `json:"self_triggering,omitempty"`
}

func (r JobReportRequest) toDomain() domain.JobReport {
	report := domain.JobReport{
		ApplicationID:  domain.ApplicationID(r.ApplicationID),
		JobType:        domain.JobType(r.JobType),
		BuildNumber:    r.BuildNumber,
		Success:        r.Success,
		Revision:       r.Revision,
		SelfTriggering: r.SelfTriggering,
	}
	if r.Error != "" {
		e := domain.JobError(r.Error)
		report.Error = &e
	}
	return report
}

type StepRequest struct {
	Environment string   `json:"environment,omitempty"`
	Regions     []string `json:"regions,omitempty"`
	Delay       string   `json:"delay,omitempty"` // Go duration, e.g. "30m"
}

type CreateApplicationRequest struct {
	ID             string `json:"id"`
	DeploymentSpec struct {
		Steps []StepRequest `json:"steps"`
	} `json:"deployment_spec"`
}

// ChangeRequest asks for a rollout. Kind is "application" or "version".
// An application change without an id gets a fresh one.
type ChangeRequest struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Revision string `json:"revision,omitempty"`
	Version  string `json:"version,omitempty"`
}

type ChangeResponse struct {
	Kind     string `json:"kind"`
	ID       string `json:"id,omitempty"`
	Revision string `json:"revision,omitempty"`
	Version  string `json:"version,omitempty"`
}

type JobRunResponse struct {
	BuildNumber int64          `json:"build_number"`
	Change      ChangeResponse `json:"change"`
	At          string         `json:"at"`
}

type JobStatusResponse struct {
	JobType       string          `json:"job_type"`
	Error         string          `json:"error,omitempty"`
	LastTriggered *JobRunResponse `json:"last_triggered,omitempty"`
	LastCompleted *JobRunResponse `json:"last_completed,omitempty"`
	FirstFailing  *JobRunResponse `json:"first_failing,omitempty"`
	LastSuccess   *JobRunResponse `json:"last_success,omitempty"`
}

type StepResponse struct {
	Environment string   `json:"environment,omitempty"`
	Regions     []string `json:"regions,omitempty"`
	Delay       string   `json:"delay,omitempty"`
}

type ApplicationResponse struct {
	ID                string              `json:"id"`
	Steps             []StepResponse      `json:"steps"`
	Deploying         ChangeResponse      `json:"deploying"`
	OutstandingChange bool                `json:"outstanding_change"`
	SelfTriggering    bool                `json:"self_triggering"`
	Failing           bool                `json:"failing"`
	FailingSince      string              `json:"failing_since,omitempty"`
	Jobs              []JobStatusResponse `json:"jobs"`
}

type ListApplicationsResponse struct {
	Applications []ApplicationResponse `json:"applications"`
}

type ApplicationQueueResponse struct {
	ApplicationID string   `json:"application_id"`
	Jobs          []string `json:"jobs"`
}

type QueuedJobResponse struct {
	ApplicationID string `json:"application_id"`
	JobType       string `json:"job_type"`
}

type QueuedJobsResponse struct {
	Jobs []QueuedJobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func changeResponse(c domain.Change) ChangeResponse {
	switch c := c.(type) {
	case domain.ApplicationChange:
		resp := ChangeResponse{Kind: "application", Revision: c.Revision}
		if c.ID != uuid.Nil {
			resp.ID = c.ID.String()
		}
		return resp
	case domain.VersionChange:
		return ChangeResponse{Kind: "version", Version: c.Version}
	default:
		return ChangeResponse{Kind: "none"}
	}
}

func jobRunResponse(r *domain.JobRun) *JobRunResponse {
	if r == nil {
		return nil
	}
	return &JobRunResponse{BuildNumber: r.BuildNumber, Change: changeResponse(r.Change), At: formatTime(r.At)}
}

func applicationResponse(app domain.Application) ApplicationResponse {
	resp := ApplicationResponse{
		ID:                string(app.ID),
		Steps:             make([]StepResponse, len(app.DeploymentSpec.Steps)),
		Deploying:         changeResponse(app.Deploying),
		OutstandingChange: app.OutstandingChange,
		SelfTriggering:    app.DeploymentJobs.SelfTriggering,
		Failing:           app.DeploymentJobs.HasFailures(),
		Jobs:              make([]JobStatusResponse, 0, len(app.DeploymentJobs.Status)),
	}
	if since, ok := app.DeploymentJobs.FailingSince(); ok {
		resp.FailingSince = formatTime(since)
	}

	for i, s := range app.DeploymentSpec.Steps {
		step := StepResponse{Environment: string(s.Environment)}
		for _, r := range s.Regions {
			step.Regions = append(step.Regions, string(r))
		}
		if s.Delay > 0 {
			step.Delay = s.Delay.String()
		}
		resp.Steps[i] = step
	}

	for _, status := range app.DeploymentJobs.Status {
		js := JobStatusResponse{
			JobType:       string(status.Type),
			LastTriggered: jobRunResponse(status.LastTriggered),
			LastCompleted: jobRunResponse(status.LastCompleted),
			FirstFailing:  jobRunResponse(status.FirstFailing),
			LastSuccess:   jobRunResponse(status.LastSuccess),
		}
		if status.Error != nil {
			js.Error = string(*status.Error)
		}
		resp.Jobs = append(resp.Jobs, js)
	}
	sort.Slice(resp.Jobs, func(i, j int) bool { return resp.Jobs[i].JobType < resp.Jobs[j].JobType })

	return resp
}
