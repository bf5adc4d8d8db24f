package domain

import (
	"encoding/json"
	"time"
)

// ApplicationID identifies an application, conventionally "tenant.application.instance".
type ApplicationID string

// Application is the scheduling state of one application.
//
// Application is treated as an immutable value: every With* method returns an
// updated copy, and callers store the copy under the application's lock.
type Application struct {
	ID             ApplicationID
	DeploymentSpec DeploymentSpec
	DeploymentJobs DeploymentJobs

	// Deploying is the change currently rolling out, NoChange when idle.
	Deploying Change

	// OutstandingChange is set when a new change arrived while another was
	// rolling out; it is picked up once that rollout is done.
	OutstandingChange bool
}

// NewApplication returns an application with no deployment history.
func NewApplication(id ApplicationID, spec DeploymentSpec) Application {
	return Application{
		ID:             id,
		DeploymentSpec: spec,
		DeploymentJobs: DeploymentJobs{Status: map[JobType]JobStatus{}},
		Deploying:      NoChange{},
	}
}

// IsDeploying reports whether a change is active.
func (a Application) IsDeploying() bool {
	return IsPresent(a.Deploying)
}

// WithDeploying returns a copy with change as the active change.
func (a Application) WithDeploying(change Change) Application {
	a.Deploying = normalizeChange(change)
	return a
}

// WithOutstandingChange returns a copy with the outstanding-change flag set to outstanding.
func (a Application) WithOutstandingChange(outstanding bool) Application {
	a.OutstandingChange = outstanding
	return a
}

// WithJobCompletion returns a copy with report folded into its job status.
func (a Application) WithJobCompletion(report JobReport, at time.Time) Application {
	a.DeploymentJobs = a.DeploymentJobs.withCompletion(report, at)
	return a
}

// WithJobTriggering returns a copy recording that jobType was triggered for change at the given instant.
func (a Application) WithJobTriggering(jobType JobType, change Change, at time.Time) Application {
	a.DeploymentJobs = a.DeploymentJobs.withTriggering(jobType, change, at)
	return a
}

// Clone returns a copy sharing no mutable state with a.
func (a Application) Clone() Application {
	status := make(map[JobType]JobStatus, len(a.DeploymentJobs.Status))
	for k, v := range a.DeploymentJobs.Status {
		status[k] = v
	}
	a.DeploymentJobs.Status = status
	steps := make([]Step, len(a.DeploymentSpec.Steps))
	copy(steps, a.DeploymentSpec.Steps)
	a.DeploymentSpec.Steps = steps
	a.Deploying = normalizeChange(a.Deploying)
	return a
}

func (a Application) String() string {
	return string(a.ID)
}

type applicationJSON struct {
	ID                ApplicationID  `json:"id"`
	DeploymentSpec    DeploymentSpec `json:"deployment_spec"`
	DeploymentJobs    DeploymentJobs `json:"deployment_jobs"`
	Deploying         changeJSON     `json:"deploying"`
	OutstandingChange bool           `json:"outstanding_change"`
}

func (a Application) MarshalJSON() ([]byte, error) {
	return json.Marshal(applicationJSON{
		ID:                a.ID,
		DeploymentSpec:    a.DeploymentSpec,
		DeploymentJobs:    a.DeploymentJobs,
		Deploying:         encodeChange(a.Deploying),
		OutstandingChange: a.OutstandingChange,
	})
}

func (a *Application) UnmarshalJSON(data []byte) error {
	var j applicationJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	deploying, err := j.Deploying.decode()
	if err != nil {
		return err
	}
	if j.DeploymentJobs.Status == nil {
		j.DeploymentJobs.Status = map[JobType]JobStatus{}
	}
	*a = Application{
		ID:                j.ID,
		DeploymentSpec:    j.DeploymentSpec,
		DeploymentJobs:    j.DeploymentJobs,
		Deploying:         deploying,
		OutstandingChange: j.OutstandingChange,
	}
	return nil
}
