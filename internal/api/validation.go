package api

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

const maxApplicationIDLength = 256

var applicationIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]*(\.[a-zA-Z0-9][a-zA-Z0-9_-]*)*$`)

func validateApplicationID(id string) error {
	if id == "" {
		return fmt.Errorf("application_id is required")
	}
	if len(id) > maxApplicationIDLength {
		return fmt.Errorf("application_id longer than %d characters", maxApplicationIDLength)
	}
	if !applicationIDPattern.MatchString(id) {
		return fmt.Errorf("application_id %q is malformed", id)
	}
	return nil
}

func validateJobReport(req JobReportRequest) error {
	if err := validateApplicationID(req.ApplicationID); err != nil {
		return err
	}

	if req.JobType == "" {
		return fmt.Errorf("job_type is required")
	}
	if !domain.JobType(req.JobType).Valid() {
		return fmt.Errorf("unknown job_type %q", req.JobType)
	}

	if req.BuildNumber < 0 {
		return fmt.Errorf("build_number must not be negative")
	}

	switch domain.JobError(req.Error) {
	case "", domain.JobErrorUnknown, domain.JobErrorOutOfCapacity:
	default:
		return fmt.Errorf("unknown error %q", req.Error)
	}
	if req.Success && req.Error != "" {
		return fmt.Errorf("a successful report cannot carry an error")
	}

	return nil
}

func validateCreateApplication(req CreateApplicationRequest, system domain.System) (domain.DeploymentSpec, error) {
	if err := validateApplicationID(req.ID); err != nil {
		return domain.DeploymentSpec{}, fmt.Errorf("invalid id: %w", err)
	}

	var spec domain.DeploymentSpec
	for i, s := range req.DeploymentSpec.Steps {
		step, err := validateStep(s, system)
		if err != nil {
			return domain.DeploymentSpec{}, fmt.Errorf("step %d: %w", i, err)
		}
		spec.Steps = append(spec.Steps, step)
	}
	return spec, nil
}

func validateStep(req StepRequest, system domain.System) (domain.Step, error) {
	if req.Delay != "" {
		if req.Environment != "" || len(req.Regions) > 0 {
			return domain.Step{}, fmt.Errorf("a delay step cannot name an environment or regions")
		}
		d, err := time.ParseDuration(req.Delay)
		if err != nil {
			return domain.Step{}, fmt.Errorf("invalid delay: %w", err)
		}
		if d <= 0 {
			return domain.Step{}, fmt.Errorf("delay must be positive")
		}
		return domain.Step{Delay: d}, nil
	}

	env := domain.Environment(req.Environment)
	switch env {
	case domain.EnvironmentTest, domain.EnvironmentStaging:
		if len(req.Regions) > 0 {
			return domain.Step{}, fmt.Errorf("%s takes no regions", env)
		}
		return domain.Step{Environment: env}, nil
	case domain.EnvironmentProd:
	case "":
		return domain.Step{}, fmt.Errorf("environment or delay is required")
	default:
		return domain.Step{}, fmt.Errorf("unknown environment %q", req.Environment)
	}

	if len(req.Regions) == 0 {
		return domain.Step{}, fmt.Errorf("a prod step needs at least one region")
	}
	step := domain.Step{Environment: env}
	for _, r := range req.Regions {
		zone := domain.Zone{Environment: env, Region: domain.Region(r)}
		if _, ok := domain.JobTypeForZone(system, zone); !ok {
			return domain.Step{}, fmt.Errorf("zone %s is not in system %s", zone, system)
		}
		step.Regions = append(step.Regions, domain.Region(r))
	}
	return step, nil
}

func parseChange(req ChangeRequest) (domain.Change, error) {
	switch req.Kind {
	case "application":
		if req.Version != "" {
			return nil, fmt.Errorf("an application change takes no version")
		}
		if req.ID == "" {
			return domain.NewApplicationChange(req.Revision), nil
		}
		id, err := uuid.Parse(req.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid id: %w", err)
		}
		return domain.ApplicationChange{ID: id, Revision: req.Revision}, nil
	case "version":
		if req.Version == "" {
			return nil, fmt.Errorf("version is required")
		}
		if req.ID != "" || req.Revision != "" {
			return nil, fmt.Errorf("a version change takes no id or revision")
		}
		return domain.VersionChange{Version: req.Version}, nil
	case "":
		return nil, fmt.Errorf("kind is required")
	default:
		return nil, fmt.Errorf("unknown kind %q", req.Kind)
	}
}
