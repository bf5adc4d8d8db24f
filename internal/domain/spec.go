package domain

import "time"

// Step is one step of a deployment specification: either a set of regions
// deployed to in parallel, or a delay.
type Step struct {
	Environment Environment   `json:"environment,omitempty"`
	Regions     []Region      `json:"regions,omitempty"`
	Delay       time.Duration `json:"delay,omitempty"`
}

// IsDelay reports whether the step only waits.
func (s Step) IsDelay() bool {
	return s.Delay > 0 && s.Environment == ""
}

// Includes reports whether the step deploys to zone.
func (s Step) Includes(env Environment, region Region) bool {
	if s.Environment != env {
		return false
	}
	if len(s.Regions) == 0 {
		return env != EnvironmentProd
	}
	for _, r := range s.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// DeploymentSpec declares where and in which order an application is deployed.
// Test and staging are implicit and need not be declared.
type DeploymentSpec struct {
	Steps []Step `json:"steps,omitempty"`
}

// Includes reports whether the specification deploys to the given region of env.
// Test and staging are always included.
func (d DeploymentSpec) Includes(env Environment, region Region) bool {
	if env == EnvironmentTest || env == EnvironmentStaging {
		return true
	}
	for _, s := range d.Steps {
		if s.Includes(env, region) {
			return true
		}
	}
	return false
}

// HasDelay reports whether any step is a delay.
func (d DeploymentSpec) HasDelay() bool {
	for _, s := range d.Steps {
		if s.IsDelay() {
			return true
		}
	}
	return false
}
