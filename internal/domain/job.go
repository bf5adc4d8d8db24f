package domain

// Environment is the kind of zone a job deploys to.
type Environment string

const (
	EnvironmentTest    Environment = "test"
	EnvironmentStaging Environment = "staging"
	EnvironmentProd    Environment = "prod"
)

// Region names a geographic location within an environment.
type Region string

// Zone is an environment and region pair.
type Zone struct {
	Environment Environment
	Region      Region
}

func (z Zone) String() string {
	return string(z.Environment) + "." + string(z.Region)
}

// System identifies the deployment system topology zones are resolved against.
type System string

const (
	SystemMain System = "main"
	SystemCD   System = "cd"
)

// JobType is one step of a deployment pipeline.
type JobType string

const (
	JobComponent              JobType = "component"
	JobSystemTest             JobType = "system-test"
	JobStagingTest            JobType = "staging-test"
	JobProductionCorpUSEast1  JobType = "production-corp-us-east-1"
	JobProductionUSEast3      JobType = "production-us-east-3"
	JobProductionUSWest1      JobType = "production-us-west-1"
	JobProductionUSCentral1   JobType = "production-us-central-1"
	JobProductionAPNortheast1 JobType = "production-ap-northeast-1"
	JobProductionEUWest1      JobType = "production-eu-west-1"
	JobProductionCDUSCentral1 JobType = "production-cd-us-central-1"
)

type jobTypeInfo struct {
	environment Environment
	zones       map[System]Region
}

var jobTypes = map[JobType]jobTypeInfo{
	JobComponent: {},
	JobSystemTest: {
		environment: EnvironmentTest,
		zones:       map[System]Region{SystemMain: "us-east-1", SystemCD: "cd-us-central-1"},
	},
	JobStagingTest: {
		environment: EnvironmentStaging,
		zones:       map[System]Region{SystemMain: "us-east-3", SystemCD: "cd-us-central-1"},
	},
	JobProductionCorpUSEast1:  prodIn(SystemMain, "corp-us-east-1"),
	JobProductionUSEast3:      prodIn(SystemMain, "us-east-3"),
	JobProductionUSWest1:      prodIn(SystemMain, "us-west-1"),
	JobProductionUSCentral1:   prodIn(SystemMain, "us-central-1"),
	JobProductionAPNortheast1: prodIn(SystemMain, "ap-northeast-1"),
	JobProductionEUWest1:      prodIn(SystemMain, "eu-west-1"),
	JobProductionCDUSCentral1: prodIn(SystemCD, "cd-us-central-1"),
}

func prodIn(system System, region Region) jobTypeInfo {
	return jobTypeInfo{environment: EnvironmentProd, zones: map[System]Region{system: region}}
}

// Valid reports whether j is a known job type.
func (j JobType) Valid() bool {
	_, ok := jobTypes[j]
	return ok
}

// Environment returns the environment the job deploys to, or "" for the component build.
func (j JobType) Environment() Environment {
	return jobTypes[j].environment
}

// IsProduction reports whether the job deploys to a production zone.
func (j JobType) IsProduction() bool {
	return j.Environment() == EnvironmentProd
}

// IsTest reports whether the job is a test job. Test jobs run on shared
// capacity and may fail transiently when it is exhausted.
func (j JobType) IsTest() bool {
	env := j.Environment()
	return env == EnvironmentTest || env == EnvironmentStaging
}

// Zone resolves the zone the job deploys to in the given system.
func (j JobType) Zone(system System) (Zone, bool) {
	info, ok := jobTypes[j]
	if !ok {
		return Zone{}, false
	}
	region, ok := info.zones[system]
	if !ok {
		return Zone{}, false
	}
	return Zone{Environment: info.environment, Region: region}, true
}

// JobTypeForZone returns the job deploying to zone in the given system.
func JobTypeForZone(system System, zone Zone) (JobType, bool) {
	for jt, info := range jobTypes {
		if info.environment != zone.Environment {
			continue
		}
		if region, ok := info.zones[system]; ok && region == zone.Region {
			return jt, true
		}
	}
	return "", false
}
