package api

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/deploytrigger/internal/domain"
)

func TestValidateApplicationID(t *testing.T) {
	tests := []struct {
		id      string
		wantErr bool
	}{
		{"tenant.app.default", false},
		{"tenant-1.app_2.default", false},
		{"app", false},
		{"", true},
		{".tenant.app", true},
		{"tenant..app", true},
		{"tenant.app.", true},
		{"tenant/app", true},
		{"tenant app", true},
		{strings.Repeat("a", maxApplicationIDLength+1), true},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			err := validateApplicationID(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateApplicationID(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateJobReport_ValidRequest(t *testing.T) {
	req := JobReportRequest{
		ApplicationID: "tenant.app.default",
		JobType:       "system-test",
		BuildNumber:   42,
		Error:         "out-of-capacity",
	}

	if err := validateJobReport(req); err != nil {
		t.Errorf("valid request should not return error, got: %v", err)
	}
}

func TestValidateJobReport_Invalid(t *testing.T) {
	base := JobReportRequest{
		ApplicationID: "tenant.app.default",
		JobType:       "component",
		BuildNumber:   1,
		Success:       true,
	}

	tests := []struct {
		name    string
		modify  func(r *JobReportRequest)
		wantErr string
	}{
		{
			name:    "missing application_id",
			modify:  func(r *JobReportRequest) { r.ApplicationID = "" },
			wantErr: "application_id is required",
		},
		{
			name:    "missing job_type",
			modify:  func(r *JobReportRequest) { r.JobType = "" },
			wantErr: "job_type is required",
		},
		{
			name:    "unknown job_type",
			modify:  func(r *JobReportRequest) { r.JobType = "production-mars-1" },
			wantErr: "unknown job_type",
		},
		{
			name:    "negative build number",
			modify:  func(r *JobReportRequest) { r.BuildNumber = -1 },
			wantErr: "build_number",
		},
		{
			name:    "unknown error",
			modify:  func(r *JobReportRequest) { r.Success = false; r.Error = "flaky" },
			wantErr: "unknown error",
		},
		{
			name:    "success with error",
			modify:  func(r *JobReportRequest) { r.Error = "unknown" },
			wantErr: "cannot carry an error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.modify(&req)
			err := validateJobReport(req)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestJobReportRequest_ToDomain(t *testing.T) {
	report := JobReportRequest{
		ApplicationID: "tenant.app.default",
		JobType:       "staging-test",
		BuildNumber:   7,
		Error:         "out-of-capacity",
		Revision:      "abc123",
	}.toDomain()

	if report.ApplicationID != "tenant.app.default" || report.JobType != domain.JobStagingTest {
		t.Errorf("report = %+v", report)
	}
	if report.Error == nil || *report.Error != domain.JobErrorOutOfCapacity {
		t.Errorf("Error = %v, want out-of-capacity", report.Error)
	}

	ok := JobReportRequest{ApplicationID: "a", JobType: "component", Success: true}.toDomain()
	if ok.Error != nil {
		t.Errorf("Error = %v, want nil", *ok.Error)
	}
}

func TestValidateCreateApplication_ValidRequest(t *testing.T) {
	req := CreateApplicationRequest{ID: "tenant.app.default"}
	req.DeploymentSpec.Steps = []StepRequest{
		{Environment: "staging"},
		{Environment: "prod", Regions: []string{"us-east-3"}},
		{Delay: "30m"},
		{Environment: "prod", Regions: []string{"us-west-1", "eu-west-1"}},
	}

	spec, err := validateCreateApplication(req, domain.SystemMain)
	if err != nil {
		t.Fatalf("valid request should not return error, got: %v", err)
	}
	if len(spec.Steps) != 4 {
		t.Fatalf("len(Steps) = %d, want 4", len(spec.Steps))
	}
	if !spec.Steps[2].IsDelay() || spec.Steps[2].Delay != 30*time.Minute {
		t.Errorf("step 2 = %+v, want a 30m delay", spec.Steps[2])
	}
	if !spec.Includes(domain.EnvironmentProd, "eu-west-1") {
		t.Error("spec should include prod.eu-west-1")
	}
}

func TestValidateCreateApplication_NoStepsIsValid(t *testing.T) {
	spec, err := validateCreateApplication(CreateApplicationRequest{ID: "tenant.app.default"}, domain.SystemMain)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.Steps) != 0 {
		t.Errorf("len(Steps) = %d, want 0", len(spec.Steps))
	}
}

func TestValidateCreateApplication_InvalidSteps(t *testing.T) {
	tests := []struct {
		name    string
		system  domain.System
		step    StepRequest
		wantErr string
	}{
		{"empty step", domain.SystemMain, StepRequest{}, "environment or delay is required"},
		{"unknown environment", domain.SystemMain, StepRequest{Environment: "dev"}, "unknown environment"},
		{"prod without regions", domain.SystemMain, StepRequest{Environment: "prod"}, "at least one region"},
		{"unknown region", domain.SystemMain, StepRequest{Environment: "prod", Regions: []string{"mars-1"}}, "not in system"},
		{"region of other system", domain.SystemCD, StepRequest{Environment: "prod", Regions: []string{"us-east-3"}}, "not in system"},
		{"staging with regions", domain.SystemMain, StepRequest{Environment: "staging", Regions: []string{"us-east-3"}}, "takes no regions"},
		{"bad delay", domain.SystemMain, StepRequest{Delay: "soon"}, "invalid delay"},
		{"negative delay", domain.SystemMain, StepRequest{Delay: "-5m"}, "must be positive"},
		{"delay with environment", domain.SystemMain, StepRequest{Environment: "prod", Delay: "5m"}, "delay step"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := CreateApplicationRequest{ID: "tenant.app.default"}
			req.DeploymentSpec.Steps = []StepRequest{tt.step}
			_, err := validateCreateApplication(req, tt.system)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q should contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateCreateApplication_InvalidID(t *testing.T) {
	_, err := validateCreateApplication(CreateApplicationRequest{ID: "bad id"}, domain.SystemMain)
	if err == nil || !strings.Contains(err.Error(), "invalid id") {
		t.Errorf("error = %v, want invalid id", err)
	}
}

func TestParseChange(t *testing.T) {
	id := uuid.MustParse("0b4a1d3c-5f2e-4c8a-9d6b-7e1f2a3b4c5d")

	change, err := parseChange(ChangeRequest{Kind: "application", ID: id.String(), Revision: "abc"})
	if err != nil {
		t.Fatalf("parseChange: %v", err)
	}
	if change != (domain.ApplicationChange{ID: id, Revision: "abc"}) {
		t.Errorf("change = %v", change)
	}

	change, err = parseChange(ChangeRequest{Kind: "application"})
	if err != nil {
		t.Fatalf("parseChange: %v", err)
	}
	ac, ok := change.(domain.ApplicationChange)
	if !ok || ac.ID == uuid.Nil {
		t.Errorf("application change without id should get a fresh one, got %v", change)
	}

	change, err = parseChange(ChangeRequest{Kind: "version", Version: "8.2.1"})
	if err != nil {
		t.Fatalf("parseChange: %v", err)
	}
	if change != (domain.VersionChange{Version: "8.2.1"}) {
		t.Errorf("change = %v", change)
	}
}

func TestParseChange_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  ChangeRequest
	}{
		{"missing kind", ChangeRequest{}},
		{"none", ChangeRequest{Kind: "none"}},
		{"bad id", ChangeRequest{Kind: "application", ID: "not-a-uuid"}},
		{"application with version", ChangeRequest{Kind: "application", Version: "8.2.1"}},
		{"version without version", ChangeRequest{Kind: "version"}},
		{"version with revision", ChangeRequest{Kind: "version", Version: "8.2.1", Revision: "abc"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseChange(tt.req); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}
