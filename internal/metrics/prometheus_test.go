package metrics

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/djlord-it/deploytrigger/internal/leaderelection"
	"github.com/djlord-it/deploytrigger/internal/testutil"
)

func newTestSink(t *testing.T) (*PrometheusSink, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewPrometheusSink(reg, testutil.Logger()), reg
}

// value returns the counter or gauge value, or the histogram sample count,
// of the series of family name whose labels are exactly labels ("k=v" pairs).
// A missing series reads as 0.
func value(t *testing.T, reg prometheus.Gatherer, name string, labels ...string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.Counter != nil:
				return m.GetCounter().GetValue()
			case m.Gauge != nil:
				return m.GetGauge().GetValue()
			case m.Histogram != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, labels []string) bool {
	if len(m.GetLabel()) != len(labels) {
		return false
	}
	for _, lp := range m.GetLabel() {
		if !slices.Contains(labels, lp.GetName()+"="+lp.GetValue()) {
			return false
		}
	}
	return true
}

func TestPrometheusSink_DuplicateRegistrationDoesNotPanic(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewPrometheusSink(reg, testutil.Logger())
	second := NewPrometheusSink(reg, testutil.Logger())

	// the second sink still records, it is just not exported
	second.ChangeStarted()
	second.LeaderLost(leaderelection.ReasonShutdown)
}

func TestPrometheusSink_TriggerMetrics(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.JobCompleted("system-test", true)
	sink.JobCompleted("system-test", false)
	sink.JobCompleted("system-test", false)
	sink.JobTriggered("staging-test", "next_step")
	sink.JobTriggered("staging-test", "out_of_capacity")
	sink.JobTriggered("staging-test", "out_of_capacity")
	sink.TriggerSuppressed("zone_excluded")
	sink.DeadJobDetected("production-us-east-3")
	sink.ChangeStarted()
	sink.ChangeStarted()
	sink.ChangePostponed()
	sink.ChangeDeployed()
	sink.ChangeCancelled()
	sink.ChangeRejected()

	tests := []struct {
		name   string
		labels []string
		want   float64
	}{
		{"deploytrigger_job_completions_total", []string{"job_type=system-test", "outcome=success"}, 1},
		{"deploytrigger_job_completions_total", []string{"job_type=system-test", "outcome=failure"}, 2},
		{"deploytrigger_jobs_triggered_total", []string{"job_type=staging-test", "cause=next_step"}, 1},
		{"deploytrigger_jobs_triggered_total", []string{"job_type=staging-test", "cause=out_of_capacity"}, 2},
		{"deploytrigger_triggers_suppressed_total", []string{"reason=zone_excluded"}, 1},
		{"deploytrigger_dead_jobs_total", []string{"job_type=production-us-east-3"}, 1},
		{"deploytrigger_changes_total", []string{"event=" + ChangeEventStarted}, 2},
		{"deploytrigger_changes_total", []string{"event=" + ChangeEventPostponed}, 1},
		{"deploytrigger_changes_total", []string{"event=" + ChangeEventDeployed}, 1},
		{"deploytrigger_changes_total", []string{"event=" + ChangeEventCancelled}, 1},
		{"deploytrigger_changes_total", []string{"event=" + ChangeEventRejected}, 1},
	}
	for _, tt := range tests {
		if got := value(t, reg, tt.name, tt.labels...); got != tt.want {
			t.Errorf("%s%v = %v, want %v", tt.name, tt.labels, got, tt.want)
		}
	}
}

func TestPrometheusSink_OperationCompleted(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.OperationCompleted("request_change", 2*time.Millisecond, nil)
	sink.OperationCompleted("request_change", time.Millisecond, errors.New("boom"))

	const ops = "deploytrigger_operations_total"
	if got := value(t, reg, ops, "operation=request_change", "result="+ResultSuccess); got != 1 {
		t.Errorf("successful operations = %v, want 1", got)
	}
	if got := value(t, reg, ops, "operation=request_change", "result="+ResultOtherError); got != 1 {
		t.Errorf("failed operations = %v, want 1", got)
	}
	if got := value(t, reg, "deploytrigger_operation_duration_seconds", "operation=request_change"); got != 2 {
		t.Errorf("duration samples = %v, want 2", got)
	}
}

func TestPrometheusSink_QueueGauges(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.QueueCapacitySet(1000)
	sink.QueueDepthUpdate(42)
	sink.QueueDepthUpdate(7)

	if got := value(t, reg, "deploytrigger_queue_capacity"); got != 1000 {
		t.Errorf("queue_capacity = %v, want 1000", got)
	}
	if got := value(t, reg, "deploytrigger_queue_depth"); got != 7 {
		t.Errorf("queue_depth = %v, want 7", got)
	}
}

func TestPrometheusSink_MaintainerCycles(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.MaintainerCycleCompleted("failure_redeployer", time.Second, nil)
	sink.MaintainerCycleCompleted("failure_redeployer", time.Second, errors.New("connection refused"))
	sink.MaintainerApplicationFailed("failure_redeployer")

	if got := value(t, reg, "deploytrigger_maintainer_cycles_total",
		"maintainer=failure_redeployer", "result="+ResultConnectionError); got != 1 {
		t.Errorf("failed cycles = %v, want 1", got)
	}
	if got := value(t, reg, "deploytrigger_maintainer_cycle_duration_seconds", "maintainer=failure_redeployer"); got != 2 {
		t.Errorf("cycle duration samples = %v, want 2", got)
	}
	if got := value(t, reg, "deploytrigger_maintainer_application_failures_total", "maintainer=failure_redeployer"); got != 1 {
		t.Errorf("application failures = %v, want 1", got)
	}
}

func TestPrometheusSink_Leadership(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.LeaderStatusChanged(true)
	sink.LeaderAcquired()
	if got := value(t, reg, "deploytrigger_leader_status"); got != 1 {
		t.Errorf("leader_status while leading = %v, want 1", got)
	}

	sink.LeaderStatusChanged(false)
	sink.LeaderLost(leaderelection.ReasonConnLost)
	if got := value(t, reg, "deploytrigger_leader_status"); got != 0 {
		t.Errorf("leader_status after loss = %v, want 0", got)
	}
	if got := value(t, reg, "deploytrigger_leader_acquired_total"); got != 1 {
		t.Errorf("leader_acquired_total = %v, want 1", got)
	}
	if got := value(t, reg, "deploytrigger_leader_lost_total", "reason=conn_lost"); got != 1 {
		t.Errorf("leader_lost_total{conn_lost} = %v, want 1", got)
	}
}

func TestPrometheusSink_BreakerState(t *testing.T) {
	sink, reg := newTestSink(t)

	sink.BreakerStateChanged("redis-queue", "open")
	if got := value(t, reg, "deploytrigger_breaker_state", "key=redis-queue"); got != 2 {
		t.Errorf("breaker_state = %v, want 2 (open)", got)
	}
	sink.BreakerStateChanged("redis-queue", "half_open")
	sink.BreakerStateChanged("redis-queue", "closed")
	if got := value(t, reg, "deploytrigger_breaker_state", "key=redis-queue"); got != 0 {
		t.Errorf("breaker_state = %v, want 0 (closed)", got)
	}
	if got := value(t, reg, "deploytrigger_breaker_transitions_total", "key=redis-queue", "state=open"); got != 1 {
		t.Errorf("transitions to open = %v, want 1", got)
	}
}

var _ Sink = (*PrometheusSink)(nil)
