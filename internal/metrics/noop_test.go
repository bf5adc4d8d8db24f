package metrics

import (
	"errors"
	"testing"
	"time"
)

func TestNoopSink_AllMethods(t *testing.T) {
	// Verify that calling all methods on NoopSink does not panic.
	s := NewNoopSink()

	s.JobCompleted("system-test", true)
	s.JobTriggered("staging-test", "next_step")
	s.TriggerSuppressed("untested")
	s.ChangeStarted()
	s.ChangePostponed()
	s.ChangeDeployed()
	s.ChangeCancelled()
	s.ChangeRejected()
	s.DeadJobDetected("production-us-east-3")
	s.OperationCompleted("job_completion", time.Millisecond, nil)
	s.OperationCompleted("job_completion", time.Millisecond, errors.New("queue down"))

	s.QueueDepthUpdate(10)
	s.QueueCapacitySet(100)

	s.MaintainerCycleCompleted("failure_redeployer", time.Second, nil)
	s.MaintainerApplicationFailed("failure_redeployer")

	s.LeaderStatusChanged(true)
	s.LeaderAcquired()
	s.LeaderLost("shutdown")

	s.BreakerStateChanged("redis-queue", "open")
}

// Verify NoopSink implements Sink interface.
var _ Sink = (*NoopSink)(nil)
