package metrics

import "time"

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

// NewNoopSink returns a no-op metrics sink.
func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) JobCompleted(jobType string, success bool)                              {}
func (n *NoopSink) JobTriggered(jobType string, cause string)                              {}
func (n *NoopSink) TriggerSuppressed(reason string)                                        {}
func (n *NoopSink) ChangeStarted()                                                         {}
func (n *NoopSink) ChangePostponed()                                                       {}
func (n *NoopSink) ChangeDeployed()                                                        {}
func (n *NoopSink) ChangeCancelled()                                                       {}
func (n *NoopSink) ChangeRejected()                                                        {}
func (n *NoopSink) DeadJobDetected(jobType string)                                         {}
func (n *NoopSink) OperationCompleted(operation string, d time.Duration, err error)        {}
func (n *NoopSink) QueueDepthUpdate(depth int)                                             {}
func (n *NoopSink) QueueCapacitySet(capacity int)                                          {}
func (n *NoopSink) MaintainerCycleCompleted(maintainer string, d time.Duration, err error) {}
func (n *NoopSink) MaintainerApplicationFailed(maintainer string)                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                      {}
func (n *NoopSink) LeaderAcquired()                                                        {}
func (n *NoopSink) LeaderLost(reason string)                                               {}
func (n *NoopSink) BreakerStateChanged(key string, state string)                           {}
