package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/djlord-it/deploytrigger/internal/circuitbreaker"
	"github.com/djlord-it/deploytrigger/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Trigger engine metrics
	JobCompleted(jobType string, success bool)
	JobTriggered(jobType string, cause string)
	TriggerSuppressed(reason string)
	ChangeStarted()
	ChangePostponed()
	ChangeDeployed()
	ChangeCancelled()
	ChangeRejected()
	DeadJobDetected(jobType string)
	OperationCompleted(operation string, duration time.Duration, err error)

	// Queue metrics
	QueueDepthUpdate(depth int)
	QueueCapacitySet(capacity int)

	// Maintainer metrics
	MaintainerCycleCompleted(maintainer string, duration time.Duration, err error)
	MaintainerApplicationFailed(maintainer string)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)

	// Circuit breaker metrics
	BreakerStateChanged(key string, state string)
}

// Change events for the changes counter.
const (
	ChangeEventStarted   = "started"
	ChangeEventPostponed = "postponed"
	ChangeEventDeployed  = "deployed"
	ChangeEventCancelled = "cancelled"
	ChangeEventRejected  = "rejected"
)

// Result classes for OperationCompleted and MaintainerCycleCompleted.
const (
	ResultSuccess          = "success"
	ResultNotFound         = "not_found"
	ResultChangeInProgress = "change_in_progress"
	ResultInvalid          = "invalid"
	ResultTimeout          = "timeout"
	ResultCancelled        = "cancelled"
	ResultConnectionError  = "connection_error"
	ResultOtherError       = "other_error"
)

// ClassifyError maps an operation's error to a result class.
func ClassifyError(err error) string {
	switch {
	case err == nil:
		return ResultSuccess
	case errors.Is(err, domain.ErrNotFound):
		return ResultNotFound
	case errors.Is(err, domain.ErrChangeInProgress):
		return ResultChangeInProgress
	case errors.Is(err, domain.ErrInvalidChange), errors.Is(err, domain.ErrUnknownJobType):
		return ResultInvalid
	case errors.Is(err, context.DeadlineExceeded):
		return ResultTimeout
	case errors.Is(err, context.Canceled):
		return ResultCancelled
	case errors.Is(err, circuitbreaker.ErrCircuitOpen):
		return ResultConnectionError
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return ResultTimeout
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
		return ResultConnectionError
	default:
		return ResultOtherError
	}
}
