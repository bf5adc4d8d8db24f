package metrics

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	logger *slog.Logger

	// Trigger engine metrics
	jobCompletionsTotal *prometheus.CounterVec
	jobsTriggeredTotal  *prometheus.CounterVec
	suppressedTotal     *prometheus.CounterVec
	changesTotal        *prometheus.CounterVec
	deadJobsTotal       *prometheus.CounterVec
	operationsTotal     *prometheus.CounterVec
	operationDuration   *prometheus.HistogramVec

	// Queue metrics
	queueDepth    prometheus.Gauge
	queueCapacity prometheus.Gauge

	// Maintainer metrics
	maintainerCyclesTotal   *prometheus.CounterVec
	maintainerDuration      *prometheus.HistogramVec
	maintainerFailuresTotal *prometheus.CounterVec

	// Leader election metrics
	leaderStatus   prometheus.Gauge
	leaderAcquired prometheus.Counter
	leaderLost     *prometheus.CounterVec

	// Circuit breaker metrics
	breakerState       *prometheus.GaugeVec
	breakerTransitions *prometheus.CounterVec
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
// Metrics that fail to register keep counting but are not exported.
func NewPrometheusSink(reg prometheus.Registerer, logger *slog.Logger) *PrometheusSink {
	s := &PrometheusSink{logger: logger.With("component", "metrics")}
	s.initTriggerMetrics(reg)
	s.initQueueMetrics(reg)
	s.initMaintainerMetrics(reg)
	s.initLeaderMetrics(reg)
	s.initBreakerMetrics(reg)
	return s
}

func (s *PrometheusSink) initTriggerMetrics(reg prometheus.Registerer) {
	s.jobCompletionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_job_completions_total",
		Help: "Total number of job completion reports received.",
	}, []string{"job_type", "outcome"})

	s.jobsTriggeredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_jobs_triggered_total",
		Help: "Total number of jobs enqueued, by the reason they were triggered.",
	}, []string{"job_type", "cause"})

	s.suppressedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_triggers_suppressed_total",
		Help: "Total number of triggers refused by the trigger guard.",
	}, []string{"reason"})

	s.changesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_changes_total",
		Help: "Total number of change lifecycle events.",
	}, []string{"event"})

	s.deadJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_dead_jobs_total",
		Help: "Total number of jobs re-triggered because they never reported back.",
	}, []string{"job_type"})

	s.operationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_operations_total",
		Help: "Total number of engine entry point calls, by result.",
	}, []string{"operation", "result"})

	s.operationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deploytrigger_operation_duration_seconds",
		Help:    "Duration of engine entry point calls in seconds, lock wait included.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	s.register(reg, s.jobCompletionsTotal, "deploytrigger_job_completions_total")
	s.register(reg, s.jobsTriggeredTotal, "deploytrigger_jobs_triggered_total")
	s.register(reg, s.suppressedTotal, "deploytrigger_triggers_suppressed_total")
	s.register(reg, s.changesTotal, "deploytrigger_changes_total")
	s.register(reg, s.deadJobsTotal, "deploytrigger_dead_jobs_total")
	s.register(reg, s.operationsTotal, "deploytrigger_operations_total")
	s.register(reg, s.operationDuration, "deploytrigger_operation_duration_seconds")
}

func (s *PrometheusSink) initQueueMetrics(reg prometheus.Registerer) {
	s.queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deploytrigger_queue_depth",
		Help: "Current number of jobs in the in-memory job queue.",
	})
	s.queueCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deploytrigger_queue_capacity",
		Help: "Capacity of the in-memory job queue.",
	})

	s.register(reg, s.queueDepth, "deploytrigger_queue_depth")
	s.register(reg, s.queueCapacity, "deploytrigger_queue_capacity")
}

func (s *PrometheusSink) initMaintainerMetrics(reg prometheus.Registerer) {
	s.maintainerCyclesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_maintainer_cycles_total",
		Help: "Total number of maintainer cycles, by result.",
	}, []string{"maintainer", "result"})

	s.maintainerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "deploytrigger_maintainer_cycle_duration_seconds",
		Help:    "Duration of maintainer cycles in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"maintainer"})

	s.maintainerFailuresTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_maintainer_application_failures_total",
		Help: "Total number of applications a maintainer cycle failed to process.",
	}, []string{"maintainer"})

	s.register(reg, s.maintainerCyclesTotal, "deploytrigger_maintainer_cycles_total")
	s.register(reg, s.maintainerDuration, "deploytrigger_maintainer_cycle_duration_seconds")
	s.register(reg, s.maintainerFailuresTotal, "deploytrigger_maintainer_application_failures_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "deploytrigger_leader_status",
		Help: "1 if this instance runs the maintainers, 0 otherwise.",
	})
	s.leaderAcquired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "deploytrigger_leader_acquired_total",
		Help: "Total number of times this instance became leader.",
	})
	s.leaderLost = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_leader_lost_total",
		Help: "Total number of times this instance lost leadership.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "deploytrigger_leader_status")
	s.register(reg, s.leaderAcquired, "deploytrigger_leader_acquired_total")
	s.register(reg, s.leaderLost, "deploytrigger_leader_lost_total")
}

func (s *PrometheusSink) initBreakerMetrics(reg prometheus.Registerer) {
	s.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "deploytrigger_breaker_state",
		Help: "Circuit breaker state: 0 closed, 1 half open, 2 open.",
	}, []string{"key"})
	s.breakerTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "deploytrigger_breaker_transitions_total",
		Help: "Total number of circuit breaker state changes.",
	}, []string{"key", "state"})

	s.register(reg, s.breakerState, "deploytrigger_breaker_state")
	s.register(reg, s.breakerTransitions, "deploytrigger_breaker_transitions_total")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		s.logger.Warn("failed to register metric", "metric", name, "error", err)
	}
}

// Trigger engine metrics implementation

func (s *PrometheusSink) JobCompleted(jobType string, success bool) {
	outcome := "failure"
	if success {
		outcome = "success"
	}
	s.jobCompletionsTotal.WithLabelValues(jobType, outcome).Inc()
}

func (s *PrometheusSink) JobTriggered(jobType string, cause string) {
	s.jobsTriggeredTotal.WithLabelValues(jobType, cause).Inc()
}

func (s *PrometheusSink) TriggerSuppressed(reason string) {
	s.suppressedTotal.WithLabelValues(reason).Inc()
}

func (s *PrometheusSink) ChangeStarted() {
	s.changesTotal.WithLabelValues(ChangeEventStarted).Inc()
}

func (s *PrometheusSink) ChangePostponed() {
	s.changesTotal.WithLabelValues(ChangeEventPostponed).Inc()
}

func (s *PrometheusSink) ChangeDeployed() {
	s.changesTotal.WithLabelValues(ChangeEventDeployed).Inc()
}

func (s *PrometheusSink) ChangeCancelled() {
	s.changesTotal.WithLabelValues(ChangeEventCancelled).Inc()
}

func (s *PrometheusSink) ChangeRejected() {
	s.changesTotal.WithLabelValues(ChangeEventRejected).Inc()
}

func (s *PrometheusSink) DeadJobDetected(jobType string) {
	s.deadJobsTotal.WithLabelValues(jobType).Inc()
}

func (s *PrometheusSink) OperationCompleted(operation string, duration time.Duration, err error) {
	s.operationsTotal.WithLabelValues(operation, ClassifyError(err)).Inc()
	s.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// Queue metrics implementation

func (s *PrometheusSink) QueueDepthUpdate(depth int) {
	s.queueDepth.Set(float64(depth))
}

func (s *PrometheusSink) QueueCapacitySet(capacity int) {
	s.queueCapacity.Set(float64(capacity))
}

// Maintainer metrics implementation

func (s *PrometheusSink) MaintainerCycleCompleted(maintainer string, duration time.Duration, err error) {
	s.maintainerCyclesTotal.WithLabelValues(maintainer, ClassifyError(err)).Inc()
	s.maintainerDuration.WithLabelValues(maintainer).Observe(duration.Seconds())
}

func (s *PrometheusSink) MaintainerApplicationFailed(maintainer string) {
	s.maintainerFailuresTotal.WithLabelValues(maintainer).Inc()
}

// Leader election metrics implementation

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquired.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLost.WithLabelValues(reason).Inc()
}

// Circuit breaker metrics implementation

func (s *PrometheusSink) BreakerStateChanged(key string, state string) {
	s.breakerState.WithLabelValues(key).Set(breakerStateValue(state))
	s.breakerTransitions.WithLabelValues(key, state).Inc()
}

func breakerStateValue(state string) float64 {
	switch state {
	case "half_open":
		return 1
	case "open":
		return 2
	default:
		return 0
	}
}
