package maintainer

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// FailureRedeployer sweeps every application with an active change: failing
// jobs are retried when the retry policy allows it, and jobs which have not
// reported back within DeadJobTimeout are triggered again.
type FailureRedeployer struct {
	store          Store
	engine         Engine
	deadJobTimeout time.Duration
	logger         *slog.Logger
	metrics        MetricsSink // optional, nil = disabled
}

// NewFailureRedeployer creates a FailureRedeployer.
func NewFailureRedeployer(store Store, engine Engine, deadJobTimeout time.Duration, logger *slog.Logger) *FailureRedeployer {
	return &FailureRedeployer{
		store:          store,
		engine:         engine,
		deadJobTimeout: deadJobTimeout,
		logger:         logger.With("component", "failure-redeployer"),
	}
}

// WithMetrics attaches a metrics sink.
func (r *FailureRedeployer) WithMetrics(sink MetricsSink) *FailureRedeployer {
	r.metrics = sink
	return r
}

func (r *FailureRedeployer) Name() string { return "failure_redeployer" }

// RunCycle sweeps each application once. A failure for one application is
// logged and does not stop the others.
func (r *FailureRedeployer) RunCycle(ctx context.Context) error {
	apps, err := r.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list applications: %w", err)
	}

	swept, failed := 0, 0
	for _, app := range apps {
		if ctx.Err() != nil {
			r.logger.Info("cycle interrupted", "swept", swept, "total", len(apps))
			return ctx.Err()
		}
		// the engine re-checks under the lock
		if !app.IsDeploying() {
			continue
		}
		swept++
		if err := r.engine.OnPeriodicSweep(ctx, app.ID, r.deadJobTimeout); err != nil {
			failed++
			r.logger.Warn("sweep failed", "application", app.ID, "error", err)
			if r.metrics != nil {
				r.metrics.MaintainerApplicationFailed(r.Name())
			}
		}
	}

	if swept > 0 {
		r.logger.Debug("cycle complete", "swept", swept, "failed", failed)
	}
	return nil
}
