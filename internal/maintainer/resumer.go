package maintainer

import "context"

// DelayedResumer resumes rollouts whose delay step has passed.
type DelayedResumer struct {
	engine Engine
}

func NewDelayedResumer(engine Engine) *DelayedResumer {
	return &DelayedResumer{engine: engine}
}

func (r *DelayedResumer) Name() string { return "delayed_resumer" }

func (r *DelayedResumer) RunCycle(ctx context.Context) error {
	return r.engine.OnDelayedResume(ctx)
}
