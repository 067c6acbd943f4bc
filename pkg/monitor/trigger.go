package monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/observability"
)

// DefaultTriggerTimeout bounds a single run submission
const DefaultTriggerTimeout = 60 * time.Second

// RunStarter starts remote provisioning runs
type RunStarter interface {
	StartRun(ctx context.Context, target api.ProvisionTarget, params map[string]string) (api.RunResult, error)
}

// ProvisioningTrigger starts exactly one provisioning run per call.
// Deduplication is up to the caller.
type ProvisioningTrigger struct {
	starter RunStarter
	timeout time.Duration
}

// NewProvisioningTrigger creates a trigger. A zero timeout uses DefaultTriggerTimeout.
func NewProvisioningTrigger(starter RunStarter, timeout time.Duration) *ProvisioningTrigger {
	if timeout <= 0 {
		timeout = DefaultTriggerTimeout
	}
	return &ProvisioningTrigger{starter: starter, timeout: timeout}
}

// Trigger starts target with params. Any failure is a *TriggerError.
func (t *ProvisioningTrigger) Trigger(ctx context.Context, target api.ProvisionTarget, params map[string]string) (api.TriggerResult, error) {
	if target.ID <= 0 {
		return api.TriggerResult{}, &TriggerError{Target: target, Err: errors.New("no provisioning definition configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "monitor.trigger",
		attribute.String("provision.kind", string(target.Kind)),
		attribute.Int("provision.id", target.ID),
	)

	result, err := t.starter.StartRun(ctx, target, params)
	if err == nil && !result.Success {
		err = fmt.Errorf("run was not accepted (state %q)", result.State)
	}
	if err != nil {
		err = &TriggerError{Target: target, Err: err}
		observability.EndSpan(span, err)
		return api.TriggerResult{}, err
	}

	span.SetAttributes(attribute.String("provision.run_id", result.RunID))
	observability.EndSpan(span, nil)

	return api.TriggerResult{
		Target: target,
		RunID:  result.RunID,
		Params: params,
	}, nil
}
