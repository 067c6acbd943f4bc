package monitor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/observability"
)

// ControlPlaneProvider hands out a control plane authenticated as a circle's identity
type ControlPlaneProvider interface {
	ForIdentity(identity api.Identity) (ControlPlane, error)
}

// ProviderFunc adapts a function to ControlPlaneProvider
type ProviderFunc func(identity api.Identity) (ControlPlane, error)

// ForIdentity calls f
func (f ProviderFunc) ForIdentity(identity api.Identity) (ControlPlane, error) {
	return f(identity)
}

// StaticProvider returns cp for every identity
func StaticProvider(cp ControlPlane) ControlPlaneProvider {
	return ProviderFunc(func(api.Identity) (ControlPlane, error) { return cp, nil })
}

// RunnerConfig configures a Runner
type RunnerConfig struct {
	Provider ControlPlaneProvider

	// MaxConcurrency bounds how many circles are evaluated at once; zero means one worker per circle
	MaxConcurrency int

	ProbeTimeout   time.Duration
	TriggerTimeout time.Duration
	OnTransition   func(circleID string, from, to State)

	Events *observability.EventStream
	Logger *zap.Logger
}

// Runner evaluates a set of circles, one worker per circle
type Runner struct {
	config RunnerConfig
	logger *zap.Logger
}

// NewRunner creates a runner
func NewRunner(config RunnerConfig) (*Runner, error) {
	if config.Provider == nil {
		return nil, errors.New("control plane provider is required")
	}
	if config.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must not be negative, got %d", config.MaxConcurrency)
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Runner{config: config, logger: config.Logger}, nil
}

type indexedOutcome struct {
	index   int
	outcome api.CircleOutcome
}

// RunPass evaluates every config concurrently and returns one outcome per
// config, in input order. Cancelling ctx stops new launches; circles that
// were never launched get an outcome wrapping ErrNotLaunched. Launched workers
// are detached from the cancellation and end within their call timeouts.
func (r *Runner) RunPass(ctx context.Context, configs []api.CircleConfig) []api.CircleOutcome {
	outcomes := make([]api.CircleOutcome, len(configs))
	if len(configs) == 0 {
		return outcomes
	}

	limit := r.config.MaxConcurrency
	if limit <= 0 || limit > len(configs) {
		limit = len(configs)
	}
	sem := semaphore.NewWeighted(int64(limit))

	results := make(chan indexedOutcome, len(configs))
	workCtx := context.WithoutCancel(ctx)

	launched := 0
	for i, cfg := range configs {
		if ctx.Err() != nil {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		launched++

		go func(index int, cfg api.CircleConfig) {
			defer sem.Release(1)
			results <- indexedOutcome{index: index, outcome: r.evaluate(workCtx, cfg)}
		}(i, cfg)
	}

	collected := make([]bool, len(configs))
	for n := 0; n < launched; n++ {
		res := <-results
		outcomes[res.index] = res.outcome
		collected[res.index] = true
	}

	for i, cfg := range configs {
		if !collected[i] {
			outcomes[i] = r.notLaunched(cfg, ctx.Err())
		}
	}

	return outcomes
}

// RunSequential evaluates configs one at a time. It yields the same outcomes
// as RunPass and serves as the fallback when concurrency is not wanted.
func (r *Runner) RunSequential(ctx context.Context, configs []api.CircleConfig) []api.CircleOutcome {
	outcomes := make([]api.CircleOutcome, len(configs))
	workCtx := context.WithoutCancel(ctx)

	for i, cfg := range configs {
		if ctx.Err() != nil {
			outcomes[i] = r.notLaunched(cfg, ctx.Err())
			continue
		}
		outcomes[i] = r.evaluate(workCtx, cfg)
	}
	return outcomes
}

// evaluate runs one circle and turns a panic into an outcome. Readings
// taken before the panic stay on the outcome.
func (r *Runner) evaluate(ctx context.Context, cfg api.CircleConfig) (outcome api.CircleOutcome) {
	defer func() {
		if v := recover(); v != nil {
			observability.WorkerPanicsTotal.Inc()

			batchErr := &BatchError{CircleID: cfg.CircleID, Value: v, Stack: debug.Stack()}
			r.logger.Error("Circle worker panicked",
				zap.String("pass_id", observability.GetPassID(ctx)),
				zap.String("circle", cfg.CircleID),
				zap.Any("panic", v),
				zap.ByteString("stack", batchErr.Stack),
			)
			if outcome.CircleID == "" {
				outcome = baseOutcome(cfg)
			}
			outcome.Fail(batchErr, KindBatch)
		}
	}()

	cp, err := r.config.Provider.ForIdentity(cfg.Identity)
	if err != nil {
		observability.CircleEvaluationsTotal.WithLabelValues(cfg.CircleID, "error").Inc()
		r.logger.Error("Failed to reach control plane for circle",
			zap.String("pass_id", observability.GetPassID(ctx)),
			zap.String("circle", cfg.CircleID),
			zap.String("user", cfg.Identity.UserName),
			zap.Error(err),
		)
		outcome = baseOutcome(cfg)
		fatal := &FatalProbeError{Err: err}
		outcome.Fail(fatal, KindFatal)
		return outcome
	}

	monitor := NewCircleMonitor(cp, CircleMonitorConfig{
		ProbeTimeout:   r.config.ProbeTimeout,
		TriggerTimeout: r.config.TriggerTimeout,
		OnTransition:   r.config.OnTransition,
		Events:         r.config.Events,
		Logger:         r.logger,
	})
	monitor.evaluate(ctx, cfg, &outcome)
	return outcome
}

func (r *Runner) notLaunched(cfg api.CircleConfig, cause error) api.CircleOutcome {
	err := ErrNotLaunched
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrNotLaunched, cause)
	}

	r.logger.Warn("Circle not launched",
		zap.String("circle", cfg.CircleID),
		zap.Error(err),
	)
	outcome := baseOutcome(cfg)
	outcome.Fail(&BatchError{CircleID: cfg.CircleID, Err: err}, KindNotLaunched)
	return outcome
}

func baseOutcome(cfg api.CircleConfig) api.CircleOutcome {
	return api.CircleOutcome{
		CircleID:              cfg.CircleID,
		MinimumAvailableCount: cfg.MinimumAvailableCount,
		Probed:                []api.CapacityReading{},
	}
}
