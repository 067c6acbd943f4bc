package monitor

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/devops"
	"github.com/circlemon/circlemon/pkg/observability"
)

// State is a step in the evaluation of one circle
type State int

const (
	StateIdle State = iota
	StateProbing
	StateDeciding
	StateTriggering
	StateDone
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateProbing:
		return "probing"
	case StateDeciding:
		return "deciding"
	case StateTriggering:
		return "triggering"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Provisioning run parameters
const (
	ParamAppName = "app_name"
	ParamEnv     = "env"
	ParamVMCount = "vm_count"
)

// ControlPlane is everything a circle evaluation needs from the remote side
type ControlPlane interface {
	MemberLister
	RunStarter
}

// CircleMonitorConfig configures a CircleMonitor
type CircleMonitorConfig struct {
	ProbeTimeout   time.Duration
	TriggerTimeout time.Duration

	// OnTransition, when set, observes every state change
	OnTransition func(circleID string, from, to State)

	Events *observability.EventStream
	Logger *zap.Logger
}

// CircleMonitor evaluates circles against one control plane. It keeps no
// state between Evaluate calls.
type CircleMonitor struct {
	prober  *CapacityProber
	trigger *ProvisioningTrigger
	config  CircleMonitorConfig
	logger  *zap.Logger
}

// NewCircleMonitor creates a monitor talking to cp
func NewCircleMonitor(cp ControlPlane, config CircleMonitorConfig) *CircleMonitor {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &CircleMonitor{
		prober:  NewCapacityProber(cp, config.ProbeTimeout),
		trigger: NewProvisioningTrigger(cp, config.TriggerTimeout),
		config:  config,
		logger:  config.Logger,
	}
}

// Evaluate probes every pool of cfg in order, decides whether the circle is
// short of capacity and, if so, starts exactly one provisioning run.
// Errors are recorded on the outcome, never returned.
func (m *CircleMonitor) Evaluate(ctx context.Context, cfg api.CircleConfig) api.CircleOutcome {
	var outcome api.CircleOutcome
	m.evaluate(ctx, cfg, &outcome)
	return outcome
}

// evaluate fills outcome as the evaluation progresses, so a caller that
// recovers a panic keeps the readings taken so far
func (m *CircleMonitor) evaluate(ctx context.Context, cfg api.CircleConfig, outcome *api.CircleOutcome) {
	start := time.Now()
	ctx = observability.WithCircleID(ctx, cfg.CircleID)
	ctx, span := observability.StartSpan(ctx, "monitor.evaluate_circle",
		attribute.String("circle.id", cfg.CircleID),
		attribute.Int("circle.pools", len(cfg.Pools)),
		attribute.Int("circle.minimum", cfg.MinimumAvailableCount),
	)
	logger := observability.ContextLogger(ctx, m.logger)

	state := StateIdle
	transition := func(next State) {
		if m.config.OnTransition != nil {
			m.config.OnTransition(cfg.CircleID, state, next)
		}
		logger.Debug("Circle state changed",
			zap.Stringer("from", state),
			zap.Stringer("to", next),
		)
		observability.AddSpanEvent(ctx, "state_change",
			attribute.String("from", state.String()),
			attribute.String("to", next.String()),
		)
		state = next
	}

	*outcome = api.CircleOutcome{
		CircleID:              cfg.CircleID,
		MinimumAvailableCount: cfg.MinimumAvailableCount,
		Probed:                []api.CapacityReading{},
	}

	defer func() {
		outcome.Duration = time.Since(start)
		m.finish(ctx, logger, *outcome)
		span.SetAttributes(
			attribute.Bool("circle.needs_provision", outcome.NeedsProvision),
			attribute.Bool("circle.provision_triggered", outcome.ProvisionTriggered),
		)
		observability.EndSpan(span, outcome.Err)
	}()

	observability.PoolMinimumCount.WithLabelValues(cfg.CircleID).Set(float64(cfg.MinimumAvailableCount))

	transition(StateProbing)
	for _, pool := range cfg.Pools {
		reading, err := m.prober.Probe(ctx, pool)
		if err != nil {
			if IsTransientProbeError(err) {
				observability.ProbeErrorsTotal.WithLabelValues(cfg.CircleID, KindTransient).Inc()
				logger.Warn("Skipping pool after transient probe error",
					zap.String("pool", pool.ID),
					zap.String("stage", pool.Stage),
					zap.Error(err),
				)
				outcome.Skipped = append(outcome.Skipped, api.SkippedPool{PoolID: pool.ID, Reason: err.Error()})
				continue
			}

			observability.ProbeErrorsTotal.WithLabelValues(cfg.CircleID, KindFatal).Inc()
			logger.Error("Aborting circle after fatal probe error",
				zap.String("pool", pool.ID),
				zap.Error(err),
			)
			outcome.NeedsProvision = false
			outcome.Fail(err, ErrorKind(err))
			transition(StateDone)
			return
		}

		logger.Info("Probed pool",
			zap.String("pool", reading.PoolID),
			zap.String("stage", reading.Stage),
			zap.Int("available", reading.AvailableCount),
			zap.Int("total", reading.Total),
			zap.Int("minimum", cfg.MinimumAvailableCount),
		)
		observability.PoolAvailableCount.WithLabelValues(cfg.CircleID, reading.PoolID, reading.Stage).Set(float64(reading.AvailableCount))
		outcome.Probed = append(outcome.Probed, reading)
	}

	transition(StateDeciding)
	short, ok := firstShortPool(outcome.Probed, cfg.MinimumAvailableCount)
	outcome.NeedsProvision = ok
	if !ok {
		transition(StateDone)
		return
	}

	transition(StateTriggering)
	params := provisionParams(cfg, short)
	result, err := m.trigger.Trigger(ctx, cfg.Provision, params)
	if m.config.Events != nil {
		m.config.Events.RecordEvent(ctx, observability.NewProvisionEvent(cfg.CircleID, params[ParamEnv], cfg.Provision.ID, result.RunID, err))
	}
	if err != nil {
		observability.ProvisionTriggersTotal.WithLabelValues(cfg.CircleID, "failure").Inc()
		logger.Error("Failed to start provisioning run",
			zap.String("kind", string(cfg.Provision.Kind)),
			zap.Int("definition_id", cfg.Provision.ID),
			zap.Int("status", devops.StatusCode(err)),
			zap.Error(err),
		)
		outcome.Fail(err, ErrorKind(err))
	} else {
		observability.ProvisionTriggersTotal.WithLabelValues(cfg.CircleID, "success").Inc()
		logger.Info("Started provisioning run",
			zap.String("kind", string(cfg.Provision.Kind)),
			zap.Int("definition_id", cfg.Provision.ID),
			zap.String("run_id", result.RunID),
			zap.String("env", params[ParamEnv]),
			zap.String("vm_count", params[ParamVMCount]),
		)
		outcome.ProvisionTriggered = true
		outcome.RunID = result.RunID
	}

	transition(StateDone)
	return
}

func (m *CircleMonitor) finish(ctx context.Context, logger *zap.Logger, outcome api.CircleOutcome) {
	result := "ok"
	switch {
	case outcome.Failed():
		result = "error"
	case outcome.NeedsProvision:
		result = "provision"
	}
	observability.CircleEvaluationsTotal.WithLabelValues(outcome.CircleID, result).Inc()

	if m.config.Events != nil {
		m.config.Events.RecordEvent(ctx, observability.NewCircleEvaluatedEvent(
			outcome.CircleID, outcome.NeedsProvision, outcome.ProvisionTriggered, outcome.Error))
	}

	logger.Info("Circle evaluated",
		zap.Int("probed", len(outcome.Probed)),
		zap.Int("skipped", len(outcome.Skipped)),
		zap.Bool("needs_provision", outcome.NeedsProvision),
		zap.Bool("provision_triggered", outcome.ProvisionTriggered),
		zap.Duration("duration", outcome.Duration),
	)
}

// firstShortPool returns the first reading below minimum
func firstShortPool(readings []api.CapacityReading, minimum int) (api.CapacityReading, bool) {
	for _, r := range readings {
		if r.AvailableCount < minimum {
			return r, true
		}
	}
	return api.CapacityReading{}, false
}

// provisionParams derives the run variables for the pool that fell short.
// vm_count is the configured per-OS count, or the missing capacity when none is set.
func provisionParams(cfg api.CircleConfig, short api.CapacityReading) map[string]string {
	env := short.Stage
	if env == "" {
		env = short.PoolID
	}

	count := cfg.VMCount
	if count <= 0 {
		count = cfg.MinimumAvailableCount - short.AvailableCount
	}

	return map[string]string{
		ParamAppName: cfg.CircleID,
		ParamEnv:     env,
		ParamVMCount: strconv.Itoa(count),
	}
}
