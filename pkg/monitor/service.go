package monitor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/circles"
	"github.com/circlemon/circlemon/pkg/observability"
)

// Pass sources
const (
	SourceSchedule = "schedule"
	SourceHTTP     = "http"
	SourceCLI      = "cli"
)

// PassRunner runs one pass over every configured circle
type PassRunner interface {
	RunPass(ctx context.Context, source string) (*api.PassReport, error)
}

// ServiceConfig configures a Service
type ServiceConfig struct {
	Store  circles.Store
	Runner *Runner

	// Sequential evaluates circles one at a time
	Sequential bool

	Events *observability.EventStream
	Logger *zap.Logger
}

// Service is the single entry point for scheduled and on-demand passes.
// Overlapping requests share the pass that is already running.
type Service struct {
	config ServiceConfig
	logger *zap.Logger
	group  singleflight.Group
	last   atomic.Pointer[api.PassReport]

	mu         sync.Mutex
	current    *passCall
	generation uint64
}

// passCall is a shared pass and the number of callers still interested in
// it. Its context is cancelled once every caller has been cancelled.
type passCall struct {
	key     string
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewService creates a service
func NewService(config ServiceConfig) (*Service, error) {
	if config.Store == nil {
		return nil, errors.New("circle store is required")
	}
	if config.Runner == nil {
		return nil, errors.New("runner is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	return &Service{config: config, logger: config.Logger}, nil
}

// RunPass loads every circle and evaluates it. It fails only when the pass
// cannot start; circle failures are reported in the outcomes.
//
// A caller joining a running pass gets that pass's report. Cancelling ctx
// stops the shared pass from launching more circles only when no other
// caller is still waiting on it; the caller still receives the report.
func (s *Service) RunPass(ctx context.Context, source string) (*api.PassReport, error) {
	call := s.join(ctx)
	ch := s.group.DoChan(call.key, func() (interface{}, error) {
		defer s.finish(call)
		return s.runPass(call.ctx, source)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
		s.leave(call, false)
	case <-ctx.Done():
		s.leave(call, true)
		res = <-ch
	}

	if res.Shared {
		s.logger.Debug("Joined pass already in progress", zap.String("source", source))
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Val.(*api.PassReport), nil
}

func (s *Service) join(ctx context.Context) *passCall {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		s.generation++
		passCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		s.current = &passCall{
			key:    "pass-" + strconv.FormatUint(s.generation, 10),
			ctx:    passCtx,
			cancel: cancel,
		}
	}
	s.current.waiters++
	return s.current
}

func (s *Service) leave(call *passCall, cancelled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call.waiters--
	if call.waiters > 0 {
		return
	}
	if cancelled && s.current == call {
		s.current = nil
	}
	if s.current != call {
		call.cancel()
	}
}

func (s *Service) finish(call *passCall) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == call {
		s.current = nil
	}
}

// LastReport returns the most recent completed pass, or nil
func (s *Service) LastReport() *api.PassReport {
	return s.last.Load()
}

func (s *Service) runPass(ctx context.Context, source string) (*api.PassReport, error) {
	passID := uuid.NewString()
	ctx = observability.WithPassID(ctx, passID)
	ctx, span := observability.StartSpan(ctx, "monitor.pass",
		attribute.String("pass.id", passID),
		attribute.String("pass.source", source),
	)
	logger := observability.ContextLogger(ctx, s.logger)

	observability.PassesInFlight.Inc()
	defer observability.PassesInFlight.Dec()

	report := &api.PassReport{
		PassID:    passID,
		Source:    source,
		StartedAt: time.Now().UTC(),
	}

	configs, rejected, err := s.loadConfigs(ctx)
	if err != nil {
		err = fmt.Errorf("failed to load circle configuration: %w", err)
		observability.PassesTotal.WithLabelValues(source, "failure").Inc()
		s.recordEvent(ctx, observability.NewPassFailedEvent(passID, source, err))
		logger.Error("Pass could not start", zap.Error(err))
		observability.EndSpan(span, err)
		return nil, err
	}

	total := len(configs) + len(rejected)
	s.recordEvent(ctx, observability.NewPassStartedEvent(passID, source, total))
	logger.Info("Starting pass",
		zap.String("source", source),
		zap.Int("circles", total),
		zap.Bool("sequential", s.config.Sequential),
	)

	var outcomes []api.CircleOutcome
	if s.config.Sequential {
		outcomes = s.config.Runner.RunSequential(ctx, configs)
	} else {
		outcomes = s.config.Runner.RunPass(ctx, configs)
	}
	report.Outcomes = mergeOutcomes(outcomes, rejected)
	report.FinishedAt = time.Now().UTC()

	duration := report.FinishedAt.Sub(report.StartedAt)
	failed := report.Failures()
	provisioned := report.Provisioned()

	observability.PassesTotal.WithLabelValues(source, "success").Inc()
	observability.PassDurationSeconds.WithLabelValues(source).Observe(duration.Seconds())
	observability.PassCirclesFailed.Set(float64(failed))
	observability.LastPassTimestamp.Set(float64(report.FinishedAt.Unix()))
	s.recordEvent(ctx, observability.NewPassCompletedEvent(passID, len(report.Outcomes), failed, provisioned, duration))

	logger.Info("Pass completed",
		zap.Int("circles", len(report.Outcomes)),
		zap.Int("failed", failed),
		zap.Int("provisioned", provisioned),
		zap.Duration("duration", duration),
	)

	span.SetAttributes(
		attribute.Int("pass.circles", len(report.Outcomes)),
		attribute.Int("pass.failed", failed),
		attribute.Int("pass.provisioned", provisioned),
	)
	observability.EndSpan(span, nil)

	s.last.Store(report)
	return report, nil
}

// rejectedCircle is a circle whose configuration could not be resolved,
// kept at its position in the store's order
type rejectedCircle struct {
	index   int
	outcome api.CircleOutcome
}

// loadConfigs reads every circle config. Circles with a broken configuration
// become failed outcomes; an unreadable store fails the whole pass.
func (s *Service) loadConfigs(ctx context.Context) ([]api.CircleConfig, []rejectedCircle, error) {
	ids, err := s.config.Store.ListCircleIDs(ctx)
	if err != nil {
		return nil, nil, err
	}

	configs := make([]api.CircleConfig, 0, len(ids))
	var rejected []rejectedCircle
	for i, id := range ids {
		cfg, err := s.config.Store.GetCircleConfig(ctx, id)
		if err != nil {
			if !circles.IsInvalidError(err) && !circles.IsNotFoundError(err) {
				return nil, nil, err
			}
			outcome := api.CircleOutcome{CircleID: id, Probed: []api.CapacityReading{}}
			outcome.Fail(&ConfigError{CircleID: id, Err: err}, KindConfig)
			rejected = append(rejected, rejectedCircle{index: i, outcome: outcome})
			observability.CircleEvaluationsTotal.WithLabelValues(id, "error").Inc()
			s.logger.Warn("Skipping circle with invalid configuration",
				zap.String("circle", id),
				zap.Error(err),
			)
			continue
		}
		configs = append(configs, cfg)
	}
	return configs, rejected, nil
}

// mergeOutcomes puts rejected circles back at their original positions
func mergeOutcomes(outcomes []api.CircleOutcome, rejected []rejectedCircle) []api.CircleOutcome {
	if len(rejected) == 0 {
		return outcomes
	}

	merged := make([]api.CircleOutcome, 0, len(outcomes)+len(rejected))
	next := 0
	for _, r := range rejected {
		for len(merged) < r.index && next < len(outcomes) {
			merged = append(merged, outcomes[next])
			next++
		}
		merged = append(merged, r.outcome)
	}
	return append(merged, outcomes[next:]...)
}

func (s *Service) recordEvent(ctx context.Context, event observability.Event) {
	if s.config.Events != nil {
		s.config.Events.RecordEvent(ctx, event)
	}
}
