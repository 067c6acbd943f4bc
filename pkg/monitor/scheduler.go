package monitor

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SchedulerConfig configures the fixed-interval pass scheduler
type SchedulerConfig struct {
	// Interval between two scheduled passes
	Interval time.Duration

	// RunOnStart runs a pass as soon as the scheduler starts
	RunOnStart bool

	// PastDueTolerance is how late a tick may be handled before it is reported as past due
	PastDueTolerance time.Duration

	// Logger for structured logging
	Logger *zap.Logger
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig(logger *zap.Logger) SchedulerConfig {
	return SchedulerConfig{
		Interval:         5 * time.Minute,
		RunOnStart:       true,
		PastDueTolerance: time.Second,
		Logger:           logger,
	}
}

// Scheduler runs passes on a fixed interval
type Scheduler struct {
	config SchedulerConfig
	logger *zap.Logger
	passes PassRunner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler driving passes
func NewScheduler(config SchedulerConfig, passes PassRunner) (*Scheduler, error) {
	if passes == nil {
		return nil, errors.New("pass runner is required")
	}
	if config.Interval <= 0 {
		return nil, errors.New("interval must be positive")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.PastDueTolerance <= 0 {
		config.PastDueTolerance = time.Second
	}

	return &Scheduler{
		config: config,
		logger: config.Logger,
		passes: passes,
	}, nil
}

// Start starts the scheduling loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.logger.Info("Starting pass scheduler",
		zap.Duration("interval", s.config.Interval),
		zap.Bool("run_on_start", s.config.RunOnStart),
	)

	s.wg.Add(1)
	go s.loop()

	return nil
}

// Stop stops the loop and waits for a running pass to return
func (s *Scheduler) Stop() error {
	s.logger.Info("Stopping pass scheduler")

	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.logger.Info("Pass scheduler stopped")
	return nil
}

func (s *Scheduler) loop() {
	defer s.wg.Done()

	if s.config.RunOnStart {
		s.runPass()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Pass scheduler loop stopping")
			return
		case tick := <-ticker.C:
			if late := time.Since(tick); late > s.config.PastDueTolerance {
				s.logger.Info("The timer is past due",
					zap.Duration("late_by", late),
				)
			}
			s.runPass()
		}
	}
}

func (s *Scheduler) runPass() {
	report, err := s.passes.RunPass(s.ctx, SourceSchedule)
	if err != nil {
		s.logger.Error("Scheduled pass failed", zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled pass finished",
		zap.String("pass_id", report.PassID),
		zap.Int("failed", report.Failures()),
	)
}
