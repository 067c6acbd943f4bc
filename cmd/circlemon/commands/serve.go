package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/auth"
	"github.com/circlemon/circlemon/pkg/monitor"
	"github.com/circlemon/circlemon/pkg/observability"
	"github.com/circlemon/circlemon/pkg/server"
)

// BuildInfo identifies the running binary
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// NewServeCommand creates the serve command
func NewServeCommand(info BuildInfo) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run passes on a schedule and serve the trigger API",
		Long: `Run a monitoring pass on a fixed interval and expose the on-demand trigger,
the last pass report, audit events, metrics and health probes over HTTP.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, info)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().String("listen-addr", "0.0.0.0:8080", "HTTP listen address")
	cmd.Flags().Duration("interval", 5*time.Minute, "Interval between scheduled passes")
	cmd.Flags().Bool("run-on-start", true, "Run a pass as soon as the scheduler starts")
	cmd.Flags().Bool("watch-circles", false, "Reload the circles file when it changes")
	cmd.Flags().String("signing-key", "", "HMAC key for trigger tokens (empty disables authentication)")
	cmd.Flags().Bool("tracing-enabled", false, "Export traces over OTLP")
	cmd.Flags().String("tracing-endpoint", "", "OTLP gRPC endpoint")

	return cmd
}

func runServe(cmd *cobra.Command, info BuildInfo) error {
	a, err := newApp(cmd, info.Version, false)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	logger := a.logger
	logger.Info("Starting circlemon",
		zap.String("version", info.Version),
		zap.String("build_time", info.BuildTime),
		zap.String("git_commit", info.GitCommit),
		zap.String("circles_file", a.cfg.CirclesFile),
		zap.Duration("interval", a.cfg.Interval),
	)
	observability.SystemInfo.WithLabelValues(info.Version, info.BuildTime, info.GitCommit).Set(1)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	var tokens *auth.TokenManager
	if a.cfg.Auth.SigningKey != "" {
		tokens, err = auth.NewTokenManager([]byte(a.cfg.Auth.SigningKey))
		if err != nil {
			return err
		}
	}

	var ready atomic.Bool
	srv, err := server.New(server.Config{
		Addr:   a.cfg.ListenAddr,
		Passes: a.service,
		Events: a.events,
		Tokens: tokens,
		Ready:  ready.Load,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	if err := srv.Start(); err != nil {
		return err
	}

	if a.cfg.WatchCircles {
		err := a.store.Watch(ctx, func() {
			a.events.RecordEvent(ctx, observability.NewCirclesReloadedEvent(a.store.Path(), a.store.Document().CircleIDs()))
		})
		if err != nil {
			logger.Warn("Circles file will not be reloaded", zap.Error(err))
		}
	}

	schedulerConfig := monitor.DefaultSchedulerConfig(logger)
	schedulerConfig.Interval = a.cfg.Interval
	schedulerConfig.RunOnStart = a.cfg.RunOnStart
	scheduler, err := monitor.NewScheduler(schedulerConfig, a.service)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	ready.Store(true)

	go reportUptime(ctx, time.Now())

	select {
	case <-sigChan:
		logger.Info("Received shutdown signal")
	case <-ctx.Done():
		logger.Info("Context cancelled")
	}

	logger.Info("Starting graceful shutdown...")
	ready.Store(false)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping trigger server", zap.Error(err))
	}
	cancel()
	if err := scheduler.Stop(); err != nil {
		logger.Error("Error stopping scheduler", zap.Error(err))
	}

	logger.Info("Shutdown complete")
	return nil
}

func reportUptime(ctx context.Context, started time.Time) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	uptime := observability.UptimeSeconds.WithLabelValues("circlemon")
	for {
		uptime.Set(time.Since(started).Seconds())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
