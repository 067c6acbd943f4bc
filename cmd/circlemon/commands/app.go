package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/cmd/circlemon/config"
	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/circles"
	"github.com/circlemon/circlemon/pkg/devops"
	"github.com/circlemon/circlemon/pkg/monitor"
	"github.com/circlemon/circlemon/pkg/observability"
)

// app holds the components shared by the commands that run passes
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	tracer  *observability.TracerProvider
	store   *circles.FileStore
	events  *observability.EventStream
	service *monitor.Service
}

// addRunFlags registers the flags every pass-running command accepts
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Int("max-concurrency", 0, "Maximum circles evaluated at once (0 = one worker per circle)")
	cmd.Flags().Duration("probe-timeout", 30*time.Second, "Timeout of a single pool probe")
	cmd.Flags().Duration("trigger-timeout", 60*time.Second, "Timeout of a provisioning request")
	cmd.Flags().Duration("http-timeout", 30*time.Second, "Timeout of a control plane HTTP request")
	cmd.Flags().String("az-binary", "az", "Path of the az CLI used to list lab VMs")
}

// newApp loads configuration and wires the pass service
func newApp(cmd *cobra.Command, version string, sequential bool) (*app, error) {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	tracer, err := observability.NewTracerProvider(cfg.TracerConfig(version), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	store, err := circles.NewFileStore(cfg.CirclesFile, logger)
	if err != nil {
		tracer.Shutdown(context.Background())
		return nil, err
	}

	events := observability.NewEventStream(observability.EventStreamConfig{
		MaxSize:   cfg.Events.MaxSize,
		Retention: cfg.Events.Retention,
	}, logger)

	runner, err := monitor.NewRunner(monitor.RunnerConfig{
		Provider:       controlPlaneProvider(store, cfg, logger),
		MaxConcurrency: cfg.MaxConcurrency,
		ProbeTimeout:   cfg.ProbeTimeout,
		TriggerTimeout: cfg.TriggerTimeout,
		OnTransition: func(circleID string, from, to monitor.State) {
			logger.Debug("Circle state changed",
				zap.String("circle_id", circleID),
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		},
		Events: events,
		Logger: logger,
	})
	if err != nil {
		tracer.Shutdown(context.Background())
		return nil, err
	}

	service, err := monitor.NewService(monitor.ServiceConfig{
		Store:      store,
		Runner:     runner,
		Sequential: sequential,
		Events:     events,
		Logger:     logger,
	})
	if err != nil {
		tracer.Shutdown(context.Background())
		return nil, err
	}

	return &app{
		cfg:     cfg,
		logger:  logger,
		tracer:  tracer,
		store:   store,
		events:  events,
		service: service,
	}, nil
}

// close flushes spans and logs
func (a *app) close(ctx context.Context) {
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("Failed to shutdown tracer provider", zap.Error(err))
	}
	a.logger.Sync()
}

// controlPlaneAPIs replaces the Azure DevOps SDK clients for a PAT; nil
// connects to the organization URL
var controlPlaneAPIs func(token string) *devops.APIs

// controlPlaneProvider builds control planes from the organization settings
// of the current circles document, so a reload applies to the next pass.
func controlPlaneProvider(store *circles.FileStore, cfg *config.Config, logger *zap.Logger) monitor.ControlPlaneProvider {
	az := devops.NewAzCLI(cfg.AzBinary, nil, logger)

	return monitor.ProviderFunc(func(identity api.Identity) (monitor.ControlPlane, error) {
		common := store.Common()
		provider := devops.NewProvider(devops.ProviderConfig{
			BaseURL:    common.OrganizationURL(),
			ReleaseURL: common.ReleaseURL,
			Project:    common.Project,
			Timeout:    cfg.HTTPTimeout,
			APIs:       controlPlaneAPIs,
			AzCLI:      az,
			Logger:     logger,
		})

		cp, err := provider.ForIdentity(identity)
		if err != nil {
			return nil, err
		}
		return cp, nil
	})
}

func outputter(cmd *cobra.Command) *config.Outputter {
	format, _ := cmd.Flags().GetString("output")
	if format == "" {
		format = string(config.OutputTable)
	}
	return config.NewOutputterTo(format, cmd.OutOrStdout())
}
