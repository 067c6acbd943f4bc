package commands

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/cmd/circlemon/config"
	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/circles"
)

// NewCirclesCommand creates the circles command
func NewCirclesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "circles",
		Short: "List configured circles",
		Long:  "Resolve every circle of the circles file and print its pools, threshold and provisioning target",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCircles(cmd)
		},
	}
}

func runCircles(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	store, err := circles.NewFileStore(cfg.CirclesFile, zap.NewNop())
	if err != nil {
		return err
	}

	doc := store.Document()
	configs := make([]api.CircleConfig, 0, len(doc.Circles))
	invalid := 0
	for _, id := range doc.CircleIDs() {
		resolved, err := doc.Resolve(id)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Skipping circle %s: %v\n", id, err)
			invalid++
			continue
		}
		configs = append(configs, resolved)
	}

	if err := outputter(cmd).PrintCircles(configs); err != nil {
		return fmt.Errorf("failed to print circles: %w", err)
	}
	if invalid > 0 {
		return fmt.Errorf("%d circles have invalid configuration", invalid)
	}
	return nil
}
