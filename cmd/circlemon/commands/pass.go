package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/circlemon/circlemon/pkg/monitor"
)

// NewPassCommand creates the pass command
func NewPassCommand(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pass",
		Short: "Run one monitoring pass",
		Long: `Run one monitoring pass over every circle in the circles file and print the
per-pool availability. Circles below their minimum get a provisioning run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPass(cmd, version)
		},
	}

	addRunFlags(cmd)
	cmd.Flags().Bool("sequential", false, "Evaluate circles one at a time")
	cmd.Flags().Bool("fail-on-error", false, "Exit non-zero when any circle failed")

	return cmd
}

func runPass(cmd *cobra.Command, version string) error {
	sequential, _ := cmd.Flags().GetBool("sequential")
	failOnError, _ := cmd.Flags().GetBool("fail-on-error")

	a, err := newApp(cmd, version, sequential)
	if err != nil {
		return err
	}
	defer a.close(context.Background())

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	report, err := a.service.RunPass(ctx, monitor.SourceCLI)
	if err != nil {
		return err
	}

	if err := outputter(cmd).PrintReport(report); err != nil {
		return fmt.Errorf("failed to print report: %w", err)
	}

	if failOnError && report.Failures() > 0 {
		return fmt.Errorf("%d of %d circles failed", report.Failures(), len(report.Outcomes))
	}
	return nil
}
