package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/circlemon/circlemon/cmd/circlemon/config"
	"github.com/circlemon/circlemon/pkg/auth"
)

// NewTokenCommand creates the token command
func NewTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage trigger tokens",
		Long:  "Mint bearer tokens accepted by the on-demand pass endpoint of circlemon serve",
	}

	cmd.AddCommand(newTokenIssueCommand())

	return cmd
}

// newTokenIssueCommand creates the token issue command
func newTokenIssueCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a trigger token",
		Long:  "Issue a signed token allowing its subject to start passes over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenIssue(cmd)
		},
	}

	cmd.Flags().String("subject", "", "Who the token is issued to (required)")
	cmd.Flags().Duration("ttl", auth.DefaultTokenTTL, "Token lifetime")
	cmd.Flags().String("signing-key", "", "HMAC key shared with the server")
	cmd.MarkFlagRequired("subject")

	return cmd
}

func runTokenIssue(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cmd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.SigningKey == "" {
		return fmt.Errorf("a signing key is required (--signing-key or %s_AUTH_SIGNING_KEY)", config.EnvPrefix)
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.Auth.SigningKey))
	if err != nil {
		return err
	}

	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	issued, err := tokens.Issue(subject, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}

	out := outputter(cmd)
	if out.GetFormat() != config.OutputTable {
		return out.Print(issued)
	}

	out.PrintTable([]string{"ID", "Subject", "Scope", "Expires"}, [][]string{
		{issued.ID, issued.Subject, issued.Scope, issued.ExpiresAt.Format(time.RFC3339)},
	})
	fmt.Fprintln(cmd.OutOrStdout(), issued.Token)
	return nil
}
