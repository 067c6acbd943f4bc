package commands

import (
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// TestNewVersionCommand tests version command creation.
func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("v0.1.0", "2026-10-01T00:00:00Z", "abc123def456")

	if cmd.Use != "version" {
		t.Errorf("Use = %q, want %q", cmd.Use, "version")
	}
	if cmd.Short == "" {
		t.Error("Short description should not be empty")
	}
	if cmd.Run == nil {
		t.Error("Run function should not be nil")
	}
}

// TestVersionCommand_Output tests version command output.
func TestVersionCommand_Output(t *testing.T) {
	tests := []struct {
		name      string
		version   string
		buildTime string
		gitCommit string
	}{
		{"standard version", "v1.0.0", "2026-10-01T12:00:00Z", "abc123def456"},
		{"dev version", "dev", "unknown", "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, stdout, _ := newTestRoot(t, NewVersionCommand(tt.version, tt.buildTime, tt.gitCommit), "version")
			if err := root.Execute(); err != nil {
				t.Fatalf("Execute() error = %v", err)
			}

			out := stdout.String()
			for _, want := range []string{"circlemon version " + tt.version, "Build time: " + tt.buildTime, "Git commit: " + tt.gitCommit} {
				if !strings.Contains(out, want) {
					t.Errorf("output %q missing %q", out, want)
				}
			}
		})
	}
}

// TestVersionCommand_RejectsArgs tests that version takes no arguments.
func TestVersionCommand_RejectsArgs(t *testing.T) {
	root := &cobra.Command{Use: "circlemon", SilenceUsage: true, SilenceErrors: true}
	root.AddCommand(NewVersionCommand("v1.0.0", "2026-10-01", "abc123"))
	root.SetArgs([]string{"version", "extra"})

	if err := root.Execute(); err == nil {
		t.Error("Execute() with extra args should fail")
	}
}
