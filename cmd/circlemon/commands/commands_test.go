package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot mounts sub under a root carrying the global flags of circlemon
func newTestRoot(t *testing.T, sub *cobra.Command, args ...string) (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()

	root := &cobra.Command{Use: "circlemon", SilenceUsage: true, SilenceErrors: true}
	root.PersistentFlags().String("config", "", "config file")
	root.PersistentFlags().String("circles-file", "circles_params.yaml", "circles document")
	root.PersistentFlags().String("log-level", "error", "log level")
	root.PersistentFlags().StringP("output", "o", "table", "output format")
	root.AddCommand(sub)

	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetArgs(append(args, "--log-level", "error"))
	root.SetContext(context.Background())
	return root, &stdout, &stderr
}

func writeCircles(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "circles_params.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write circles file: %v", err)
	}
	return path
}
