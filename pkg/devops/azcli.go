package devops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os/exec"
	"strings"

	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/observability"
)

// CommandRunner runs an external command and returns its standard output
type CommandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec, mapping failures to *CommandError
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.Bytes(), nil
	}

	cmdErr := &CommandError{
		Command:  name + " " + strings.Join(args, " "),
		ExitCode: -1,
		Stderr:   strings.TrimSpace(stderr.String()),
		Err:      err,
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		cmdErr.ExitCode = exitErr.ExitCode()
	}
	return nil, cmdErr
}

// AzCLI lists DevTest Lab VMs through the az command line. The CLI is
// expected to be logged in already.
type AzCLI struct {
	binary string
	run    CommandRunner
	logger *zap.Logger
}

// NewAzCLI creates an az CLI wrapper. An empty binary means "az" from PATH.
func NewAzCLI(binary string, run CommandRunner, logger *zap.Logger) *AzCLI {
	if binary == "" {
		binary = "az"
	}
	if run == nil {
		run = ExecRunner
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AzCLI{binary: binary, run: run, logger: logger}
}

// ListLabVMs lists every VM of a lab, claimed or not
func (a *AzCLI) ListLabVMs(ctx context.Context, labName, resourceGroup string) ([]api.PoolMember, error) {
	args := []string{
		"lab", "vm", "list",
		"--lab-name", labName,
		"--resource-group", resourceGroup,
		"--all",
		"--output", "json",
	}

	out, err := a.run(ctx, a.binary, args...)
	if err != nil {
		code := "error"
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.NotFound() {
			code = "not_found"
		}
		observability.ControlPlaneRequestsTotal.WithLabelValues("list_lab_vms", code).Inc()
		return nil, err
	}
	observability.ControlPlaneRequestsTotal.WithLabelValues("list_lab_vms", "ok").Inc()

	var vms []labVM
	if err := json.Unmarshal(out, &vms); err != nil {
		return nil, &DecodeError{Operation: "list_lab_vms", Err: err}
	}

	a.logger.Debug("Listed lab VMs",
		zap.String("lab", labName),
		zap.String("resource_group", resourceGroup),
		zap.Int("count", len(vms)),
	)

	members := make([]api.PoolMember, 0, len(vms))
	for _, vm := range vms {
		members = append(members, normalizeLabVM(vm))
	}
	return members, nil
}
