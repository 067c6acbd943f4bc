package devops

import (
	"context"
	"sync"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/pipelines"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/release"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"
)

// fakeAzureDevOps records SDK calls and replays canned replies
type fakeAzureDevOps struct {
	mu sync.Mutex

	targetPages []taskagent.GetDeploymentTargetsResponseValue
	agents      []taskagent.TaskAgent
	run         *pipelines.Run
	release     *release.Release
	err         error

	targetArgs  []taskagent.GetDeploymentTargetsArgs
	agentArgs   []taskagent.GetAgentsArgs
	runArgs     []pipelines.RunPipelineArgs
	releaseArgs []release.CreateReleaseArgs
}

func (f *fakeAzureDevOps) apis() *APIs {
	return &APIs{TaskAgent: f, Pipelines: f, Releases: f}
}

func (f *fakeAzureDevOps) GetDeploymentTargets(ctx context.Context, args taskagent.GetDeploymentTargetsArgs) (*taskagent.GetDeploymentTargetsResponseValue, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targetArgs = append(f.targetArgs, args)
	if f.err != nil {
		return nil, f.err
	}
	page := len(f.targetArgs) - 1
	if page >= len(f.targetPages) {
		return &taskagent.GetDeploymentTargetsResponseValue{}, nil
	}
	return &f.targetPages[page], nil
}

func (f *fakeAzureDevOps) GetAgents(ctx context.Context, args taskagent.GetAgentsArgs) (*[]taskagent.TaskAgent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agentArgs = append(f.agentArgs, args)
	if f.err != nil {
		return nil, f.err
	}
	agents := append([]taskagent.TaskAgent{}, f.agents...)
	return &agents, nil
}

func (f *fakeAzureDevOps) RunPipeline(ctx context.Context, args pipelines.RunPipelineArgs) (*pipelines.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runArgs = append(f.runArgs, args)
	if f.err != nil {
		return nil, f.err
	}
	return f.run, nil
}

func (f *fakeAzureDevOps) CreateRelease(ctx context.Context, args release.CreateReleaseArgs) (*release.Release, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releaseArgs = append(f.releaseArgs, args)
	if f.err != nil {
		return nil, f.err
	}
	return f.release, nil
}

func ptr[T any](v T) *T {
	return &v
}

func agentStatus(s string) *taskagent.TaskAgentStatus {
	status := taskagent.TaskAgentStatus(s)
	return &status
}
