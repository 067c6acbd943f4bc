package devops

import (
	"context"
	"errors"
	"testing"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/pipelines"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/release"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/circlemon/circlemon/pkg/api"
)

func TestProvider_ForIdentity(t *testing.T) {
	env := map[string]string{"AZ_PAT": "secret"}
	provider := NewProvider(ProviderConfig{
		BaseURL: "https://dev.azure.com/contoso",
		Project: "delivery",
		LookupEnv: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	})

	cp, err := provider.ForIdentity(api.Identity{UserName: "ops", SecretEnv: "AZ_PAT"})
	require.NoError(t, err)
	assert.NotNil(t, cp)

	_, err = provider.ForIdentity(api.Identity{UserName: "ops", SecretEnv: "OTHER_PAT"})
	assert.True(t, errors.Is(err, ErrMissingCredentials))
}

func TestProvider_ForIdentityUsesToken(t *testing.T) {
	var tokens []string
	fake := &fakeAzureDevOps{}
	provider := NewProvider(ProviderConfig{
		BaseURL:   "https://dev.azure.com/contoso",
		Project:   "delivery",
		LookupEnv: func(string) (string, bool) { return "alpha-pat", true },
		APIs: func(token string) *APIs {
			tokens = append(tokens, token)
			return fake.apis()
		},
	})

	cp, err := provider.ForIdentity(api.Identity{UserName: "ops", SecretEnv: "AZ_PAT"})
	require.NoError(t, err)
	_, err = cp.ListPoolMembers(context.Background(), api.PoolRef{ID: "5", Kind: api.KindAgentPool})
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha-pat"}, tokens)
	assert.Len(t, fake.agentArgs, 1)
}

func TestControlPlane_Routing(t *testing.T) {
	fake := &fakeAzureDevOps{
		run:     &pipelines.Run{Id: ptr(9)},
		release: &release.Release{Id: ptr(10)},
	}
	rest, err := NewClient(ClientConfig{BaseURL: "https://dev.azure.com/contoso", Project: "p", APIs: fake.apis()})
	require.NoError(t, err)

	labCalls := 0
	az := NewAzCLI("", func(ctx context.Context, name string, args ...string) ([]byte, error) {
		labCalls++
		return []byte(`[]`), nil
	}, nil)

	cp := NewControlPlane(rest, az)
	ctx := context.Background()

	_, err = cp.ListPoolMembers(ctx, api.PoolRef{ID: "1", Kind: api.KindDeploymentGroup})
	require.NoError(t, err)
	_, err = cp.ListPoolMembers(ctx, api.PoolRef{ID: "2", Kind: api.KindAgentPool})
	require.NoError(t, err)
	_, err = cp.ListPoolMembers(ctx, api.PoolRef{ID: "dtl-a-dev", Kind: api.KindLab, ResourceGroup: "rg"})
	require.NoError(t, err)
	_, err = cp.ListPoolMembers(ctx, api.PoolRef{ID: "3", Kind: "mainframe"})
	assert.Error(t, err)

	run, err := cp.StartRun(ctx, api.ProvisionTarget{Kind: api.ProvisionPipeline, ID: 21}, nil)
	require.NoError(t, err)
	assert.Equal(t, "9", run.RunID)
	rel, err := cp.StartRun(ctx, api.ProvisionTarget{Kind: api.ProvisionRelease, ID: 7}, nil)
	require.NoError(t, err)
	assert.Equal(t, "10", rel.RunID)
	_, err = cp.StartRun(ctx, api.ProvisionTarget{}, nil)
	assert.Error(t, err)

	require.Len(t, fake.targetArgs, 1)
	assert.Equal(t, 1, *fake.targetArgs[0].DeploymentGroupId)
	require.Len(t, fake.agentArgs, 1)
	assert.Equal(t, 2, *fake.agentArgs[0].PoolId)
	require.Len(t, fake.runArgs, 1)
	assert.Equal(t, 21, *fake.runArgs[0].PipelineId)
	require.Len(t, fake.releaseArgs, 1)
	assert.Equal(t, 7, *fake.releaseArgs[0].ReleaseStartMetadata.DefinitionId)
	assert.Equal(t, 1, labCalls)
}

func TestControlPlane_LabWithoutCLI(t *testing.T) {
	cp := NewControlPlane(nil, nil)
	_, err := cp.ListPoolMembers(context.Background(), api.PoolRef{ID: "dtl", Kind: api.KindLab})
	assert.Error(t, err)
}
