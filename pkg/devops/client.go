package devops

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/pipelines"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/release"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/observability"
)

// TaskAgentAPI is the part of the SDK task agent client the monitor uses
type TaskAgentAPI interface {
	GetDeploymentTargets(ctx context.Context, args taskagent.GetDeploymentTargetsArgs) (*taskagent.GetDeploymentTargetsResponseValue, error)
	GetAgents(ctx context.Context, args taskagent.GetAgentsArgs) (*[]taskagent.TaskAgent, error)
}

// PipelinesAPI is the part of the SDK pipelines client the monitor uses
type PipelinesAPI interface {
	RunPipeline(ctx context.Context, args pipelines.RunPipelineArgs) (*pipelines.Run, error)
}

// ReleaseAPI is the part of the SDK release client the monitor uses
type ReleaseAPI interface {
	CreateRelease(ctx context.Context, args release.CreateReleaseArgs) (*release.Release, error)
}

// APIs groups the SDK clients a Client calls
type APIs struct {
	TaskAgent TaskAgentAPI
	Pipelines PipelinesAPI
	Releases  ReleaseAPI
}

// ClientConfig configures an Azure DevOps client
type ClientConfig struct {
	// BaseURL is the organization URL, e.g. https://dev.azure.com/contoso
	BaseURL string

	// ReleaseURL is the release management URL, e.g. https://vsrm.dev.azure.com/contoso.
	// Derived from BaseURL when empty.
	ReleaseURL string

	Project  string
	UserName string
	Token    string

	// Timeout bounds every request made by the client
	Timeout time.Duration

	// Transport overrides the base HTTP transport
	Transport http.RoundTripper

	// APIs replaces the SDK clients built from the PAT connection
	APIs *APIs

	Logger *zap.Logger
}

// Client talks to Azure DevOps through the SDK with a PAT connection and
// maps every reply onto the monitor's types
type Client struct {
	project  string
	userName string
	apis     APIs
	logger   *zap.Logger
}

// NewClient creates a new client
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("project is required")
	}
	if cfg.Token == "" && cfg.APIs == nil {
		return nil, ErrMissingCredentials
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}

	apis := cfg.APIs
	if apis == nil {
		apis = connect(cfg)
	}

	return &Client{
		project:  cfg.Project,
		userName: cfg.UserName,
		apis:     *apis,
		logger:   cfg.Logger,
	}, nil
}

// connect builds the SDK clients on a PAT connection. The clients are bound
// to fixed URLs so the release client needs no resource area lookup.
func connect(cfg ClientConfig) *APIs {
	base := strings.TrimRight(cfg.BaseURL, "/")
	releaseURL := strings.TrimRight(cfg.ReleaseURL, "/")
	if releaseURL == "" {
		releaseURL = deriveReleaseURL(base)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	httpClient := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: otelhttp.NewTransport(correlationTransport{next: transport}),
	}

	conn := azuredevops.NewPatConnection(base, cfg.Token)
	sdkClient := func(u string) azuredevops.Client {
		return *azuredevops.NewClientWithOptions(conn, u, azuredevops.WithHTTPClient(httpClient))
	}

	return &APIs{
		TaskAgent: &taskagent.ClientImpl{Client: sdkClient(base)},
		Pipelines: &pipelines.ClientImpl{Client: sdkClient(base)},
		Releases:  &release.ClientImpl{Client: sdkClient(releaseURL)},
	}
}

// correlationTransport copies the request and pass ids onto outgoing requests
type correlationTransport struct {
	next http.RoundTripper
}

func (t correlationTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	observability.InjectHeaders(req.Context(), req)
	return t.next.RoundTrip(req)
}

// deriveReleaseURL maps https://dev.azure.com/org to https://vsrm.dev.azure.com/org
func deriveReleaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host != "dev.azure.com" {
		return base
	}
	u.Host = "vsrm.dev.azure.com"
	return u.String()
}

// ListDeploymentTargets lists the targets registered in a deployment group,
// following continuation tokens until the group is exhausted
func (c *Client) ListDeploymentTargets(ctx context.Context, deploymentGroupID string) ([]api.PoolMember, error) {
	const operation = "list_deployment_targets"

	groupID, err := strconv.Atoi(deploymentGroupID)
	if err != nil {
		return nil, fmt.Errorf("%s: deployment group id %q is not numeric", operation, deploymentGroupID)
	}

	var members []api.PoolMember
	var continuation *string
	for {
		args := taskagent.GetDeploymentTargetsArgs{
			Project:           &c.project,
			DeploymentGroupId: &groupID,
			ContinuationToken: continuation,
		}

		var page *taskagent.GetDeploymentTargetsResponseValue
		err := c.call(operation, func() (err error) {
			page, err = c.apis.TaskAgent.GetDeploymentTargets(ctx, args)
			return err
		})
		if err != nil {
			return nil, err
		}
		if page == nil {
			return nil, &DecodeError{Operation: operation, Err: errors.New("empty reply")}
		}

		for _, t := range page.Value {
			members = append(members, normalizeTarget(t))
		}
		if page.ContinuationToken == "" {
			break
		}
		token := page.ContinuationToken
		continuation = &token
	}

	if members == nil {
		members = []api.PoolMember{}
	}
	return members, nil
}

// ListPoolAgents lists the agents of an organization agent pool
func (c *Client) ListPoolAgents(ctx context.Context, poolID string) ([]api.PoolMember, error) {
	const operation = "list_pool_agents"

	id, err := strconv.Atoi(poolID)
	if err != nil {
		return nil, fmt.Errorf("%s: pool id %q is not numeric", operation, poolID)
	}

	var agents *[]taskagent.TaskAgent
	err = c.call(operation, func() (err error) {
		agents, err = c.apis.TaskAgent.GetAgents(ctx, taskagent.GetAgentsArgs{PoolId: &id})
		return err
	})
	if err != nil {
		return nil, err
	}
	if agents == nil {
		return nil, &DecodeError{Operation: operation, Err: errors.New("empty reply")}
	}

	members := make([]api.PoolMember, 0, len(*agents))
	for _, a := range *agents {
		members = append(members, normalizeAgent(a))
	}
	return members, nil
}

// RunPipeline queues a run of a YAML pipeline with the given variables
func (c *Client) RunPipeline(ctx context.Context, pipelineID int, params map[string]string) (api.RunResult, error) {
	const operation = "run_pipeline"

	variables := make(map[string]pipelines.Variable, len(params))
	for k, v := range params {
		value, secret := v, false
		variables[k] = pipelines.Variable{Value: &value, IsSecret: &secret}
	}

	var run *pipelines.Run
	err := c.call(operation, func() (err error) {
		run, err = c.apis.Pipelines.RunPipeline(ctx, pipelines.RunPipelineArgs{
			Project:       &c.project,
			PipelineId:    &pipelineID,
			RunParameters: &pipelines.RunPipelineParameters{Variables: &variables},
		})
		return err
	})
	if err != nil {
		return api.RunResult{}, err
	}

	result, ok := normalizeRun(run)
	if !ok {
		return api.RunResult{}, &DecodeError{Operation: operation, Err: errors.New("reply carries no run id")}
	}
	return result, nil
}

// CreateRelease creates a release from a release definition
func (c *Client) CreateRelease(ctx context.Context, definitionID int, params map[string]string) (api.RunResult, error) {
	const operation = "create_release"

	variables := make(map[string]release.ConfigurationVariableValue, len(params))
	for k, v := range params {
		value := v
		variables[k] = release.ConfigurationVariableValue{Value: &value}
	}
	description := fmt.Sprintf("circlemon provisioning for %s", params["app_name"])

	var rel *release.Release
	err := c.call(operation, func() (err error) {
		rel, err = c.apis.Releases.CreateRelease(ctx, release.CreateReleaseArgs{
			Project: &c.project,
			ReleaseStartMetadata: &release.ReleaseStartMetadata{
				DefinitionId: &definitionID,
				Description:  &description,
				Variables:    &variables,
			},
		})
		return err
	})
	if err != nil {
		return api.RunResult{}, err
	}

	result, ok := normalizeRelease(rel)
	if !ok {
		return api.RunResult{}, &DecodeError{Operation: operation, Err: errors.New("reply carries no release id")}
	}
	return result, nil
}

// call runs one SDK request, records its metrics and maps SDK failures onto
// APIError
func (c *Client) call(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start)
	observability.ControlPlaneRequestDurationSeconds.WithLabelValues(operation).Observe(duration.Seconds())

	label := strconv.Itoa(http.StatusOK)
	if err != nil {
		err = wrapSDKError(operation, err)
		label = "error"
		if code := StatusCode(err); code != 0 {
			label = strconv.Itoa(code)
		}
	}
	observability.ControlPlaneRequestsTotal.WithLabelValues(operation, label).Inc()

	c.logger.Debug("Control plane request completed",
		zap.String("operation", operation),
		zap.String("user", c.userName),
		zap.String("status", label),
		zap.Duration("duration", duration),
	)

	return err
}
