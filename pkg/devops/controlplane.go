package devops

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
)

// ControlPlane routes pool and run requests to the REST API or the az CLI
// depending on the resource kind
type ControlPlane struct {
	rest *Client
	az   *AzCLI
}

// NewControlPlane combines a REST client and an az CLI wrapper
func NewControlPlane(rest *Client, az *AzCLI) *ControlPlane {
	return &ControlPlane{rest: rest, az: az}
}

// ListPoolMembers lists the normalized members of pool
func (cp *ControlPlane) ListPoolMembers(ctx context.Context, pool api.PoolRef) ([]api.PoolMember, error) {
	switch pool.Kind {
	case api.KindDeploymentGroup:
		return cp.rest.ListDeploymentTargets(ctx, pool.ID)
	case api.KindAgentPool:
		return cp.rest.ListPoolAgents(ctx, pool.ID)
	case api.KindLab:
		if cp.az == nil {
			return nil, fmt.Errorf("lab pool %s: az CLI is not configured", pool.ID)
		}
		return cp.az.ListLabVMs(ctx, pool.ID, pool.ResourceGroup)
	default:
		return nil, fmt.Errorf("pool %s: unsupported resource kind %q", pool.ID, pool.Kind)
	}
}

// StartRun starts one provisioning run
func (cp *ControlPlane) StartRun(ctx context.Context, target api.ProvisionTarget, params map[string]string) (api.RunResult, error) {
	switch target.Kind {
	case api.ProvisionPipeline:
		return cp.rest.RunPipeline(ctx, target.ID, params)
	case api.ProvisionRelease:
		return cp.rest.CreateRelease(ctx, target.ID, params)
	default:
		return api.RunResult{}, fmt.Errorf("unsupported provision kind %q", target.Kind)
	}
}

// ProviderConfig configures a Provider
type ProviderConfig struct {
	BaseURL    string
	ReleaseURL string
	Project    string
	Timeout    time.Duration

	// LookupEnv resolves secret environment variables, os.LookupEnv by default
	LookupEnv func(string) (string, bool)

	// APIs replaces the SDK clients for a PAT; nil connects to BaseURL
	APIs func(token string) *APIs

	AzCLI  *AzCLI
	Logger *zap.Logger
}

// Provider builds a ControlPlane for a circle identity
type Provider struct {
	cfg ProviderConfig
}

// NewProvider creates a provider
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.LookupEnv == nil {
		cfg.LookupEnv = os.LookupEnv
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Provider{cfg: cfg}
}

// ForIdentity returns a control plane authenticated as identity. The PAT is
// read from the environment variable the identity names.
func (p *Provider) ForIdentity(identity api.Identity) (*ControlPlane, error) {
	token, ok := p.cfg.LookupEnv(identity.SecretEnv)
	if !ok || token == "" {
		return nil, fmt.Errorf("%w: environment variable %s is not set", ErrMissingCredentials, identity.SecretEnv)
	}

	var apis *APIs
	if p.cfg.APIs != nil {
		apis = p.cfg.APIs(token)
	}

	rest, err := NewClient(ClientConfig{
		BaseURL:    p.cfg.BaseURL,
		ReleaseURL: p.cfg.ReleaseURL,
		Project:    p.cfg.Project,
		UserName:   identity.UserName,
		Token:      token,
		Timeout:    p.cfg.Timeout,
		APIs:       apis,
		Logger:     p.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	return NewControlPlane(rest, p.cfg.AzCLI), nil
}
