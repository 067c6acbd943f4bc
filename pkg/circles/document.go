package circles

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/circlemon/circlemon/pkg/api"
)

// DefaultSecretEnv is the environment variable holding the PAT when a circle
// does not name its own
const DefaultSecretEnv = "AZ_PAT"

// CommonVars holds the organization-wide settings shared by every circle
type CommonVars struct {
	URL            string `yaml:"url"`
	ReleaseURL     string `yaml:"release_url"`
	Org            string `yaml:"org"`
	Project        string `yaml:"project"`
	SubscriptionID string `yaml:"subscription_id"`
}

// OrganizationURL returns the REST base URL, derived from the organization
// name when no explicit url is set
func (c CommonVars) OrganizationURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	if c.Org != "" {
		return "https://dev.azure.com/" + c.Org
	}
	return ""
}

// CircleVars is the raw per-circle section of the document. Field names follow
// the document keys, including the historical "minimun" spelling.
type CircleVars struct {
	UserName              string    `yaml:"user_name"`
	PATEnv                string    `yaml:"pat_env"`
	MinimunAvailableCount int       `yaml:"minimun_available_count"`
	OSType                []string  `yaml:"os_type"`
	ResourceKind          string    `yaml:"resource_kind"`
	DeploymentGroupIDs    []int     `yaml:"dg_id_list"`
	AgentPoolIDs          yaml.Node `yaml:"ap_id_list"`
	StageList             []string  `yaml:"stage_list"`
	LabResourceGroup      string    `yaml:"rg_dtl_name"`
	ProvisionPipelineID   int       `yaml:"provision_pipeline_id"`
	ProvisionReleaseID    int       `yaml:"provision_release_id"`
}

// Document is the parsed circles_params.yaml
type Document struct {
	Common  CommonVars            `yaml:"common_var"`
	Circles map[string]CircleVars `yaml:"circle_var"`

	// order keeps circle ids as they appear in the file
	order []string
}

// Parse decodes a circles document, keeping circle order
func Parse(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("failed to parse circles document: %w", err)
	}

	doc := &Document{}
	if err := root.Decode(doc); err != nil {
		return nil, fmt.Errorf("failed to decode circles document: %w", err)
	}
	if doc.Circles == nil {
		doc.Circles = make(map[string]CircleVars)
	}

	doc.order = mappingKeys(lookup(&root, "circle_var"))
	return doc, nil
}

// CircleIDs returns the circle ids in document order
func (d *Document) CircleIDs() []string {
	ids := make([]string, len(d.order))
	copy(ids, d.order)
	return ids
}

// Resolve turns the raw section of circle id into a CircleConfig
func (d *Document) Resolve(id string) (api.CircleConfig, error) {
	vars, ok := d.Circles[id]
	if !ok {
		return api.CircleConfig{}, &NotFoundError{CircleID: id}
	}
	return resolve(id, vars)
}

func resolve(id string, vars CircleVars) (api.CircleConfig, error) {
	if vars.MinimunAvailableCount < 0 {
		return api.CircleConfig{}, &InvalidError{CircleID: id, Reason: "minimun_available_count must not be negative"}
	}

	// The configured minimum is per OS type; the effective threshold covers all of them
	osTypes := len(vars.OSType)
	if osTypes == 0 {
		osTypes = 1
	}

	cfg := api.CircleConfig{
		CircleID: id,
		Identity: api.Identity{
			UserName:  vars.UserName,
			SecretEnv: vars.PATEnv,
		},
		MinimumAvailableCount: vars.MinimunAvailableCount * osTypes,
		VMCount:               vars.MinimunAvailableCount,
		OSTypes:               vars.OSType,
	}
	if cfg.Identity.SecretEnv == "" {
		cfg.Identity.SecretEnv = DefaultSecretEnv
	}

	switch {
	case vars.ProvisionPipelineID > 0:
		cfg.Provision = api.ProvisionTarget{Kind: api.ProvisionPipeline, ID: vars.ProvisionPipelineID}
	case vars.ProvisionReleaseID > 0:
		cfg.Provision = api.ProvisionTarget{Kind: api.ProvisionRelease, ID: vars.ProvisionReleaseID}
	}

	kind := api.ResourceKind(vars.ResourceKind)
	if kind == "" {
		kind = inferKind(vars)
	}

	switch kind {
	case api.KindDeploymentGroup:
		for _, dg := range vars.DeploymentGroupIDs {
			cfg.Pools = append(cfg.Pools, api.PoolRef{ID: fmt.Sprintf("%d", dg), Kind: kind})
		}
	case api.KindAgentPool:
		pools, err := agentPools(&vars.AgentPoolIDs)
		if err != nil {
			return api.CircleConfig{}, &InvalidError{CircleID: id, Reason: err.Error()}
		}
		cfg.Pools = pools
	case api.KindLab:
		if vars.LabResourceGroup == "" && len(vars.StageList) > 0 {
			return api.CircleConfig{}, &InvalidError{CircleID: id, Reason: "rg_dtl_name is required for lab circles"}
		}
		for _, stage := range vars.StageList {
			cfg.Pools = append(cfg.Pools, api.PoolRef{
				ID:            LabName(id, stage),
				Kind:          kind,
				Stage:         stage,
				ResourceGroup: vars.LabResourceGroup,
			})
		}
	default:
		return api.CircleConfig{}, &InvalidError{CircleID: id, Reason: fmt.Sprintf("unknown resource_kind %q", vars.ResourceKind)}
	}

	return cfg, nil
}

// LabName derives the DevTest Lab name of a circle stage
func LabName(circle, stage string) string {
	return "dtl-" + strings.ToLower(circle) + "-" + strings.ToLower(stage)
}

// inferKind picks the resource kind from whichever pool list is present
func inferKind(vars CircleVars) api.ResourceKind {
	switch {
	case len(vars.DeploymentGroupIDs) > 0:
		return api.KindDeploymentGroup
	case vars.AgentPoolIDs.Kind != 0:
		return api.KindAgentPool
	case len(vars.StageList) > 0:
		return api.KindLab
	}
	return api.KindDeploymentGroup
}

// agentPools reads ap_id_list, either a mapping of env -> pool id or a plain list
func agentPools(node *yaml.Node) ([]api.PoolRef, error) {
	var pools []api.PoolRef
	switch node.Kind {
	case 0:
		return nil, nil
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			pools = append(pools, api.PoolRef{
				ID:    node.Content[i+1].Value,
				Kind:  api.KindAgentPool,
				Stage: node.Content[i].Value,
			})
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			pools = append(pools, api.PoolRef{ID: item.Value, Kind: api.KindAgentPool})
		}
	default:
		return nil, fmt.Errorf("ap_id_list must be a mapping or a list")
	}
	return pools, nil
}

// lookup finds the value node of key in the top-level mapping
func lookup(root *yaml.Node, key string) *yaml.Node {
	node := root
	if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
		node = node.Content[0]
	}
	if node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func mappingKeys(node *yaml.Node) []string {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	keys := make([]string, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		keys = append(keys, node.Content[i].Value)
	}
	return keys
}
