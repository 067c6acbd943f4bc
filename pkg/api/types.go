package api

import (
	"time"
)

// ResourceKind identifies which control-plane collection backs a pool
type ResourceKind string

const (
	// KindDeploymentGroup is an Azure DevOps deployment group (targets carry tags and an agent status)
	KindDeploymentGroup ResourceKind = "deployment_group"

	// KindAgentPool is an Azure DevOps agent pool (agents carry an enabled flag and a status)
	KindAgentPool ResourceKind = "agent_pool"

	// KindLab is a DevTest Lab whose virtual machines are listed through the az CLI
	KindLab ResourceKind = "lab"
)

// Valid reports whether k is a known resource kind
func (k ResourceKind) Valid() bool {
	switch k {
	case KindDeploymentGroup, KindAgentPool, KindLab:
		return true
	}
	return false
}

// ProvisionKind selects the remote remediation API
type ProvisionKind string

const (
	ProvisionPipeline ProvisionKind = "pipeline"
	ProvisionRelease  ProvisionKind = "release"
)

// Availability markers carried by pool members
const (
	TagAvailable  = "available"
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Identity references the credentials a circle talks to the control plane with.
// The secret itself is never part of the configuration, only the name of the
// environment variable holding it.
type Identity struct {
	UserName  string `json:"user_name" yaml:"user_name"`
	SecretEnv string `json:"secret_env" yaml:"secret_env"`
}

// PoolRef addresses one pool of resources belonging to a circle
type PoolRef struct {
	ID            string       `json:"id" yaml:"id"`
	Kind          ResourceKind `json:"kind" yaml:"kind"`
	Stage         string       `json:"stage,omitempty" yaml:"stage,omitempty"`
	ResourceGroup string       `json:"resource_group,omitempty" yaml:"resource_group,omitempty"`
}

// ProvisionTarget is the remote pipeline or release definition that adds capacity
type ProvisionTarget struct {
	Kind ProvisionKind `json:"kind" yaml:"kind"`
	ID   int           `json:"id" yaml:"id"`
}

// CircleConfig is the immutable per-pass configuration of one circle
type CircleConfig struct {
	CircleID string   `json:"circle_id" yaml:"circle_id"`
	Identity Identity `json:"identity" yaml:"identity"`

	// Pools are probed in this order
	Pools []PoolRef `json:"pools" yaml:"pools"`

	// MinimumAvailableCount is the effective threshold a pool must reach
	MinimumAvailableCount int `json:"minimum_available_count" yaml:"minimum_available_count"`

	// VMCount is the number of machines a provisioning run is asked to create
	VMCount int `json:"vm_count" yaml:"vm_count"`

	OSTypes   []string        `json:"os_types,omitempty" yaml:"os_types,omitempty"`
	Provision ProvisionTarget `json:"provision" yaml:"provision"`
}

// PoolIDs returns the pool identifiers in probe order
func (c CircleConfig) PoolIDs() []string {
	ids := make([]string, len(c.Pools))
	for i, p := range c.Pools {
		ids[i] = p.ID
	}
	return ids
}

// PoolMember is the normalized shape of a deployment target, agent or lab VM
type PoolMember struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Tags   map[string]bool `json:"tags"`
	Status string          `json:"status"`
}

// HasTag reports whether the member carries tag
func (m PoolMember) HasTag(tag string) bool {
	return m.Tags[tag]
}

// Available reports whether the member is tagged available and online
func (m PoolMember) Available() bool {
	return m.HasTag(TagAvailable) && m.Status == StatusOnline
}

// CapacityReading is the result of probing one pool
type CapacityReading struct {
	PoolID         string `json:"pool_id" yaml:"pool_id"`
	Stage          string `json:"stage,omitempty" yaml:"stage,omitempty"`
	AvailableCount int    `json:"available_count" yaml:"available_count"`
	Total          int    `json:"total" yaml:"total"`
}

// SkippedPool records a pool whose probe failed transiently
type SkippedPool struct {
	PoolID string `json:"pool_id" yaml:"pool_id"`
	Reason string `json:"reason" yaml:"reason"`
}

// CircleOutcome is the result of evaluating one circle during a pass
type CircleOutcome struct {
	CircleID              string            `json:"circle_id" yaml:"circle_id"`
	MinimumAvailableCount int               `json:"minimum_available_count" yaml:"minimum_available_count"`
	Probed                []CapacityReading `json:"probed" yaml:"probed"`
	Skipped               []SkippedPool     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	NeedsProvision        bool              `json:"needs_provision" yaml:"needs_provision"`
	ProvisionTriggered    bool              `json:"provision_triggered" yaml:"provision_triggered"`
	RunID                 string            `json:"run_id,omitempty" yaml:"run_id,omitempty"`

	// Err is the error that ended or degraded the evaluation, if any
	Err       error  `json:"-" yaml:"-"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
	ErrorKind string `json:"error_kind,omitempty" yaml:"error_kind,omitempty"`

	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Fail records err on the outcome together with its serializable form
func (o *CircleOutcome) Fail(err error, kind string) {
	o.Err = err
	if err != nil {
		o.Error = err.Error()
		o.ErrorKind = kind
	}
}

// Failed reports whether the outcome carries an error
func (o CircleOutcome) Failed() bool {
	return o.Err != nil || o.Error != ""
}

// StatusRow is the flattened per-pool view of an outcome
type StatusRow struct {
	Circle         string `json:"circle"`
	Env            string `json:"env"`
	Pool           string `json:"pool"`
	AvailableCount int    `json:"available_count"`
	MinimumCount   int    `json:"minimum_count"`
	Provision      bool   `json:"provision"`
}

// Rows flattens the outcome into one row per probed pool
func (o CircleOutcome) Rows() []StatusRow {
	rows := make([]StatusRow, 0, len(o.Probed))
	for _, r := range o.Probed {
		rows = append(rows, StatusRow{
			Circle:         o.CircleID,
			Env:            r.Stage,
			Pool:           r.PoolID,
			AvailableCount: r.AvailableCount,
			MinimumCount:   o.MinimumAvailableCount,
			Provision:      r.AvailableCount < o.MinimumAvailableCount,
		})
	}
	return rows
}

// RunResult is the control plane's reply to starting a remote run
type RunResult struct {
	Success bool   `json:"success"`
	RunID   string `json:"run_id,omitempty"`
	State   string `json:"state,omitempty"`
}

// TriggerResult is what the provisioning trigger reports back to the monitor
type TriggerResult struct {
	Target ProvisionTarget   `json:"target"`
	RunID  string            `json:"run_id,omitempty"`
	Params map[string]string `json:"params"`
}

// PassReport is the batch result of one pass over all circles
type PassReport struct {
	PassID     string          `json:"pass_id" yaml:"pass_id"`
	Source     string          `json:"source" yaml:"source"`
	StartedAt  time.Time       `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time       `json:"finished_at" yaml:"finished_at"`
	Outcomes   []CircleOutcome `json:"outcomes" yaml:"outcomes"`
}

// Failures returns the number of outcomes carrying an error
func (r *PassReport) Failures() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Failed() {
			n++
		}
	}
	return n
}

// Provisioned returns the number of circles whose provisioning run was started
func (r *PassReport) Provisioned() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.ProvisionTriggered {
			n++
		}
	}
	return n
}
