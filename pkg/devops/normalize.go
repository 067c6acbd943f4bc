package devops

import (
	"strconv"
	"strings"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/pipelines"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/release"
	"github.com/microsoft/azure-devops-go-api/azuredevops/v7/taskagent"

	"github.com/circlemon/circlemon/pkg/api"
)

// labVM is the shape of one entry of `az lab vm list`. Only the fields the
// monitor needs are declared.
type labVM struct {
	Name              string            `json:"name"`
	ID                string            `json:"id"`
	Tags              map[string]string `json:"tags"`
	ProvisioningState string            `json:"provisioningState"`
}

// normalizeTarget maps a deployment group target. The agent status is the
// online marker; the target's tags carry the availability marker.
func normalizeTarget(t taskagent.DeploymentMachine) api.PoolMember {
	m := api.PoolMember{
		ID:   strconv.Itoa(deref(t.Id)),
		Tags: map[string]bool{},
	}
	if t.Tags != nil {
		m.Tags = tagSet(*t.Tags)
	}
	if t.Agent != nil {
		m.Name = deref(t.Agent.Name)
		if t.Agent.Status != nil {
			m.Status = strings.ToLower(string(*t.Agent.Status))
		}
	}
	return m
}

// normalizeAgent maps an agent pool agent. Agents carry no tags, so an agent
// explicitly reported as enabled is treated as tagged available. An agent
// without the enabled field carries no marker.
func normalizeAgent(a taskagent.TaskAgent) api.PoolMember {
	m := api.PoolMember{
		ID:   strconv.Itoa(deref(a.Id)),
		Name: deref(a.Name),
		Tags: map[string]bool{},
	}
	if a.Status != nil {
		m.Status = strings.ToLower(string(*a.Status))
	}
	if a.Enabled != nil && *a.Enabled {
		m.Tags[api.TagAvailable] = true
	}
	return m
}

// normalizeRun maps a queued pipeline run; a run without an id was not queued
func normalizeRun(run *pipelines.Run) (api.RunResult, bool) {
	if run == nil || deref(run.Id) == 0 {
		return api.RunResult{}, false
	}
	result := api.RunResult{Success: true, RunID: strconv.Itoa(*run.Id)}
	if run.State != nil {
		result.State = string(*run.State)
	}
	return result, true
}

func normalizeRelease(rel *release.Release) (api.RunResult, bool) {
	if rel == nil || deref(rel.Id) == 0 {
		return api.RunResult{}, false
	}
	result := api.RunResult{Success: true, RunID: strconv.Itoa(*rel.Id)}
	if rel.Status != nil {
		result.State = string(*rel.Status)
	}
	return result, true
}

// normalizeLabVM maps a DevTest Lab VM. The "status" tag may hold several
// comma separated markers; a VM is online once provisioning succeeded.
func normalizeLabVM(vm labVM) api.PoolMember {
	m := api.PoolMember{
		ID:   vm.ID,
		Name: vm.Name,
		Tags: map[string]bool{},
	}
	if m.ID == "" {
		m.ID = vm.Name
	}
	for _, tag := range strings.Split(vm.Tags["status"], ",") {
		if tag = strings.TrimSpace(strings.ToLower(tag)); tag != "" {
			m.Tags[tag] = true
		}
	}
	if strings.EqualFold(vm.ProvisioningState, "Succeeded") {
		m.Status = api.StatusOnline
	} else {
		m.Status = strings.ToLower(vm.ProvisioningState)
	}
	return m
}

func tagSet(tags []string) map[string]bool {
	set := make(map[string]bool, len(tags))
	for _, tag := range tags {
		set[strings.ToLower(strings.TrimSpace(tag))] = true
	}
	return set
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}
