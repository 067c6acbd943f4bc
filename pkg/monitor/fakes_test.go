package monitor

import (
	"context"
	"fmt"
	"sync"

	"github.com/circlemon/circlemon/pkg/api"
)

// fakeControlPlane serves canned pool members and records every call
type fakeControlPlane struct {
	mu sync.Mutex

	members map[string][]api.PoolMember
	errs    map[string]error
	panics  map[string]bool

	// block, when set for a pool, is waited on before answering
	block   map[string]chan struct{}
	started chan string

	runResult api.RunResult
	runErr    error

	listed []string
	runs   []startedRun
}

type startedRun struct {
	Target api.ProvisionTarget
	Params map[string]string
}

func newFakeControlPlane() *fakeControlPlane {
	return &fakeControlPlane{
		members:   map[string][]api.PoolMember{},
		errs:      map[string]error{},
		panics:    map[string]bool{},
		block:     map[string]chan struct{}{},
		runResult: api.RunResult{Success: true, RunID: "run-1", State: "inProgress"},
	}
}

func (f *fakeControlPlane) withPool(id string, available, unavailable int) *fakeControlPlane {
	f.members[id] = poolMembers(id, available, unavailable)
	return f
}

func (f *fakeControlPlane) ListPoolMembers(ctx context.Context, pool api.PoolRef) ([]api.PoolMember, error) {
	f.mu.Lock()
	f.listed = append(f.listed, pool.ID)
	block := f.block[pool.ID]
	shouldPanic := f.panics[pool.ID]
	err := f.errs[pool.ID]
	members := f.members[pool.ID]
	f.mu.Unlock()

	if f.started != nil {
		f.started <- pool.ID
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if shouldPanic {
		panic(fmt.Sprintf("listing pool %s exploded", pool.ID))
	}
	if err != nil {
		return nil, err
	}
	return members, nil
}

func (f *fakeControlPlane) StartRun(ctx context.Context, target api.ProvisionTarget, params map[string]string) (api.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, startedRun{Target: target, Params: params})
	if f.runErr != nil {
		return api.RunResult{}, f.runErr
	}
	return f.runResult, nil
}

func (f *fakeControlPlane) listedPools() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.listed...)
}

func (f *fakeControlPlane) startedRuns() []startedRun {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]startedRun(nil), f.runs...)
}

// poolMembers builds available members followed by members that fail one of
// the two availability conditions
func poolMembers(poolID string, available, unavailable int) []api.PoolMember {
	members := make([]api.PoolMember, 0, available+unavailable)
	for i := 0; i < available; i++ {
		members = append(members, api.PoolMember{
			ID:     fmt.Sprintf("%s-ok-%d", poolID, i),
			Tags:   map[string]bool{api.TagAvailable: true},
			Status: api.StatusOnline,
		})
	}
	for i := 0; i < unavailable; i++ {
		m := api.PoolMember{
			ID:     fmt.Sprintf("%s-busy-%d", poolID, i),
			Tags:   map[string]bool{},
			Status: api.StatusOnline,
		}
		if i%2 == 1 {
			m.Tags[api.TagAvailable] = true
			m.Status = api.StatusOffline
		}
		members = append(members, m)
	}
	return members
}

func circle(id string, minimum int, pools ...string) api.CircleConfig {
	cfg := api.CircleConfig{
		CircleID:              id,
		Identity:              api.Identity{UserName: id + "@contoso.com", SecretEnv: "AZ_PAT"},
		MinimumAvailableCount: minimum,
		Provision:             api.ProvisionTarget{Kind: api.ProvisionPipeline, ID: 21},
	}
	for _, p := range pools {
		cfg.Pools = append(cfg.Pools, api.PoolRef{ID: p, Kind: api.KindDeploymentGroup, Stage: "stage-" + p})
	}
	return cfg
}

// stripVolatile strips the fields that legitimately differ between two runs
func stripVolatile(outcomes []api.CircleOutcome) []api.CircleOutcome {
	out := make([]api.CircleOutcome, len(outcomes))
	for i, o := range outcomes {
		o.Duration = 0
		o.Err = nil
		out[i] = o
	}
	return out
}
