package monitor

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/devops"
	"github.com/circlemon/circlemon/pkg/observability"
)

func newTestMonitor(cp ControlPlane) *CircleMonitor {
	return NewCircleMonitor(cp, CircleMonitorConfig{
		ProbeTimeout:   time.Second,
		TriggerTimeout: time.Second,
		Logger:         zap.NewNop(),
	})
}

func TestCircleMonitor_EmptyPools(t *testing.T) {
	cp := newFakeControlPlane()

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("empty", 3))

	assert.False(t, outcome.NeedsProvision)
	assert.False(t, outcome.ProvisionTriggered)
	assert.Empty(t, outcome.Probed)
	assert.Nil(t, outcome.Err)
	assert.Empty(t, cp.startedRuns())
}

func TestCircleMonitor_Decision(t *testing.T) {
	tests := []struct {
		name      string
		minimum   int
		available []int
		want      bool
	}{
		{"all above minimum", 2, []int{3, 4, 5}, false},
		{"all at minimum", 2, []int{2, 2}, false},
		{"one below minimum", 2, []int{3, 1, 5}, true},
		{"every pool below minimum", 4, []int{0, 1, 2}, true},
		{"zero minimum never provisions", 0, []int{0, 0}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newFakeControlPlane()
			var pools []string
			for i, n := range tt.available {
				id := string(rune('A' + i))
				cp.withPool(id, n, 2)
				pools = append(pools, id)
			}

			outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("c", tt.minimum, pools...))

			require.Nil(t, outcome.Err)
			assert.Len(t, outcome.Probed, len(tt.available))
			assert.Equal(t, tt.want, outcome.NeedsProvision)
			if tt.want {
				assert.Len(t, cp.startedRuns(), 1, "provisioning starts exactly once per circle")
				assert.True(t, outcome.ProvisionTriggered)
			} else {
				assert.Empty(t, cp.startedRuns())
				assert.False(t, outcome.ProvisionTriggered)
			}
		})
	}
}

func TestCircleMonitor_AlphaScenario(t *testing.T) {
	cp := newFakeControlPlane().withPool("A", 1, 0).withPool("B", 5, 0)

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("alpha", 2, "A", "B"))

	assert.True(t, outcome.NeedsProvision)
	assert.True(t, outcome.ProvisionTriggered)
	assert.Equal(t, "run-1", outcome.RunID)
	assert.Equal(t, []string{"A", "B"}, cp.listedPools())

	runs := cp.startedRuns()
	require.Len(t, runs, 1)
	assert.Equal(t, api.ProvisionTarget{Kind: api.ProvisionPipeline, ID: 21}, runs[0].Target)
	assert.Equal(t, "alpha", runs[0].Params[ParamAppName])
	assert.Equal(t, "stage-A", runs[0].Params[ParamEnv])
	assert.Equal(t, "1", runs[0].Params[ParamVMCount])
}

func TestCircleMonitor_BetaScenario(t *testing.T) {
	cp := newFakeControlPlane().withPool("C", 10, 0)

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("beta", 2, "C"))

	assert.False(t, outcome.NeedsProvision)
	assert.False(t, outcome.ProvisionTriggered)
	assert.Equal(t, []api.CapacityReading{{PoolID: "C", Stage: "stage-C", AvailableCount: 10, Total: 10}}, outcome.Probed)
	assert.Empty(t, cp.startedRuns())
}

func TestCircleMonitor_TransientSkip(t *testing.T) {
	cp := newFakeControlPlane().withPool("B", 5, 0)
	cp.errs["A"] = &devops.CommandError{ExitCode: devops.ExitResourceNotFound}

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("gamma", 2, "A", "B"))

	assert.Equal(t, []string{"A", "B"}, cp.listedPools(), "the next pool is still probed")
	require.Len(t, outcome.Skipped, 1)
	assert.Equal(t, "A", outcome.Skipped[0].PoolID)
	require.Len(t, outcome.Probed, 1)
	assert.Equal(t, "B", outcome.Probed[0].PoolID)
	assert.False(t, outcome.NeedsProvision, "a skipped pool is not counted as zero")
	assert.Nil(t, outcome.Err)
	assert.Empty(t, cp.startedRuns())
}

func TestCircleMonitor_FatalProbeAborts(t *testing.T) {
	cp := newFakeControlPlane().withPool("A", 0, 1).withPool("C", 0, 0)
	cp.errs["B"] = &devops.APIError{Operation: "list_deployment_targets", StatusCode: http.StatusUnauthorized}

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("delta", 2, "A", "B", "C"))

	assert.Equal(t, []string{"A", "B"}, cp.listedPools(), "remaining pools are not probed")
	assert.False(t, outcome.NeedsProvision, "a fatal probe error never provisions")
	assert.False(t, outcome.ProvisionTriggered)
	require.Error(t, outcome.Err)
	assert.True(t, IsFatalProbeError(outcome.Err))
	assert.Equal(t, KindFatal, outcome.ErrorKind)
	assert.Contains(t, outcome.Error, "401")
	assert.Empty(t, cp.startedRuns())
}

func TestCircleMonitor_TriggerFailure(t *testing.T) {
	cp := newFakeControlPlane().withPool("A", 0, 3)
	cp.runErr = errors.New("pipeline 21 is disabled")

	outcome := newTestMonitor(cp).Evaluate(context.Background(), circle("epsilon", 1, "A"))

	assert.True(t, outcome.NeedsProvision, "a failed trigger does not change the decision")
	assert.False(t, outcome.ProvisionTriggered)
	assert.True(t, IsTriggerError(outcome.Err))
	assert.Equal(t, KindTrigger, outcome.ErrorKind)
	assert.Len(t, cp.startedRuns(), 1)
}

func TestCircleMonitor_Transitions(t *testing.T) {
	type step struct{ from, to State }

	tests := []struct {
		name  string
		setup func(cp *fakeControlPlane)
		want  []step
	}{
		{
			name:  "capacity is fine",
			setup: func(cp *fakeControlPlane) { cp.withPool("A", 5, 0) },
			want: []step{
				{StateIdle, StateProbing},
				{StateProbing, StateDeciding},
				{StateDeciding, StateDone},
			},
		},
		{
			name:  "capacity is short",
			setup: func(cp *fakeControlPlane) { cp.withPool("A", 0, 0) },
			want: []step{
				{StateIdle, StateProbing},
				{StateProbing, StateDeciding},
				{StateDeciding, StateTriggering},
				{StateTriggering, StateDone},
			},
		},
		{
			name:  "fatal probe error",
			setup: func(cp *fakeControlPlane) { cp.errs["A"] = errors.New("boom") },
			want: []step{
				{StateIdle, StateProbing},
				{StateProbing, StateDone},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cp := newFakeControlPlane()
			tt.setup(cp)

			var steps []step
			monitor := NewCircleMonitor(cp, CircleMonitorConfig{
				OnTransition: func(circleID string, from, to State) {
					assert.Equal(t, "zeta", circleID)
					steps = append(steps, step{from, to})
				},
			})
			monitor.Evaluate(context.Background(), circle("zeta", 2, "A"))

			assert.Equal(t, tt.want, steps)
		})
	}
}

func TestProvisionParams(t *testing.T) {
	tests := []struct {
		name    string
		cfg     api.CircleConfig
		short   api.CapacityReading
		wantEnv string
		wantVMs string
	}{
		{
			name:    "configured vm count",
			cfg:     api.CircleConfig{CircleID: "alpha", MinimumAvailableCount: 4, VMCount: 2},
			short:   api.CapacityReading{PoolID: "12", Stage: "qa", AvailableCount: 1},
			wantEnv: "qa",
			wantVMs: "2",
		},
		{
			name:    "missing capacity when no vm count",
			cfg:     api.CircleConfig{CircleID: "alpha", MinimumAvailableCount: 4},
			short:   api.CapacityReading{PoolID: "12", Stage: "qa", AvailableCount: 1},
			wantEnv: "qa",
			wantVMs: "3",
		},
		{
			name:    "pool id when no stage",
			cfg:     api.CircleConfig{CircleID: "alpha", MinimumAvailableCount: 1},
			short:   api.CapacityReading{PoolID: "12"},
			wantEnv: "12",
			wantVMs: "1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := provisionParams(tt.cfg, tt.short)
			assert.Equal(t, "alpha", params[ParamAppName])
			assert.Equal(t, tt.wantEnv, params[ParamEnv])
			assert.Equal(t, tt.wantVMs, params[ParamVMCount])
		})
	}
}

func TestCircleMonitor_RecordsEvents(t *testing.T) {
	events := observability.NewEventStream(observability.EventStreamConfig{MaxSize: 10}, zap.NewNop())
	cp := newFakeControlPlane().withPool("A", 0, 0)

	monitor := NewCircleMonitor(cp, CircleMonitorConfig{Events: events})
	ctx := observability.WithPassID(context.Background(), "pass-1")
	monitor.Evaluate(ctx, circle("eta", 1, "A"))

	recorded := events.GetEvents(observability.EventFilter{PassID: "pass-1"})
	require.Len(t, recorded, 2)
	assert.Equal(t, observability.EventProvisionStarted, recorded[0].Type)
	assert.Equal(t, observability.EventCircleEvaluated, recorded[1].Type)
	assert.Equal(t, "eta", recorded[1].CircleID)
}
