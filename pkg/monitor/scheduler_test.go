package monitor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/circlemon/circlemon/pkg/api"
)

type countingPasses struct {
	calls   int32
	sources chan string
	err     error
}

func (c *countingPasses) RunPass(ctx context.Context, source string) (*api.PassReport, error) {
	atomic.AddInt32(&c.calls, 1)
	select {
	case c.sources <- source:
	default:
	}
	if c.err != nil {
		return nil, c.err
	}
	return &api.PassReport{PassID: "p", Source: source}, nil
}

func TestNewScheduler_Validation(t *testing.T) {
	_, err := NewScheduler(SchedulerConfig{Interval: time.Second}, nil)
	assert.Error(t, err)

	_, err = NewScheduler(SchedulerConfig{}, &countingPasses{})
	assert.Error(t, err)

	cfg := DefaultSchedulerConfig(zap.NewNop())
	assert.Equal(t, 5*time.Minute, cfg.Interval)
	assert.True(t, cfg.RunOnStart)
}

func TestScheduler_RunsOnInterval(t *testing.T) {
	passes := &countingPasses{sources: make(chan string, 16)}
	scheduler, err := NewScheduler(SchedulerConfig{
		Interval:   20 * time.Millisecond,
		RunOnStart: true,
		Logger:     zap.NewNop(),
	}, passes)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(context.Background()))

	select {
	case source := <-passes.sources:
		assert.Equal(t, SourceSchedule, source)
	case <-time.After(time.Second):
		t.Fatal("no pass on start")
	}

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&passes.calls) >= 3
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, scheduler.Stop())
	stopped := atomic.LoadInt32(&passes.calls)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, stopped, atomic.LoadInt32(&passes.calls), "no pass after Stop")
}

func TestScheduler_NoRunOnStart(t *testing.T) {
	passes := &countingPasses{sources: make(chan string, 1)}
	scheduler, err := NewScheduler(SchedulerConfig{Interval: time.Hour}, passes)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(context.Background()))
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, scheduler.Stop())

	assert.Equal(t, int32(0), atomic.LoadInt32(&passes.calls))
}

func TestScheduler_SurvivesFailedPass(t *testing.T) {
	passes := &countingPasses{sources: make(chan string, 16), err: errors.New("store unreachable")}
	scheduler, err := NewScheduler(SchedulerConfig{
		Interval:   10 * time.Millisecond,
		RunOnStart: true,
	}, passes)
	require.NoError(t, err)

	require.NoError(t, scheduler.Start(context.Background()))
	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&passes.calls) >= 2
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, scheduler.Stop())
}
