package monitor

import (
	"context"
	"errors"
	"net"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/circlemon/circlemon/pkg/api"
	"github.com/circlemon/circlemon/pkg/devops"
	"github.com/circlemon/circlemon/pkg/observability"
)

// DefaultProbeTimeout bounds a single pool listing
const DefaultProbeTimeout = 30 * time.Second

// MemberLister lists the members of a pool
type MemberLister interface {
	ListPoolMembers(ctx context.Context, pool api.PoolRef) ([]api.PoolMember, error)
}

// CapacityProber counts the available members of a pool
type CapacityProber struct {
	lister  MemberLister
	timeout time.Duration
}

// NewCapacityProber creates a prober. A zero timeout uses DefaultProbeTimeout.
func NewCapacityProber(lister MemberLister, timeout time.Duration) *CapacityProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return &CapacityProber{lister: lister, timeout: timeout}
}

// Probe reads the current capacity of pool. Failures are returned as
// *TransientProbeError or *FatalProbeError.
func (p *CapacityProber) Probe(ctx context.Context, pool api.PoolRef) (api.CapacityReading, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	ctx, span := observability.StartSpan(ctx, "monitor.probe",
		attribute.String("pool.id", pool.ID),
		attribute.String("pool.kind", string(pool.Kind)),
		attribute.String("pool.stage", pool.Stage),
	)

	members, err := p.lister.ListPoolMembers(ctx, pool)
	if err != nil {
		err = classifyProbeError(pool.ID, err)
		observability.EndSpan(span, err)
		return api.CapacityReading{}, err
	}

	reading := api.CapacityReading{
		PoolID:         pool.ID,
		Stage:          pool.Stage,
		AvailableCount: CountAvailable(members),
		Total:          len(members),
	}
	span.SetAttributes(
		attribute.Int("pool.available", reading.AvailableCount),
		attribute.Int("pool.total", reading.Total),
	)
	observability.EndSpan(span, nil)
	return reading, nil
}

// CountAvailable counts members that are both tagged available and online
func CountAvailable(members []api.PoolMember) int {
	n := 0
	for _, m := range members {
		if m.Available() {
			n++
		}
	}
	return n
}

// classifyProbeError splits control-plane failures into transient and fatal
func classifyProbeError(poolID string, err error) error {
	if transientCause(err) {
		return &TransientProbeError{PoolID: poolID, Err: err}
	}
	return &FatalProbeError{PoolID: poolID, Err: err}
}

func transientCause(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var apiErr *devops.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}

	var cmdErr *devops.CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.NotFound()
	}

	return false
}
