package monitor

import (
	"errors"
	"fmt"

	"github.com/circlemon/circlemon/pkg/api"
)

// Error kinds recorded on api.CircleOutcome.ErrorKind
const (
	KindTransient   = "transient"
	KindFatal       = "fatal"
	KindTrigger     = "trigger"
	KindBatch       = "batch"
	KindConfig      = "config"
	KindNotLaunched = "not_launched"
)

// ErrNotLaunched marks circles the runner never started because the pass was cancelled
var ErrNotLaunched = errors.New("circle was not launched before the pass was cancelled")

// TransientProbeError indicates a probe failure that may clear up by the next pass
type TransientProbeError struct {
	PoolID string // Pool that was being probed
	Err    error  // Underlying control-plane error
}

// Error implements the error interface
func (e *TransientProbeError) Error() string {
	return fmt.Sprintf("transient error probing pool %s: %v", e.PoolID, e.Err)
}

// Unwrap returns the underlying error
func (e *TransientProbeError) Unwrap() error {
	return e.Err
}

// IsTransientProbeError checks if an error is a TransientProbeError
func IsTransientProbeError(err error) bool {
	var transientErr *TransientProbeError
	return errors.As(err, &transientErr)
}

// FatalProbeError indicates a probe failure that ends the evaluation of a circle
// (bad configuration, rejected credentials, unexpected payload)
type FatalProbeError struct {
	PoolID string // Pool that was being probed, empty if no pool was reached
	Err    error  // Underlying error
}

// Error implements the error interface
func (e *FatalProbeError) Error() string {
	if e.PoolID == "" {
		return fmt.Sprintf("fatal probe error: %v", e.Err)
	}
	return fmt.Sprintf("fatal error probing pool %s: %v", e.PoolID, e.Err)
}

// Unwrap returns the underlying error
func (e *FatalProbeError) Unwrap() error {
	return e.Err
}

// IsFatalProbeError checks if an error is a FatalProbeError
func IsFatalProbeError(err error) bool {
	var fatalErr *FatalProbeError
	return errors.As(err, &fatalErr)
}

// TriggerError indicates the provisioning run could not be started
type TriggerError struct {
	Target api.ProvisionTarget // Pipeline or release definition
	Err    error               // Why the run was not started
}

// Error implements the error interface
func (e *TriggerError) Error() string {
	return fmt.Sprintf("failed to start %s %d: %v", e.Target.Kind, e.Target.ID, e.Err)
}

// Unwrap returns the underlying error
func (e *TriggerError) Unwrap() error {
	return e.Err
}

// IsTriggerError checks if an error is a TriggerError
func IsTriggerError(err error) bool {
	var triggerErr *TriggerError
	return errors.As(err, &triggerErr)
}

// BatchError wraps a worker that crashed or never ran, so the failure stays
// attached to its circle instead of escaping the runner
type BatchError struct {
	CircleID string      // Circle whose worker failed
	Value    interface{} // Recovered panic value, nil when Err is set
	Stack    []byte      // Goroutine stack at the time of the panic
	Err      error       // Underlying error (e.g., ErrNotLaunched)
}

// Error implements the error interface
func (e *BatchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("circle %s: %v", e.CircleID, e.Err)
	}
	return fmt.Sprintf("circle %s: worker panicked: %v", e.CircleID, e.Value)
}

// Unwrap returns the underlying error
func (e *BatchError) Unwrap() error {
	return e.Err
}

// IsBatchError checks if an error is a BatchError
func IsBatchError(err error) bool {
	var batchErr *BatchError
	return errors.As(err, &batchErr)
}

// ConfigError indicates a circle whose configuration could not be resolved
type ConfigError struct {
	CircleID string
	Err      error
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("circle %s: invalid configuration: %v", e.CircleID, e.Err)
}

// Unwrap returns the underlying error
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// IsConfigError checks if an error is a ConfigError
func IsConfigError(err error) bool {
	var configErr *ConfigError
	return errors.As(err, &configErr)
}

// ErrorKind maps an error to the kind recorded on an outcome
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotLaunched):
		return KindNotLaunched
	case IsBatchError(err):
		return KindBatch
	case IsTriggerError(err):
		return KindTrigger
	case IsTransientProbeError(err):
		return KindTransient
	case IsConfigError(err):
		return KindConfig
	default:
		return KindFatal
	}
}
