package devops

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/microsoft/azure-devops-go-api/azuredevops/v7"
)

// APIError is a non-success reply from the Azure DevOps REST API
type APIError struct {
	Operation  string // Operation that was attempted (e.g., "list_deployment_targets")
	StatusCode int    // HTTP status code returned
	Message    string // Message from the response body, if any
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: unexpected status %d", e.Operation, e.StatusCode)
	}
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Operation, e.StatusCode, e.Message)
}

// NotFound reports whether the resource does not exist (yet)
func (e *APIError) NotFound() bool {
	return e.StatusCode == http.StatusNotFound
}

// Retryable reports whether the same request may succeed on a later pass
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusNotFound ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= http.StatusInternalServerError
}

// IsAPIError checks if an error is an APIError
func IsAPIError(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr)
}

// StatusCode extracts the HTTP status from an APIError, or 0
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}

// wrapSDKError turns an SDK failure carrying an HTTP status into an APIError.
// The SDK returns WrappedError both by value and by pointer.
func wrapSDKError(operation string, err error) error {
	var wrapped *azuredevops.WrappedError
	var value azuredevops.WrappedError
	switch {
	case errors.As(err, &wrapped) && wrapped != nil:
	case errors.As(err, &value):
		wrapped = &value
	default:
		return fmt.Errorf("%s: request failed: %w", operation, err)
	}

	if wrapped.StatusCode == nil {
		return fmt.Errorf("%s: request failed: %w", operation, err)
	}
	apiErr := &APIError{Operation: operation, StatusCode: *wrapped.StatusCode}
	if wrapped.Message != nil {
		apiErr.Message = strings.TrimSpace(*wrapped.Message)
	}
	return apiErr
}

// CommandError is a failed az CLI invocation
type CommandError struct {
	Command  string // Command line that was run, without secrets
	ExitCode int    // Process exit code, -1 when the process did not start
	Stderr   string // Trimmed standard error output
	Err      error  // Underlying error
}

// Error implements the error interface
func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
	}
	return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error
func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitResourceNotFound is the az CLI exit code for a missing resource
const ExitResourceNotFound = 3

// NotFound reports whether the CLI reported a missing resource
func (e *CommandError) NotFound() bool {
	return e.ExitCode == ExitResourceNotFound
}

// ErrMissingCredentials is returned when a circle's PAT cannot be found
var ErrMissingCredentials = errors.New("missing control plane credentials")

// DecodeError indicates a reply whose shape could not be understood
type DecodeError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: failed to decode response: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *DecodeError) Unwrap() error {
	return e.Err
}
