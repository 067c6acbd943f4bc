package circles

import (
	"errors"
	"fmt"
)

// NotFoundError indicates the circle id is not present in the document
type NotFoundError struct {
	CircleID string
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("circle %s not found in circle_var", e.CircleID)
}

// IsNotFoundError checks if an error is a NotFoundError
func IsNotFoundError(err error) bool {
	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr)
}

// InvalidError indicates a circle section that cannot be turned into a config
type InvalidError struct {
	CircleID string
	Reason   string
}

// Error implements the error interface
func (e *InvalidError) Error() string {
	return fmt.Sprintf("invalid config for circle %s: %s", e.CircleID, e.Reason)
}

// IsInvalidError checks if an error is an InvalidError
func IsInvalidError(err error) bool {
	var invalidErr *InvalidError
	return errors.As(err, &invalidErr)
}
