package common

import (
	"errors"
	"fmt"
)

// Domain errors - use errors.Is() to check
var (
	// Generic errors
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("already exists")

	// Dispatch errors
	ErrInvalidState  = errors.New("invalid state")
	ErrNotRegistered = errors.New("worker not registered")
	ErrStorage       = errors.New("storage unavailable")

	// Resource-specific errors
	ErrJobNotFound    = fmt.Errorf("job %w", ErrNotFound)
	ErrWorkerNotFound = fmt.Errorf("worker %w", ErrNotFound)
	ErrBlobNotFound   = fmt.Errorf("blob %w", ErrNotFound)

	// Validation errors
	ErrValidation = errors.New("validation error")
)

// ValidationError represents a validation error with field details
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Is implements errors.Is for ValidationError
func (e ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// WrapStorage wraps an error as a storage failure with context
func WrapStorage(operation string, err error) error {
	return fmt.Errorf("%s: %w", operation, errors.Join(ErrStorage, err))
}

// IsNotFound checks if error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidState checks if error is an invalid state error
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsNotRegistered checks if error is a not registered error
func IsNotRegistered(err error) bool {
	return errors.Is(err, ErrNotRegistered)
}

// IsValidation checks if error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}
