package assets

import (
	"errors"
	"fmt"
)

// Error categories surfaced by the engine. Callers match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrForbidden  = errors.New("forbidden")
	ErrConflict   = errors.New("state conflict")
)

// NotFoundf wraps ErrNotFound with a formatted message
func NotFoundf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted message
func Validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Forbiddenf wraps ErrForbidden with a formatted message
func Forbiddenf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted message
func Conflictf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// IsNotFound checks if an error is a not-found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsForbidden checks if an error is an authorization denial
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}
