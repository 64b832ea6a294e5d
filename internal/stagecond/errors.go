package stagecond

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a condition, definition, mapping or
	// execution does not exist or has been soft-deleted.
	ErrNotFound = errors.New("not found")

	// ErrValidation marks configuration that failed structural checks.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a write keeps losing to a concurrent
	// writer on another replica.
	ErrConflict = errors.New("concurrent modification")

	// ErrUnsupportedActionType is returned by the executor factory.
	ErrUnsupportedActionType = errors.New("action type not supported")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err is a not-found failure.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// NotFound wraps ErrNotFound with the entity kind and id.
func NotFound(kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}
