package types

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when an alert, rule or window does not exist
	// in the caller's scope.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyResolved is returned by acknowledge/resolve on a RESOLVED alert.
	ErrAlreadyResolved = errors.New("alert already resolved")

	// ErrConflict is returned when a rule name is already taken in a workspace.
	ErrConflict = errors.New("conflict")

	// ErrStaleEscalation is returned when an escalation timer lost the race
	// against an acknowledge/resolve or a newer timer.
	ErrStaleEscalation = errors.New("stale escalation")
)

// ValidationError reports a malformed rule, condition, policy or window.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Invalid builds a *ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
