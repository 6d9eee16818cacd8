package mapping

import (
	"errors"
	"fmt"
)

// ValidationError marks a record that can never normalize successfully.
// It is terminal: callers record it and do not retry.
type ValidationError struct {
	Field string
}

func NewValidationError(field string) *ValidationError {
	return &ValidationError{Field: field}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("required field %q is missing", e.Field)
}

// IsValidationError reports whether err is (or wraps) a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
