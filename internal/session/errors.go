package session

import (
	"errors"
	"fmt"
)

// ErrStaleResponse is returned when a remote call completes after the
// session it was issued for has been reset or replaced. Its result is
// discarded without rendering.
var ErrStaleResponse = errors.New("session: stale response discarded")

// ValidationError reports unusable start input. No request is sent and the
// previous session is left untouched.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
