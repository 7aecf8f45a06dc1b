package service

import (
	"fmt"
	"net/http"
)

// TransportError reports a request that did not complete: the connection
// failed, timed out, or the reply could not be decoded.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ServiceError reports an explicit failure returned by the scan service.
type ServiceError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ServiceError) Error() string {
	return e.Message
}

// newServiceError builds a ServiceError, falling back to the HTTP status
// text when the service gave no message.
func newServiceError(op string, status int, msg string) *ServiceError {
	if msg == "" {
		msg = fmt.Sprintf("%s failed: %d %s", op, status, http.StatusText(status))
	}
	return &ServiceError{Op: op, StatusCode: status, Message: msg}
}
