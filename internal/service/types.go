// Package service is the client for the remote scan service. It speaks the
// service's JSON API and maps its failures onto TransportError and
// ServiceError.
package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Remote status values reported by the poll endpoint.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusStopped   = "stopped"
)

// SessionID identifies a scan on the remote service. The service is free to
// encode it as a JSON string or number.
type SessionID string

// UnmarshalJSON accepts both "abc" and 42.
func (id *SessionID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = SessionID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("session id: %w", err)
	}
	*id = SessionID(n.String())
	return nil
}

func (id SessionID) String() string { return string(id) }

// StartRequest asks the service to launch a scan.
type StartRequest struct {
	ScanType   string `json:"scan_type"`
	Target     string `json:"target"`
	ScanOption string `json:"scan_option"`
}

// StartResponse is the service's answer to a successful start.
type StartResponse struct {
	SessionID SessionID `json:"scan_id"`
	Status    string    `json:"status"`
	Message   string    `json:"message"`
}

// PollResult is one incremental fetch of scan output.
type PollResult struct {
	NewLines  []string `json:"new_lines"`
	LineCount int      `json:"line_count"`
	Status    string   `json:"status"`
}

// StopResponse acknowledges a cancellation request.
type StopResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Report is a downloadable scan artifact. The caller must close Body.
type Report struct {
	Filename    string
	ContentType string
	Size        int64 // -1 when unknown
	Body        io.ReadCloser
}

// errorPayload is the shape of every failure body the service returns.
type errorPayload struct {
	Error string `json:"error"`
}
