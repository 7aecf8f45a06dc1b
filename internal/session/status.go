package session

import (
	"fmt"

	"github.com/0x6d61/shieldctl/internal/service"
)

// Status is the lifecycle state of a scan session as seen by the controller.
type Status string

const (
	// StatusIdle means no session is active.
	StatusIdle Status = "idle"

	// StatusStarting means a start request is in flight.
	StatusStarting Status = "starting"

	// StatusRunning means the service accepted the scan and output is being polled.
	StatusRunning Status = "running"

	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusStopped   Status = "stopped"
)

func (s Status) String() string { return string(s) }

// IsTerminal reports whether s ends a session.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusStopped:
		return true
	default:
		return false
	}
}

// ValidateTransition checks if a status transition is valid and returns an error if not.
func (s Status) ValidateTransition(target Status) error {
	if !s.isValidTransition(target) {
		return fmt.Errorf("session: invalid status transition from %s to %s", s, target)
	}
	return nil
}

// isValidTransition enforces the session lifecycle. Any state may return to
// idle through a reset.
func (s Status) isValidTransition(target Status) bool {
	if target == StatusIdle {
		return s != StatusIdle
	}
	switch s {
	case StatusIdle:
		return target == StatusStarting
	case StatusStarting:
		return target == StatusRunning
	case StatusRunning:
		return target.IsTerminal()
	default:
		return false
	}
}

// RemoteStatus maps a status reported by the service onto the controller's
// states. Anything that is neither running nor a known terminal status is
// treated as a failure.
func RemoteStatus(s string) Status {
	switch s {
	case service.StatusRunning:
		return StatusRunning
	case service.StatusCompleted:
		return StatusCompleted
	case service.StatusStopped:
		return StatusStopped
	default:
		return StatusFailed
	}
}
