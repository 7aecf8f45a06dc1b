// Package journal keeps a local record of every scan session the controller
// has driven, so a session can be listed, attached to again or pruned.
package journal

import (
	"context"
	"time"
)

// Entry is the journaled state of one remote scan session.
type Entry struct {
	ID         string    `json:"id"`
	Server     string    `json:"server"`
	SessionID  string    `json:"session_id"`
	ScanType   string    `json:"scan_type"`
	ScanOption string    `json:"scan_option,omitempty"`
	Target     string    `json:"target"`
	Status     string    `json:"status"`
	Cursor     int       `json:"cursor"`
	Progress   float64   `json:"progress"`
	Halted     bool      `json:"halted,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Store persists and retrieves journal entries.
type Store interface {
	Save(ctx context.Context, e *Entry) error
	Load(ctx context.Context, id string) (*Entry, error)
	LoadBySession(ctx context.Context, server, sessionID string) (*Entry, error)
	List(ctx context.Context) ([]*Entry, error)
	Delete(ctx context.Context, id string) error
	Cleanup(ctx context.Context, maxAge time.Duration) (int64, error)
	Close() error
}
