package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/0x6d61/shieldctl/internal/session"
)

// writeTimeout bounds a single journal write made from a render callback.
const writeTimeout = 5 * time.Second

// Recorder journals the controller's session as it changes. It persists on
// every status change and every progress update; a failed write is logged
// and never interrupts the scan.
type Recorder struct {
	store  Store
	server string
	logger *slog.Logger

	mu    sync.Mutex
	entry *Entry
}

// Compile-time check that Recorder implements session.Renderer.
var _ session.Renderer = (*Recorder)(nil)

// NewRecorder creates a Recorder writing entries for sessions on server.
func NewRecorder(store Store, server string, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{
		store:  store,
		server: server,
		logger: logger.With("component", "journal"),
	}
}

// Render journals status, cursor and progress changes of e.
func (r *Recorder) Render(e session.Event) {
	switch e.Kind {
	case session.EventStatus:
		if e.Session.Status == session.StatusIdle || e.Session.Status == session.StatusStarting {
			r.mu.Lock()
			r.entry = nil
			r.mu.Unlock()
			return
		}
		r.save(e.Session)
	case session.EventProgress:
		r.save(e.Session)
	case session.EventMessage:
		if e.Session.Halted {
			r.save(e.Session)
		}
	}
}

// Current returns a copy of the entry for the session being recorded, or
// nil if nothing has been journaled yet.
func (r *Recorder) Current() *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.entry == nil {
		return nil
	}
	cp := *r.entry
	return &cp
}

func (r *Recorder) save(s session.ScanSession) {
	if s.SessionID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	id := s.SessionID.String()
	if r.entry == nil || r.entry.SessionID != id {
		existing, err := r.store.LoadBySession(ctx, r.server, id)
		if err != nil {
			r.logger.Warn("journal lookup failed", "session_id", id, "error", err)
		}
		if existing == nil {
			existing = &Entry{Server: r.server, SessionID: id}
		}
		r.entry = existing
	}

	// An attached session may not know its scan details; keep the journaled ones.
	if s.ScanType != "" {
		r.entry.ScanType = s.ScanType
		r.entry.ScanOption = s.ScanOption
	}
	if s.Target != "" {
		r.entry.Target = s.Target
	}
	r.entry.Status = s.Status.String()
	r.entry.Cursor = s.Cursor
	r.entry.Progress = s.Progress
	r.entry.Halted = s.Halted

	if err := r.store.Save(ctx, r.entry); err != nil {
		r.logger.Warn("journal write failed", "session_id", id, "error", err)
		return
	}
	r.logger.Debug("journaled session", "session_id", id, "status", s.Status, "cursor", s.Cursor)
}
