package report

import (
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/0x6d61/shieldctl/internal/classify"
	"github.com/0x6d61/shieldctl/internal/session"
)

// Transcript is what the user saw for one scan session: every output line
// with its category, every controller message, and the outcome.
type Transcript struct {
	SessionID  string
	ScanType   string
	ScanOption string
	Target     string
	Status     session.Status
	Progress   float64
	Halted     bool
	Lines      []classify.Classified
	Messages   []Message
	StartedAt  time.Time
	EndedAt    time.Time
}

// Message is a controller message as rendered.
type Message struct {
	Text      string
	Treatment session.Treatment
}

// Duration returns how long the session ran, or zero if it never ended.
func (t *Transcript) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.EndedAt.IsZero() {
		return 0
	}
	return t.EndedAt.Sub(t.StartedAt)
}

// CategoryCounts returns how many lines fell into each category.
func (t *Transcript) CategoryCounts() map[classify.Category]int {
	counts := make(map[classify.Category]int)
	for _, l := range t.Lines {
		counts[l.Category]++
	}
	return counts
}

// TranscriptRecorder builds a Transcript from controller events. A new
// session starts a new transcript; resetting to idle keeps the last one.
type TranscriptRecorder struct {
	clock clock.PassiveClock

	mu sync.Mutex
	t  Transcript
}

// Compile-time check that TranscriptRecorder implements session.Renderer.
var _ session.Renderer = (*TranscriptRecorder)(nil)

// NewTranscriptRecorder creates a recorder stamping times from clk. A nil
// clock uses the wall clock.
func NewTranscriptRecorder(clk clock.PassiveClock) *TranscriptRecorder {
	if clk == nil {
		clk = clock.RealClock{}
	}
	return &TranscriptRecorder{clock: clk}
}

func (r *TranscriptRecorder) Render(e session.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch e.Kind {
	case session.EventStatus:
		switch to := e.Session.Status; {
		case to == session.StatusStarting:
			r.t = Transcript{StartedAt: r.clock.Now()}
			r.adopt(e.Session)
		case to == session.StatusIdle:
			// Keep the finished transcript around for export.
		default:
			r.adopt(e.Session)
			if to.IsTerminal() {
				r.t.EndedAt = r.clock.Now()
			}
		}
	case session.EventLine:
		r.t.Lines = append(r.t.Lines, e.Line)
	case session.EventProgress:
		r.t.Progress = e.Session.Progress
		r.t.Halted = e.Session.Halted
	case session.EventMessage:
		r.t.Messages = append(r.t.Messages, Message{Text: e.Message, Treatment: e.Treatment})
		r.t.Halted = e.Session.Halted
	}
}

func (r *TranscriptRecorder) adopt(s session.ScanSession) {
	r.t.SessionID = s.SessionID.String()
	r.t.ScanType = s.ScanType
	r.t.ScanOption = s.ScanOption
	r.t.Target = s.Target
	r.t.Status = s.Status
	r.t.Progress = s.Progress
}

// Transcript returns a copy of the current transcript.
func (r *TranscriptRecorder) Transcript() *Transcript {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := r.t
	t.Lines = append([]classify.Classified(nil), r.t.Lines...)
	t.Messages = append([]Message(nil), r.t.Messages...)
	return &t
}
