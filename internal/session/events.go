package session

import "github.com/0x6d61/shieldctl/internal/classify"

// EventKind identifies what an Event carries.
type EventKind int

const (
	// EventStatus signals a status transition; From holds the previous status.
	EventStatus EventKind = iota
	// EventLine carries one classified output line.
	EventLine
	// EventProgress signals a new progress value.
	EventProgress
	// EventMessage carries a controller message with a display treatment.
	EventMessage
	// EventReportReady signals that report retrieval is now possible.
	EventReportReady
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventLine:
		return "line"
	case EventProgress:
		return "progress"
	case EventMessage:
		return "message"
	case EventReportReady:
		return "report_ready"
	default:
		return "unknown"
	}
}

// Treatment is the visual treatment requested for a message.
type Treatment int

const (
	TreatmentInfo Treatment = iota
	TreatmentSuccess
	TreatmentWarning
	TreatmentError
)

func (t Treatment) String() string {
	switch t {
	case TreatmentSuccess:
		return "success"
	case TreatmentWarning:
		return "warning"
	case TreatmentError:
		return "error"
	default:
		return "info"
	}
}

// Event is a single presentation update. Session is the state right after
// the change that produced the event.
type Event struct {
	Kind      EventKind
	Session   ScanSession
	From      Status
	Line      classify.Classified
	Message   string
	Treatment Treatment
	Err       error
}

// Renderer receives controller events. Events are delivered one at a time
// in the order the state changed. Implementations must not call back into
// the Controller.
type Renderer interface {
	Render(Event)
}

// RendererFunc adapts a function to the Renderer interface.
type RendererFunc func(Event)

func (f RendererFunc) Render(e Event) { f(e) }

// MultiRenderer fans events out to several renderers in order.
type MultiRenderer []Renderer

func (m MultiRenderer) Render(e Event) {
	for _, r := range m {
		if r != nil {
			r.Render(e)
		}
	}
}

type terminalMessage struct {
	text      string
	treatment Treatment
}

var terminalMessages = map[Status]terminalMessage{
	StatusCompleted: {"Scan completed successfully.", TreatmentSuccess},
	StatusFailed:    {"The scan encountered an error and could not complete.", TreatmentError},
	StatusStopped:   {"Scan was stopped by user request.", TreatmentWarning},
}

// TerminalMessage returns the message shown when a session ends with s.
func TerminalMessage(s Status) (string, Treatment, bool) {
	m, ok := terminalMessages[s]
	return m.text, m.treatment, ok
}
