package session

import "sync"

// Recorder keeps every rendered event for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Render(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Lines returns the text of every recorded output line.
func (r *Recorder) Lines() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == EventLine {
			out = append(out, e.Line.Text)
		}
	}
	return out
}

// Messages returns the recorded controller messages.
func (r *Recorder) Messages() []string {
	var out []string
	for _, e := range r.Events() {
		if e.Kind == EventMessage {
			out = append(out, e.Message)
		}
	}
	return out
}
