// Package render draws controller events on a terminal.
package render

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/0x6d61/shieldctl/internal/classify"
	"github.com/0x6d61/shieldctl/internal/session"
)

// Color palette.
var (
	Primary = lipgloss.Color("#7D56F4")
	Severe  = lipgloss.Color("#FF3838")
	Warning = lipgloss.Color("#FFB800")
	Success = lipgloss.Color("#00D26A")
	Info    = lipgloss.Color("#4D96FF")
	Muted   = lipgloss.Color("#6B7280")
)

const barWidth = 30

type styles struct {
	lines    map[classify.Category]lipgloss.Style
	messages map[session.Treatment]lipgloss.Style
	header   lipgloss.Style
	muted    lipgloss.Style
	barFull  lipgloss.Style
	barEmpty lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	return styles{
		lines: map[classify.Category]lipgloss.Style{
			classify.Neutral:       r.NewStyle(),
			classify.Severe:        r.NewStyle().Foreground(Severe).Bold(true),
			classify.Warning:       r.NewStyle().Foreground(Warning),
			classify.Success:       r.NewStyle().Foreground(Success),
			classify.Informational: r.NewStyle().Foreground(Info),
			classify.Highlighted:   r.NewStyle().Foreground(Primary).Bold(true),
		},
		messages: map[session.Treatment]lipgloss.Style{
			session.TreatmentInfo:    r.NewStyle().Foreground(Info),
			session.TreatmentSuccess: r.NewStyle().Foreground(Success).Bold(true),
			session.TreatmentWarning: r.NewStyle().Foreground(Warning).Bold(true),
			session.TreatmentError:   r.NewStyle().Foreground(Severe).Bold(true),
		},
		header:   r.NewStyle().Foreground(Primary).Bold(true),
		muted:    r.NewStyle().Foreground(Muted),
		barFull:  r.NewStyle().Foreground(Primary),
		barEmpty: r.NewStyle().Foreground(lipgloss.Color("#3B3B4F")),
	}
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithNoColor disables ANSI styling.
func WithNoColor(noColor bool) Option {
	return func(t *Terminal) { t.noColor = noColor }
}

// WithProgress draws a progress bar on w, redrawn in place. w may be the
// output stream itself; output lines are printed above the bar.
func WithProgress(w io.Writer) Option {
	return func(t *Terminal) { t.progress = w }
}

// Terminal renders events as styled lines on an output stream.
type Terminal struct {
	out      io.Writer
	progress io.Writer
	noColor  bool
	st       styles

	mu      sync.Mutex
	lastPct int
	barOpen bool
}

// Compile-time check that Terminal implements session.Renderer.
var _ session.Renderer = (*Terminal)(nil)

// NewTerminal creates a Terminal writing to out.
func NewTerminal(out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{out: out, lastPct: -1}
	for _, opt := range opts {
		opt(t)
	}

	r := lipgloss.NewRenderer(out)
	if t.noColor {
		r.SetColorProfile(termenv.Ascii)
	}
	t.st = newStyles(r)
	return t
}

// Render draws one event.
func (t *Terminal) Render(e session.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch e.Kind {
	case session.EventLine:
		t.println(t.st.lines[e.Line.Category].Render(e.Line.Text))
	case session.EventMessage:
		if e.Session.Halted {
			t.closeBar()
		}
		t.println(t.message(e.Treatment, e.Message))
	case session.EventStatus:
		switch e.Session.Status {
		case session.StatusRunning:
			t.println(t.st.header.Render(header(e.Session)))
		case session.StatusIdle:
			t.closeBar()
		}
	case session.EventProgress:
		t.drawBar(e.Session.Progress)
	case session.EventReportReady:
		t.println(t.st.muted.Render(fmt.Sprintf("[*] Report available: shieldctl report %s", e.Session.SessionID)))
	}
}

func (t *Terminal) message(tr session.Treatment, msg string) string {
	var prefix string
	switch tr {
	case session.TreatmentError:
		prefix = "Error: "
	case session.TreatmentSuccess:
		prefix = "[+] "
	case session.TreatmentWarning:
		prefix = "[!] "
	default:
		prefix = "[*] "
	}
	return t.st.messages[tr].Render(prefix + msg)
}

func header(s session.ScanSession) string {
	scan := s.ScanType
	if s.ScanOption != "" {
		scan += "/" + s.ScanOption
	}
	var b strings.Builder
	fmt.Fprintf(&b, "[*] Session %s", s.SessionID)
	if scan != "" {
		fmt.Fprintf(&b, " %s", scan)
	}
	if s.Target != "" {
		fmt.Fprintf(&b, " -> %s", s.Target)
	}
	return b.String()
}

// println writes one line to out. When the bar is open its line is cleared
// first and the bar is redrawn below the new line, since progress and out
// usually share one terminal.
func (t *Terminal) println(s string) {
	if !t.barOpen {
		fmt.Fprintln(t.out, s)
		return
	}
	fmt.Fprint(t.progress, "\r"+termenv.CSI+termenv.EraseEntireLineSeq)
	fmt.Fprintln(t.out, s)
	t.writeBar(t.lastPct)
}

func (t *Terminal) drawBar(p float64) {
	if t.progress == nil {
		return
	}
	pct := int(p)
	if pct == t.lastPct {
		return
	}
	t.lastPct = pct
	t.writeBar(pct)
	t.barOpen = true
	if pct >= 100 {
		t.closeBar()
	}
}

func (t *Terminal) writeBar(pct int) {
	full := pct * barWidth / 100
	bar := t.st.barFull.Render(strings.Repeat("█", full)) +
		t.st.barEmpty.Render(strings.Repeat("░", barWidth-full))
	fmt.Fprintf(t.progress, "\r%s %3d%%", bar, pct)
}

func (t *Terminal) closeBar() {
	if t.barOpen {
		fmt.Fprintln(t.progress)
		t.barOpen = false
	}
	t.lastPct = -1
}
