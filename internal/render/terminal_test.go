package render

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/0x6d61/shieldctl/internal/classify"
	"github.com/0x6d61/shieldctl/internal/session"
)

func running() session.ScanSession {
	return session.ScanSession{
		SessionID:  "42",
		ScanType:   "nmap",
		ScanOption: "open_ports",
		Target:     "scanme.nmap.org",
		Status:     session.StatusRunning,
	}
}

func TestTerminal_Lines(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, WithNoColor(true))

	for _, l := range classify.Lines([]string{"Starting Nmap", "22/tcp OPEN ssh", "plain"}) {
		term.Render(session.Event{Kind: session.EventLine, Line: l})
	}

	assert.Equal(t, "Starting Nmap\n22/tcp OPEN ssh\nplain\n", out.String())
}

func TestTerminal_Messages(t *testing.T) {
	tests := []struct {
		treatment session.Treatment
		message   string
		want      string
	}{
		{session.TreatmentInfo, "Initializing scan...", "[*] Initializing scan...\n"},
		{session.TreatmentSuccess, "Scan completed successfully.", "[+] Scan completed successfully.\n"},
		{session.TreatmentWarning, "Scan was stopped by user request.", "[!] Scan was stopped by user request.\n"},
		{session.TreatmentError, "Please enter a target URL or IP address", "Error: Please enter a target URL or IP address\n"},
	}

	for _, tt := range tests {
		t.Run(tt.treatment.String(), func(t *testing.T) {
			var out bytes.Buffer
			NewTerminal(&out, WithNoColor(true)).Render(session.Event{
				Kind:      session.EventMessage,
				Treatment: tt.treatment,
				Message:   tt.message,
			})
			assert.Equal(t, tt.want, out.String())
		})
	}
}

func TestTerminal_RunningHeader(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, WithNoColor(true))

	term.Render(session.Event{Kind: session.EventStatus, From: session.StatusStarting, Session: running()})
	assert.Equal(t, "[*] Session 42 nmap/open_ports -> scanme.nmap.org\n", out.String())

	out.Reset()
	done := running()
	done.Status = session.StatusCompleted
	term.Render(session.Event{Kind: session.EventStatus, From: session.StatusRunning, Session: done})
	assert.Empty(t, out.String(), "terminal transitions are announced by their message")

	term.Render(session.Event{Kind: session.EventReportReady, Session: done})
	assert.Equal(t, "[*] Report available: shieldctl report 42\n", out.String())
}

func TestTerminal_ProgressBar(t *testing.T) {
	var out, bar bytes.Buffer
	term := NewTerminal(&out, WithNoColor(true), WithProgress(&bar))

	s := running()
	for _, p := range []float64{2, 2, 4, 100} {
		s.Progress = p
		term.Render(session.Event{Kind: session.EventProgress, Session: s})
	}

	assert.Empty(t, out.String(), "the bar never goes to the output stream")
	draws := strings.Count(bar.String(), "\r")
	assert.Equal(t, 3, draws, "unchanged percentages are not redrawn")
	assert.True(t, strings.HasSuffix(bar.String(), "100%\n"), "a finished bar ends its line")
	assert.Contains(t, bar.String(), strings.Repeat("█", barWidth))
}

func TestTerminal_LinesAboveSharedBar(t *testing.T) {
	var screen bytes.Buffer
	term := NewTerminal(&screen, WithNoColor(true), WithProgress(&screen))

	line := func(text string) {
		term.Render(session.Event{Kind: session.EventLine, Line: classify.Classified{Text: text}})
	}
	s := running()
	s.Progress = 2

	line("Starting scan")
	term.Render(session.Event{Kind: session.EventProgress, Session: s})
	line("22/tcp OPEN ssh")

	bar := "\r" + strings.Repeat("░", barWidth) + "   2%"
	want := "Starting scan\n" +
		bar +
		"\r\x1b[2K22/tcp OPEN ssh\n" +
		bar
	assert.Equal(t, want, screen.String())
}

func TestTerminal_ProgressBarClosedOnReset(t *testing.T) {
	var out, bar bytes.Buffer
	term := NewTerminal(&out, WithNoColor(true), WithProgress(&bar))

	s := running()
	s.Progress = 10
	term.Render(session.Event{Kind: session.EventProgress, Session: s})
	term.Render(session.Event{Kind: session.EventStatus, From: session.StatusRunning, Session: session.ScanSession{Status: session.StatusIdle}})

	assert.True(t, strings.HasSuffix(bar.String(), "\n"))

	// A new session redraws from scratch, even at the same percentage.
	term.Render(session.Event{Kind: session.EventProgress, Session: s})
	assert.Equal(t, 2, strings.Count(bar.String(), "\r"))
}

func TestTerminal_NoProgressWriter(t *testing.T) {
	var out bytes.Buffer
	term := NewTerminal(&out, WithNoColor(true))

	s := running()
	s.Progress = 50
	term.Render(session.Event{Kind: session.EventProgress, Session: s})
	assert.Empty(t, out.String())
}

func TestHeader_Minimal(t *testing.T) {
	assert.Equal(t, "[*] Session 7", header(session.ScanSession{SessionID: "7"}))
	assert.Equal(t, "[*] Session 7 hidi -> a.example",
		header(session.ScanSession{SessionID: "7", ScanType: "hidi", Target: "a.example"}))
}
