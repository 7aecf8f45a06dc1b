package cli

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0x6d61/shieldctl/internal/journal"
	"github.com/0x6d61/shieldctl/internal/testutil"
)

// --------------------------------------------------------------------------
// scan
// --------------------------------------------------------------------------

func TestScan_EmptyTarget(t *testing.T) {
	h := newHarness(t, 1)

	out, _, err := h.run("scan", "--type", "nmap")
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, out, "Error: Please enter a target URL or IP address")
	assert.Zero(t, h.srv.Starts.Load(), "no request is sent for invalid input")
}

func TestScan_MissingType(t *testing.T) {
	h := newHarness(t, 1)

	out, _, err := h.run("scan", "--target", "scanme.nmap.org")
	require.Error(t, err)
	assert.Contains(t, out, "Error: Please select a scan type")
	assert.Zero(t, h.srv.Starts.Load())
}

func TestScan_CompletesAndDownloadsReport(t *testing.T) {
	h := newHarness(t, 42)
	h.srv.ScriptNext(
		testutil.Step{Lines: []string{"Starting Nmap 7.94", "22/tcp OPEN ssh"}},
		testutil.Step{Lines: []string{"Nmap done: 1 IP address"}, Status: "completed"},
	)
	dir := t.TempDir()

	out, _, err := h.run("scan", "--type", "nmap", "--target", "scanme.nmap.org", "--report", "txt", "-o", dir)
	require.NoError(t, err)

	assert.Contains(t, out, "[*] Initializing scan...")
	assert.Contains(t, out, "[+] Nmap scan started for scanme.nmap.org")
	assert.Contains(t, out, "[*] Session 42 nmap/open_ports -> scanme.nmap.org")
	assert.Contains(t, out, "Starting Nmap 7.94\n22/tcp OPEN ssh\nNmap done: 1 IP address\n")
	assert.Contains(t, out, "[+] Scan completed successfully.")
	assert.Contains(t, out, "[+] Report saved: ")

	sc, ok := h.srv.Scan("42")
	require.True(t, ok)
	assert.Equal(t, "open_ports", sc.Option, "nmap defaults to open_ports")

	files, err := filepath.Glob(filepath.Join(dir, "nmap_*.txt"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	body, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "Starting Nmap 7.94\n22/tcp OPEN ssh\nNmap done: 1 IP address\n", string(body))

	// The session was journaled.
	store, err := journal.NewSQLiteStore(h.journal)
	require.NoError(t, err)
	defer store.Close()
	e, err := store.LoadBySession(context.Background(), h.srv.URL, "42")
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.Equal(t, "completed", e.Status)
	assert.Equal(t, 3, e.Cursor)
	assert.Equal(t, 100.0, e.Progress)
}

func TestScan_DuplicateReportFormats(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.ScriptNext(testutil.Step{Lines: []string{"+ Server: nginx"}, Status: "completed"})
	dir := t.TempDir()

	out, _, err := h.run("scan", "-t", "nikto", "-T", "example.com", "--report", "txt,TXT", "-o", dir)
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(out, "[+] Report saved: "))
	assert.Equal(t, int64(1), h.srv.Reports.Load())
}

func TestScan_StartRejected(t *testing.T) {
	h := newHarness(t, 1)

	out, _, err := h.run("scan", "--type", "nikto", "--target", "localhost")
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, out, "Error: Target does not appear to be a valid domain or IP address")
}

func TestScan_ServiceUnreachable(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Close()

	out, _, err := h.run("scan", "--type", "nikto", "--target", "example.com")
	require.Error(t, err)
	assert.Contains(t, out, "Error: Failed to start scan: ")
}

func TestScan_Failed(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.ScriptNext(testutil.Step{Lines: []string{"ERROR: nikto crashed"}, Status: "failed"})

	out, _, err := h.run("scan", "--type", "nikto", "--target", "example.com", "--report", "txt", "-o", t.TempDir())
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, out, "ERROR: nikto crashed")
	assert.Contains(t, out, "Error: The scan encountered an error and could not complete.")
	assert.NotContains(t, out, "Report saved")
	assert.Zero(t, h.srv.Reports.Load())
}

func TestScan_Transcript(t *testing.T) {
	h := newHarness(t, 5)
	h.srv.ScriptNext(testutil.Step{Lines: []string{"WARNING: outdated server", "done"}, Status: "completed"})
	path := filepath.Join(t.TempDir(), "session.json")

	_, _, err := h.run("scan", "--type", "wapiti", "--target", "example.com",
		"--transcript", path, "--transcript-format", "json")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Session struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"session"`
		Lines []struct {
			Text     string `json:"text"`
			Category string `json:"category"`
		} `json:"lines"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "5", doc.Session.ID)
	assert.Equal(t, "completed", doc.Session.Status)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "warning", doc.Lines[0].Category)
	assert.Equal(t, "neutral", doc.Lines[1].Category)
}

func TestScan_FlagErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad report format", []string{"--type", "nikto", "--target", "example.com", "--report", "pdf"}, "unsupported report format"},
		{"option on nikto", []string{"--type", "nikto", "--option", "fast", "--target", "example.com"}, "takes no --option"},
		{"bad transcript format", []string{"--type", "nikto", "--target", "example.com", "--transcript", "t.out", "--transcript-format", "xml"}, "unsupported transcript format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			_, _, err := h.run(append([]string{"scan"}, tt.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
			assert.False(t, Reported(err))
			assert.Zero(t, h.srv.Starts.Load())
		})
	}
}

func TestScan_InterruptStopsScan(t *testing.T) {
	h := newHarness(t, 3)
	go func() {
		c := <-h.interrupts
		c <- os.Interrupt
	}()

	out, errOut, err := h.run("scan", "--type", "hidi", "--target", "example.com")
	require.NoError(t, err)

	assert.Contains(t, errOut, "Stop requested")
	assert.Contains(t, out, "[!] Scan was stopped by user request.")
	assert.Equal(t, int64(1), h.srv.Stops.Load())
}

func TestScan_SecondInterruptAbandons(t *testing.T) {
	h := newHarness(t, 8)
	go func() {
		c := <-h.interrupts
		c <- os.Interrupt
		c <- os.Interrupt
	}()

	_, errOut, err := h.run("scan", "--type", "hidi", "--target", "example.com")
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, errOut, "Session 8 abandoned")
	assert.Contains(t, errOut, "shieldctl attach 8")
}

// --------------------------------------------------------------------------
// attach
// --------------------------------------------------------------------------

func seedJournal(t *testing.T, path string, e *journal.Entry) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	store, err := journal.NewSQLiteStore(path)
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.Save(context.Background(), e))
}

func TestAttach_ResumesFromJournal(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Add(testutil.FakeScan{
		ID: "7", ScanType: "nikto", Target: "example.com",
		Lines:  []string{"line one", "line two", "line three"},
		Status: "completed",
	})
	seedJournal(t, h.journal, &journal.Entry{
		Server: h.srv.URL, SessionID: "7", ScanType: "nikto", Target: "example.com",
		Status: "running", Cursor: 2, Progress: 10,
	})

	out, _, err := h.run("attach", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Attached to scan 7 at line 2")
	assert.Contains(t, out, "line three")
	assert.NotContains(t, out, "line one")
	assert.Contains(t, out, "Scan completed successfully.")
}

func TestAttach_Replay(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Add(testutil.FakeScan{ID: "7", ScanType: "nikto", Lines: []string{"line one", "line two"}, Status: "completed"})
	seedJournal(t, h.journal, &journal.Entry{Server: h.srv.URL, SessionID: "7", Status: "running", Cursor: 2})

	out, _, err := h.run("attach", "7", "--replay")
	require.NoError(t, err)
	assert.Contains(t, out, "Attached to scan 7 at line 0")
	assert.Contains(t, out, "line one\nline two\n")
}

func TestAttach_LatestUnfinished(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Add(testutil.FakeScan{ID: "11", ScanType: "wapiti", Lines: []string{"x"}, Status: "stopped"})
	seedJournal(t, h.journal, &journal.Entry{Server: h.srv.URL, SessionID: "10", Status: "completed"})
	seedJournal(t, h.journal, &journal.Entry{Server: h.srv.URL, SessionID: "11", Status: "running"})

	out, _, err := h.run("attach")
	require.NoError(t, err)
	assert.Contains(t, out, "Attached to scan 11")
	assert.Contains(t, out, "Scan was stopped by user request.")
}

func TestAttach_NothingToAttach(t *testing.T) {
	h := newHarness(t, 1)
	_, _, err := h.run("attach")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session to attach to")
}

func TestAttach_UnknownSessionHalts(t *testing.T) {
	h := newHarness(t, 1)
	out, _, err := h.run("attach", "404")
	require.Error(t, err)
	assert.True(t, Reported(err))
	assert.Contains(t, out, "Error: Scan not found")
}

// --------------------------------------------------------------------------
// stop, report, sessions
// --------------------------------------------------------------------------

func TestStopCommand(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Add(testutil.FakeScan{ID: "9", ScanType: "nikto"})

	out, _, err := h.run("stop", "9")
	require.NoError(t, err)
	assert.Equal(t, "[*] Stopping scan 9: Scan stopped successfully\n", out)

	_, _, err = h.run("stop", "9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No running scan found with this ID")
}

func TestReportCommand(t *testing.T) {
	h := newHarness(t, 1)
	h.srv.Add(testutil.FakeScan{ID: "5", ScanType: "nikto", Lines: []string{"a", "b"}, Status: "completed"})
	h.srv.Add(testutil.FakeScan{ID: "6", ScanType: "nikto", Status: "running"})

	out, _, err := h.run("report", "5", "--stdout")
	require.NoError(t, err)
	assert.Equal(t, "a\nb\n", out)

	dir := t.TempDir()
	out, _, err = h.run("report", "5", "-f", "txt,json", "-o", dir)
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "[+] Report saved: "))
	for _, ext := range []string{"txt", "json"} {
		files, _ := filepath.Glob(filepath.Join(dir, "nikto_*."+ext))
		assert.Len(t, files, 1, ext)
	}

	_, _, err = h.run("report", "6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan 6 is running")

	_, _, err = h.run("report", "5", "-f", "pdf")
	require.Error(t, err)

	_, _, err = h.run("report", "5", "-f", "txt,html", "--stdout")
	require.Error(t, err)
}

func TestSessionsCommand(t *testing.T) {
	h := newHarness(t, 1)

	out, _, err := h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No journaled sessions")

	seedJournal(t, h.journal, &journal.Entry{
		Server: h.srv.URL, SessionID: "21", ScanType: "nmap", ScanOption: "open_ports",
		Target: "scanme.nmap.org", Status: "running", Cursor: 12, Progress: 34,
	})
	seedJournal(t, h.journal, &journal.Entry{Server: "http://elsewhere:5000", SessionID: "22", Status: "completed"})

	out, _, err = h.run("sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "SESSION")
	assert.Contains(t, out, "nmap/open_ports")
	assert.Contains(t, out, "scanme.nmap.org")
	assert.Contains(t, out, "34%")
	assert.NotContains(t, out, "elsewhere")
	assert.NotContains(t, out, "22 ")

	out, _, err = h.run("sessions", "--all")
	require.NoError(t, err)
	assert.Contains(t, out, "22")

	out, _, err = h.run("sessions", "rm", "21")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed session 21")

	_, _, err = h.run("sessions", "rm", "21")
	require.Error(t, err)

	out, _, err = h.run("sessions", "prune", "--older-than", "0s")
	require.NoError(t, err)
	assert.Contains(t, out, "Removed 1 session")
}

func TestSessions_JournalDisabled(t *testing.T) {
	h := newHarness(t, 1)
	h.journal = ""
	_, _, err := h.run("sessions")
	require.ErrorIs(t, err, errNoJournal)
}
