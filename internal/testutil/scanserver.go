// Package testutil provides an in-process fake of the remote scan service
// for tests. It reproduces the service's routes, status codes and JSON
// payloads; scan output is scripted by the test instead of produced by real
// scanner processes.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Step is one scripted change applied to a scan right before a poll is
// answered.
type Step struct {
	Lines  []string
	Status string // empty keeps the current status
}

// FakeScan is the server-side state of one scan.
type FakeScan struct {
	ID        string
	ScanType  string
	Target    string
	Option    string
	Timestamp string
	Lines     []string
	Status    string
	Script    []Step
}

// ScanServer is a fake scan service. Counters and hooks may be inspected
// and set by tests; scan state is guarded by an internal mutex.
type ScanServer struct {
	*httptest.Server

	// Gate, when non-nil, holds every poll until a value is received or the
	// request is cancelled.
	Gate chan struct{}

	Starts  atomic.Int64
	Polls   atomic.Int64
	Stops   atomic.Int64
	Reports atomic.Int64

	mu         sync.Mutex
	nextID     int
	scans      map[string]*FakeScan
	startErr   string
	nextScript []Step
}

// NewScanServer starts a fake service. Session IDs are assigned
// sequentially starting at firstID.
func NewScanServer(firstID int) *ScanServer {
	s := &ScanServer{
		nextID: firstID,
		scans:  make(map[string]*FakeScan),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/scan", s.handleStart)
	mux.HandleFunc("GET /api/scan/{id}/status", s.handleStatus)
	mux.HandleFunc("POST /api/scan/{id}/stop", s.handleStop)
	mux.HandleFunc("GET /api/scan/{id}/report", s.handleReport)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	s.Server = httptest.NewServer(mux)
	return s
}

// FailStarts makes every start request fail with msg. An empty msg
// restores normal behavior.
func (s *ScanServer) FailStarts(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startErr = msg
}

// ScriptNext sets the steps of the next scan started through the start
// endpoint.
func (s *ScanServer) ScriptNext(steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextScript = steps
}

// SetScript replaces the scripted steps for scan id.
func (s *ScanServer) SetScript(id string, steps ...Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scans[id]; ok {
		sc.Script = steps
	}
}

// Append adds output lines to scan id.
func (s *ScanServer) Append(id string, lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scans[id]; ok {
		sc.Lines = append(sc.Lines, lines...)
	}
}

// SetStatus changes the status of scan id.
func (s *ScanServer) SetStatus(id, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc, ok := s.scans[id]; ok {
		sc.Status = status
	}
}

// Add registers a scan directly, bypassing the start endpoint.
func (s *ScanServer) Add(sc FakeScan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sc.Status == "" {
		sc.Status = "running"
	}
	if sc.Timestamp == "" {
		sc.Timestamp = time.Now().Format("20060102_150405")
	}
	s.scans[sc.ID] = &sc
}

// Scan returns a copy of the state of scan id.
func (s *ScanServer) Scan(id string) (FakeScan, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.scans[id]
	if !ok {
		return FakeScan{}, false
	}
	cp := *sc
	cp.Lines = append([]string(nil), sc.Lines...)
	return cp, true
}

var validScanTypes = map[string]bool{"nmap": true, "nikto": true, "wapiti": true, "hidi": true}

func (s *ScanServer) handleStart(w http.ResponseWriter, r *http.Request) {
	s.Starts.Add(1)

	var req struct {
		ScanType   string `json:"scan_type"`
		Target     string `json:"target"`
		ScanOption string `json:"scan_option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON body"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.startErr != "" {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": s.startErr})
		return
	}
	if msg := validateTarget(req.Target); msg != "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
		return
	}
	if !validScanTypes[req.ScanType] {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid scan type: " + req.ScanType})
		return
	}
	if req.ScanType == "nmap" && req.ScanOption != "open_ports" && req.ScanOption != "version_detection" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid scan option for Nmap: " + req.ScanOption})
		return
	}

	id := strconv.Itoa(s.nextID)
	s.nextID++
	s.scans[id] = &FakeScan{
		ID:        id,
		ScanType:  req.ScanType,
		Target:    req.Target,
		Option:    req.ScanOption,
		Timestamp: time.Now().Format("20060102_150405"),
		Status:    "running",
		Script:    s.nextScript,
	}
	s.nextScript = nil

	writeJSON(w, http.StatusOK, map[string]any{
		"scan_id": id,
		"status":  "started",
		"message": fmt.Sprintf("%s scan started for %s", capitalize(req.ScanType), req.Target),
	})
}

func (s *ScanServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.Polls.Add(1)

	if s.Gate != nil {
		select {
		case <-s.Gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scans[r.PathValue("id")]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Scan not found"})
		return
	}
	if len(sc.Script) > 0 {
		step := sc.Script[0]
		sc.Script = sc.Script[1:]
		sc.Lines = append(sc.Lines, step.Lines...)
		if step.Status != "" {
			sc.Status = step.Status
		}
	}

	last, _ := strconv.Atoi(r.URL.Query().Get("last_line"))
	last = max(0, min(last, len(sc.Lines)))

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     sc.Status,
		"new_lines":  append([]string{}, sc.Lines[last:]...),
		"line_count": len(sc.Lines),
	})
}

func (s *ScanServer) handleStop(w http.ResponseWriter, r *http.Request) {
	s.Stops.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scans[r.PathValue("id")]
	if !ok || sc.Status != "running" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "No running scan found with this ID"})
		return
	}
	sc.Status = "stopped"
	sc.Script = nil

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "stopped",
		"message": "Scan stopped successfully",
	})
}

func (s *ScanServer) handleReport(w http.ResponseWriter, r *http.Request) {
	s.Reports.Add(1)

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "txt"
	}

	s.mu.Lock()
	sc, ok := s.scans[r.PathValue("id")]
	var body, name string
	if ok {
		body = strings.Join(sc.Lines, "\n") + "\n"
		name = fmt.Sprintf("%s_%s.%s", sc.ScanType, sc.Timestamp, format)
	}
	s.mu.Unlock()

	switch {
	case !ok:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Scan not found"})
	case format != "txt" && format != "html" && format != "json":
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Unsupported report format: " + format})
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}
}

// validateTarget mirrors the service's target checks.
func validateTarget(target string) string {
	if target == "" {
		return "Target is required"
	}
	if len(target) < 3 {
		return "Target is too short"
	}
	clean := target
	for _, prefix := range []string{"http://", "https://", "ftp://"} {
		clean = strings.TrimPrefix(clean, prefix)
	}
	if !strings.ContainsAny(clean, ".:") {
		return "Target does not appear to be a valid domain or IP address"
	}
	return ""
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
