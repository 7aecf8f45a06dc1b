package transport

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// Helper: create a default test client
// ---------------------------------------------------------------------------

func newTestClient(t *testing.T) *DefaultClient {
	t.Helper()
	c, err := NewClient(ClientOptions{
		Timeout:   5 * time.Second,
		UserAgent: "shieldctl-test",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// ---------------------------------------------------------------------------
// Basic GET
// ---------------------------------------------------------------------------

func TestBasicGET(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("expected GET, got %s", r.Method)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "hello world")
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{URL: srv.URL + "/test"})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if !resp.OK() {
		t.Errorf("StatusCode = %d, want 2xx", resp.StatusCode)
	}
	if resp.BodyString() != "hello world" {
		t.Errorf("Body = %q, want %q", resp.BodyString(), "hello world")
	}
}

// ---------------------------------------------------------------------------
// POST with JSON body
// ---------------------------------------------------------------------------

func TestPOSTWithBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		body, _ := io.ReadAll(r.Body)
		w.Write(body)
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		Method:      http.MethodPost,
		URL:         srv.URL + "/api/scan",
		Body:        []byte(`{"target":"example.com"}`),
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if resp.BodyString() != `{"target":"example.com"}` {
		t.Errorf("Body = %q", resp.BodyString())
	}
}

// ---------------------------------------------------------------------------
// Headers: custom, User-Agent, request ID
// ---------------------------------------------------------------------------

func TestHeaders(t *testing.T) {
	var gotID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Custom"); got != "test-value" {
			t.Errorf("X-Custom header = %q, want %q", got, "test-value")
		}
		if got := r.Header.Get("User-Agent"); got != "shieldctl-test" {
			t.Errorf("User-Agent = %q, want %q", got, "shieldctl-test")
		}
		gotID = r.Header.Get(RequestIDHeader)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Do(context.Background(), &Request{
		URL:     srv.URL,
		Headers: map[string]string{"X-Custom": "test-value"},
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if gotID == "" {
		t.Fatal("expected X-Request-ID header to be set")
	}
	if resp.RequestID != gotID {
		t.Errorf("RequestID = %q, server saw %q", resp.RequestID, gotID)
	}
}

func TestRequestIDDisabled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get(RequestIDHeader); got != "" {
			t.Errorf("X-Request-ID = %q, want empty", got)
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{Timeout: 5 * time.Second, DisableRequestID: true})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err != nil {
		t.Fatalf("Do: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Streaming responses
// ---------------------------------------------------------------------------

func TestStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="nmap_20250101_120000.txt"`)
		fmt.Fprint(w, "report body")
	}))
	defer srv.Close()

	c := newTestClient(t)
	resp, err := c.Stream(context.Background(), &Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	defer resp.Body.Close()

	if got := resp.Filename(); got != "nmap_20250101_120000.txt" {
		t.Errorf("Filename() = %q", got)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "report body" {
		t.Errorf("Body = %q", body)
	}
}

func TestStreamFilenameMissing(t *testing.T) {
	r := &StreamResponse{Headers: http.Header{}}
	if got := r.Filename(); got != "" {
		t.Errorf("Filename() = %q, want empty", got)
	}
	r.Headers.Set("Content-Disposition", "%%garbage")
	if got := r.Filename(); got != "" {
		t.Errorf("Filename() = %q, want empty for malformed header", got)
	}
}

// ---------------------------------------------------------------------------
// Status code handling
// ---------------------------------------------------------------------------

func TestStatusCodeHandling(t *testing.T) {
	codes := []int{200, 400, 404, 500}
	for _, code := range codes {
		t.Run(fmt.Sprintf("status_%d", code), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(code)
			}))
			defer srv.Close()

			c := newTestClient(t)
			resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
			if err != nil {
				t.Fatalf("Do: %v", err)
			}
			if resp.StatusCode != code {
				t.Errorf("StatusCode = %d, want %d", resp.StatusCode, code)
			}
			if resp.OK() != (code == 200) {
				t.Errorf("OK() = %v for %d", resp.OK(), code)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Timeout handling
// ---------------------------------------------------------------------------

func TestTimeoutHandling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c, _ := NewClient(ClientOptions{Timeout: 100 * time.Millisecond})
	if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err == nil {
		t.Error("expected timeout error, got nil")
	}
	if got := c.Stats().FailedRequests; got != 1 {
		t.Errorf("FailedRequests = %d, want 1", got)
	}
}

func TestPerRequestTimeoutOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	c, _ := NewClient(ClientOptions{Timeout: 5 * time.Second})
	_, err := c.Do(context.Background(), &Request{
		URL:     srv.URL,
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Error("expected timeout error from per-request override, got nil")
	}
}

func TestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	c := newTestClient(t)
	if _, err := c.Do(ctx, &Request{URL: srv.URL}); err == nil {
		t.Error("expected error after cancellation, got nil")
	}
}

// ---------------------------------------------------------------------------
// Stats tracking
// ---------------------------------------------------------------------------

func TestStatsTracking(t *testing.T) {
	var reqCount atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqCount.Add(1)
		time.Sleep(10 * time.Millisecond)
	}))
	defer srv.Close()

	c := newTestClient(t)
	for i := 0; i < 5; i++ {
		if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
	}

	stats := c.Stats()
	if stats.TotalRequests != 5 {
		t.Errorf("TotalRequests = %d, want 5", stats.TotalRequests)
	}
	if stats.FailedRequests != 0 {
		t.Errorf("FailedRequests = %d, want 0", stats.FailedRequests)
	}
	if stats.AvgDuration <= 0 {
		t.Errorf("AvgDuration = %v, want > 0", stats.AvgDuration)
	}
	if reqCount.Load() != 5 {
		t.Errorf("server saw %d requests, want 5", reqCount.Load())
	}
}

// ---------------------------------------------------------------------------
// Rate limiting
// ---------------------------------------------------------------------------

func TestRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c, _ := NewClient(ClientOptions{Timeout: 5 * time.Second, MaxRPS: 10})
	start := time.Now()
	for i := 0; i < 4; i++ {
		if _, err := c.Do(context.Background(), &Request{URL: srv.URL}); err != nil {
			t.Fatalf("Do #%d: %v", i, err)
		}
	}
	// Burst of 1 at 10 rps: three waits of ~100ms.
	if elapsed := time.Since(start); elapsed < 250*time.Millisecond {
		t.Errorf("4 requests at 10 rps took %v, expected >= ~300ms", elapsed)
	}

	c.SetRateLimit(0)
	if c.limiter != nil {
		t.Error("SetRateLimit(0) should disable the limiter")
	}
}

// ---------------------------------------------------------------------------
// Proxy and TLS options
// ---------------------------------------------------------------------------

func TestInvalidProxy(t *testing.T) {
	if _, err := NewClient(ClientOptions{ProxyURL: "://bad-url"}); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
	if _, err := NewClient(ClientOptions{ProxyURL: "127.0.0.1"}); err == nil {
		t.Error("expected error for proxy URL without scheme")
	}
	if _, err := NewClient(ClientOptions{ProxyURL: "http://127.0.0.1:8080"}); err != nil {
		t.Errorf("valid proxy URL rejected: %v", err)
	}
}

func TestTLSInsecureSkipVerifyWithHTTPS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "secure")
	}))
	defer srv.Close()

	cStrict, _ := NewClient(ClientOptions{Timeout: 5 * time.Second})
	if _, err := cStrict.Do(context.Background(), &Request{URL: srv.URL}); err == nil {
		t.Error("expected TLS error with strict verification, got nil")
	}

	cInsecure, _ := NewClient(ClientOptions{
		Timeout:            5 * time.Second,
		InsecureSkipVerify: true,
	})
	resp, err := cInsecure.Do(context.Background(), &Request{URL: srv.URL})
	if err != nil {
		t.Fatalf("Do with InsecureSkipVerify: %v", err)
	}
	if resp.BodyString() != "secure" {
		t.Errorf("Body = %q, want %q", resp.BodyString(), "secure")
	}
}
