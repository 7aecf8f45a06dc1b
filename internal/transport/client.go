package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries a per-request correlation ID.
const RequestIDHeader = "X-Request-ID"

// Client is the interface for the HTTP transport layer. Every call to the
// remote scan service goes through it.
type Client interface {
	// Do sends a request and buffers the whole response body.
	Do(ctx context.Context, req *Request) (*Response, error)

	// Stream sends a request and hands back the unread body.
	Stream(ctx context.Context, req *Request) (*StreamResponse, error)

	// Stats returns transport statistics.
	Stats() *TransportStats
}

// TransportStats holds aggregate statistics for the transport client.
type TransportStats struct {
	TotalRequests  int64
	FailedRequests int64
	TotalDuration  time.Duration
	AvgDuration    time.Duration
}

// ClientOptions holds configuration for creating a new DefaultClient.
type ClientOptions struct {
	// Timeout is the default timeout for all requests.
	Timeout time.Duration

	// ProxyURL is an optional HTTP proxy.
	ProxyURL string

	// InsecureSkipVerify disables TLS certificate verification.
	InsecureSkipVerify bool

	// UserAgent is sent with every request when non-empty.
	UserAgent string

	// MaxRPS is the maximum requests per second (0 = unlimited).
	MaxRPS float64

	// DisableRequestID turns off the X-Request-ID header.
	DisableRequestID bool
}

// DefaultClient is the default implementation of the Client interface,
// backed by net/http.
type DefaultClient struct {
	httpClient      *http.Client
	opts            ClientOptions
	limiter         *rate.Limiter
	mu              sync.RWMutex
	totalRequests   int64
	failedRequests  int64
	totalDurationNs int64
}

// Compile-time check that DefaultClient implements Client.
var _ Client = (*DefaultClient)(nil)

// NewClient creates a new DefaultClient with the given options.
func NewClient(opts ClientOptions) (*DefaultClient, error) {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
		},
		ForceAttemptHTTP2: true,
		Proxy:             http.ProxyFromEnvironment,
	}

	if opts.ProxyURL != "" {
		proxyURL, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %w", err)
		}
		if proxyURL.Scheme == "" || proxyURL.Host == "" {
			return nil, fmt.Errorf("invalid proxy URL: missing scheme or host")
		}
		tr.Proxy = http.ProxyURL(proxyURL)
	}

	dc := &DefaultClient{
		httpClient: &http.Client{
			Transport: tr,
			Timeout:   opts.Timeout,
		},
		opts: opts,
	}
	dc.SetRateLimit(opts.MaxRPS)

	return dc, nil
}

// Do sends an HTTP request and returns the buffered response.
func (c *DefaultClient) Do(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()
	httpResp, requestID, err := c.send(ctx, req)
	if err != nil {
		c.record(time.Since(start), false)
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	duration := time.Since(start)
	if err != nil {
		c.record(duration, false)
		return nil, fmt.Errorf("reading response body: %w", err)
	}
	c.record(duration, true)

	return &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   duration,
		RequestID:  requestID,
	}, nil
}

// Stream sends an HTTP request and returns the response with its body
// unread. The per-request timeout, if any, still bounds reading the body,
// so callers should finish with the body before it elapses.
func (c *DefaultClient) Stream(ctx context.Context, req *Request) (*StreamResponse, error) {
	start := time.Now()
	httpResp, requestID, err := c.send(ctx, req)
	c.record(time.Since(start), err == nil)
	if err != nil {
		return nil, err
	}

	return &StreamResponse{
		StatusCode:    httpResp.StatusCode,
		Headers:       httpResp.Header,
		Body:          httpResp.Body,
		ContentLength: httpResp.ContentLength,
		RequestID:     requestID,
	}, nil
}

// send applies rate limiting and request decoration, then performs the
// round trip.
func (c *DefaultClient) send(ctx context.Context, req *Request) (*http.Response, string, error) {
	c.mu.RLock()
	limiter := c.limiter
	c.mu.RUnlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, "", fmt.Errorf("rate limiter: %w", err)
		}
	}

	var bodyReader io.Reader
	if len(req.Body) > 0 {
		bodyReader = bytes.NewReader(req.Body)
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("creating request: %w", err)
	}

	if req.ContentType != "" {
		httpReq.Header.Set("Content-Type", req.ContentType)
	}
	if c.opts.UserAgent != "" {
		httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	requestID := httpReq.Header.Get(RequestIDHeader)
	if requestID == "" && !c.opts.DisableRequestID {
		requestID = uuid.NewString()
		httpReq.Header.Set(RequestIDHeader, requestID)
	}

	httpClient := c.httpClient
	if req.Timeout > 0 {
		cc := *c.httpClient
		cc.Timeout = req.Timeout
		httpClient = &cc
	}

	httpResp, err := httpClient.Do(httpReq)
	if err != nil {
		return nil, requestID, err
	}
	return httpResp, requestID, nil
}

func (c *DefaultClient) record(d time.Duration, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalDurationNs += d.Nanoseconds()
	if !ok {
		c.failedRequests++
	}
}

// SetRateLimit sets the maximum number of requests per second.
// A value of 0 or less disables rate limiting.
func (c *DefaultClient) SetRateLimit(rps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rps <= 0 {
		c.limiter = nil
		return
	}
	c.limiter = rate.NewLimiter(rate.Limit(rps), 1)
}

// Stats returns aggregate transport statistics.
func (c *DefaultClient) Stats() *TransportStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats := &TransportStats{
		TotalRequests:  c.totalRequests,
		FailedRequests: c.failedRequests,
		TotalDuration:  time.Duration(c.totalDurationNs),
	}
	if c.totalRequests > 0 {
		stats.AvgDuration = time.Duration(c.totalDurationNs / c.totalRequests)
	}
	return stats
}
