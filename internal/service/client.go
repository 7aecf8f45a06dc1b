package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/0x6d61/shieldctl/internal/transport"
)

const tracerName = "github.com/0x6d61/shieldctl/internal/service"

// maxErrorBody bounds how much of a failed report download is read when
// looking for an error payload.
const maxErrorBody = 64 << 10

// Client talks to one scan service instance.
type Client struct {
	base   *url.URL
	http   transport.Client
	tracer trace.Tracer
	logger *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithTracer overrides the tracer. The default comes from the global
// OpenTelemetry provider.
func WithTracer(t trace.Tracer) Option {
	return func(c *Client) { c.tracer = t }
}

// WithLogger sets the logger used for request-level debug output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the service rooted at baseURL.
func New(baseURL string, hc transport.Client, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("service: parse base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("service: base URL %q must be http or https", baseURL)
	}
	if hc == nil {
		return nil, fmt.Errorf("service: nil transport client")
	}

	c := &Client{
		base:   u,
		http:   hc,
		tracer: otel.Tracer(tracerName),
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Stats returns the request statistics of the underlying transport.
func (c *Client) Stats() *transport.TransportStats {
	return c.http.Stats()
}

// Start launches a scan and returns the session the service assigned.
func (c *Client) Start(ctx context.Context, req StartRequest) (*StartResponse, error) {
	const op = "start scan"
	ctx, span := c.tracer.Start(ctx, "service.start",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scan.type", req.ScanType),
			attribute.String("scan.option", req.ScanOption),
			attribute.String("scan.target", req.Target),
		))
	defer span.End()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, c.fail(span, &TransportError{Op: op, Err: err})
	}

	var out StartResponse
	if err := c.doJSON(ctx, op, &transport.Request{
		Method:      http.MethodPost,
		URL:         c.endpoint(nil, "api", "scan"),
		Body:        body,
		ContentType: "application/json",
	}, &out); err != nil {
		return nil, c.fail(span, err)
	}
	if out.SessionID == "" {
		return nil, c.fail(span, &TransportError{Op: op, Err: fmt.Errorf("response has no scan_id")})
	}

	span.SetAttributes(attribute.String("scan.session_id", out.SessionID.String()))
	return &out, nil
}

// Poll fetches the output lines produced after cursor.
func (c *Client) Poll(ctx context.Context, id SessionID, cursor int) (*PollResult, error) {
	const op = "poll scan"
	ctx, span := c.tracer.Start(ctx, "service.poll",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scan.session_id", id.String()),
			attribute.Int("scan.cursor", cursor),
		))
	defer span.End()

	q := url.Values{"last_line": {strconv.Itoa(cursor)}}
	var out PollResult
	if err := c.doJSON(ctx, op, &transport.Request{
		URL: c.endpoint(q, "api", "scan", id.String(), "status"),
	}, &out); err != nil {
		return nil, c.fail(span, err)
	}

	span.SetAttributes(
		attribute.Int("scan.new_lines", len(out.NewLines)),
		attribute.Int("scan.line_count", out.LineCount),
		attribute.String("scan.status", out.Status),
	)
	return &out, nil
}

// Stop asks the service to cancel a running scan. The scan's status only
// changes once the service reports it through Poll.
func (c *Client) Stop(ctx context.Context, id SessionID) (*StopResponse, error) {
	const op = "stop scan"
	ctx, span := c.tracer.Start(ctx, "service.stop",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("scan.session_id", id.String())))
	defer span.End()

	var out StopResponse
	if err := c.doJSON(ctx, op, &transport.Request{
		Method: http.MethodPost,
		URL:    c.endpoint(nil, "api", "scan", id.String(), "stop"),
	}, &out); err != nil {
		return nil, c.fail(span, err)
	}
	return &out, nil
}

// Report opens the report artifact for a finished scan.
func (c *Client) Report(ctx context.Context, id SessionID, format string) (*Report, error) {
	const op = "download report"
	ctx, span := c.tracer.Start(ctx, "service.report",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("scan.session_id", id.String()),
			attribute.String("report.format", format),
		))
	defer span.End()

	q := url.Values{"format": {format}}
	resp, err := c.http.Stream(ctx, &transport.Request{
		URL: c.endpoint(q, "api", "scan", id.String(), "report"),
	})
	if err != nil {
		return nil, c.fail(span, &TransportError{Op: op, Err: err})
	}
	if !resp.OK() {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		var payload errorPayload
		_ = json.Unmarshal(raw, &payload)
		return nil, c.fail(span, newServiceError(op, resp.StatusCode, payload.Error))
	}

	span.SetAttributes(attribute.Int64("report.size", resp.ContentLength))
	return &Report{
		Filename:    resp.Filename(),
		ContentType: resp.Headers.Get("Content-Type"),
		Size:        resp.ContentLength,
		Body:        resp.Body,
	}, nil
}

// doJSON performs req and decodes a JSON reply into out. Any reply carrying
// an "error" member is a ServiceError, whatever its status code.
func (c *Client) doJSON(ctx context.Context, op string, req *transport.Request, out any) error {
	resp, err := c.http.Do(ctx, req)
	if err != nil {
		return &TransportError{Op: op, Err: err}
	}
	c.logger.Debug("service response",
		"op", op,
		"status", resp.StatusCode,
		"duration", resp.Duration,
		"request_id", resp.RequestID,
	)

	var payload errorPayload
	if err := json.Unmarshal(resp.Body, &payload); err == nil && payload.Error != "" {
		return newServiceError(op, resp.StatusCode, payload.Error)
	}
	if !resp.OK() {
		return newServiceError(op, resp.StatusCode, "")
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return &TransportError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

func (c *Client) endpoint(q url.Values, elem ...string) string {
	for i, e := range elem {
		elem[i] = url.PathEscape(e)
	}
	u := c.base.JoinPath(elem...)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
