package transport

import (
	"io"
	"mime"
	"net/http"
	"time"
)

// Response is a fully buffered HTTP response.
type Response struct {
	// StatusCode is the HTTP status code.
	StatusCode int

	// Headers contains the response headers.
	Headers http.Header

	// Body is the raw response body.
	Body []byte

	// Duration is the round-trip time including reading the body.
	Duration time.Duration

	// RequestID is the X-Request-ID sent with the request, if any.
	RequestID string
}

// BodyString returns the response body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// OK reports whether the status code is 2xx.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// StreamResponse is an HTTP response whose body has not been read.
// The caller must close Body.
type StreamResponse struct {
	StatusCode    int
	Headers       http.Header
	Body          io.ReadCloser
	ContentLength int64
	RequestID     string
}

// OK reports whether the status code is 2xx.
func (r *StreamResponse) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Filename returns the filename suggested by the Content-Disposition
// header, or "" when the server did not suggest one.
func (r *StreamResponse) Filename() string {
	cd := r.Headers.Get("Content-Disposition")
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	return params["filename"]
}
