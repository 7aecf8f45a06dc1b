// Package transport provides the HTTP layer used to talk to the remote scan
// service.
package transport

import "time"

// Request represents an HTTP request to be sent by the transport client.
type Request struct {
	// Method is the HTTP method. Empty means GET.
	Method string

	// URL is the absolute request URL.
	URL string

	// Headers contains extra HTTP headers to include.
	Headers map[string]string

	// Body is the request payload.
	Body []byte

	// ContentType is the Content-Type header value.
	ContentType string

	// Timeout overrides the client-level timeout for this request.
	// Zero means use the client default.
	Timeout time.Duration
}
