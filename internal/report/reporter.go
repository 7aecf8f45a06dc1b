// Package report covers the two artifacts a scan leaves behind: the report
// the scan service produces once a scan completes, and a local transcript
// of what was rendered during the session.
package report

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Reporter writes a transcript in a specific format.
type Reporter interface {
	// Format returns the format name (e.g., "text", "json").
	Format() string

	// Generate writes the formatted transcript to w.
	Generate(ctx context.Context, t *Transcript, w io.Writer) error
}

// New creates a reporter by format name ("text", "json" or "yaml").
// The format name is case-insensitive.
func New(format string) (Reporter, error) {
	switch strings.ToLower(format) {
	case "text":
		return &TextReporter{}, nil
	case "json":
		return &JSONReporter{}, nil
	case "yaml", "yml":
		return &YAMLReporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported transcript format: %q", format)
	}
}
