package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/0x6d61/shieldctl/internal/classify"
)

const (
	doubleLine = "\u2550" // ═
	singleLine = "\u2500" // ─
	lineWidth  = 50
)

// TextReporter outputs plain terminal text.
type TextReporter struct {
	// Categories prefixes every line with its category.
	Categories bool
}

// Format returns "text".
func (r *TextReporter) Format() string {
	return "text"
}

// Generate writes the transcript to w.
func (r *TextReporter) Generate(ctx context.Context, t *Transcript, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b := &strings.Builder{}

	doubleBar := strings.Repeat(doubleLine, lineWidth)
	singleBar := strings.Repeat(singleLine, lineWidth)

	fmt.Fprintln(b, doubleBar)
	fmt.Fprintln(b, "shieldctl - Scan Transcript")
	fmt.Fprintln(b, doubleBar)

	fmt.Fprintf(b, "Session: %s\n", orNone(t.SessionID))
	scanType := t.ScanType
	if t.ScanOption != "" {
		scanType += " (" + t.ScanOption + ")"
	}
	fmt.Fprintf(b, "Scan:    %s\n", orNone(scanType))
	fmt.Fprintf(b, "Target:  %s\n", orNone(t.Target))
	if d := t.Duration(); d > 0 {
		fmt.Fprintf(b, "Duration: %.1fs\n", d.Seconds())
	}

	fmt.Fprintln(b, singleBar)
	if len(t.Lines) == 0 {
		fmt.Fprintln(b, "No output received.")
	}
	for _, l := range t.Lines {
		if r.Categories {
			fmt.Fprintf(b, "[%-13s] %s\n", l.Category, l.Text)
		} else {
			fmt.Fprintln(b, l.Text)
		}
	}

	if len(t.Messages) > 0 {
		fmt.Fprintln(b, singleBar)
		for _, m := range t.Messages {
			fmt.Fprintf(b, "%-7s %s\n", m.Treatment, m.Text)
		}
	}

	fmt.Fprintln(b, doubleBar)
	counts := t.CategoryCounts()
	fmt.Fprintf(b, "Status: %s  Lines: %d  Severe: %d  Warnings: %d\n",
		outcome(t), len(t.Lines), counts[classify.Severe], counts[classify.Warning])
	fmt.Fprintln(b, doubleBar)

	_, err := io.WriteString(w, b.String())
	return err
}

func orNone(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// outcome is the status shown in summaries; a halted session is reported
// as such rather than as still running.
func outcome(t *Transcript) string {
	if t.Halted {
		return "halted"
	}
	if t.Status == "" {
		return "idle"
	}
	return t.Status.String()
}
