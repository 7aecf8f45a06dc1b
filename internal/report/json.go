package report

import (
	"context"
	"encoding/json"
	"io"
	"time"
)

// JSONReporter outputs structured JSON.
type JSONReporter struct {
	// Compact outputs single-line JSON when true (no indentation).
	Compact bool
}

// Format returns "json".
func (r *JSONReporter) Format() string {
	return "json"
}

// document is the top-level structure shared by the JSON and YAML reporters.
type document struct {
	SchemaVersion string       `json:"schema_version" yaml:"schema_version"`
	Tool          string       `json:"tool" yaml:"tool"`
	Session       docSession   `json:"session" yaml:"session"`
	Lines         []docLine    `json:"lines" yaml:"lines"`
	Messages      []docMessage `json:"messages,omitempty" yaml:"messages,omitempty"`
	Summary       docSummary   `json:"summary" yaml:"summary"`
}

type docSession struct {
	ID              string     `json:"id" yaml:"id"`
	ScanType        string     `json:"scan_type" yaml:"scan_type"`
	ScanOption      string     `json:"scan_option,omitempty" yaml:"scan_option,omitempty"`
	Target          string     `json:"target" yaml:"target"`
	Status          string     `json:"status" yaml:"status"`
	Progress        float64    `json:"progress" yaml:"progress"`
	StartTime       *time.Time `json:"start_time,omitempty" yaml:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty" yaml:"end_time,omitempty"`
	DurationSeconds float64    `json:"duration_seconds" yaml:"duration_seconds"`
}

type docLine struct {
	Text     string `json:"text" yaml:"text"`
	Category string `json:"category" yaml:"category"`
}

type docMessage struct {
	Text      string `json:"text" yaml:"text"`
	Treatment string `json:"treatment" yaml:"treatment"`
}

type docSummary struct {
	TotalLines int            `json:"total_lines" yaml:"total_lines"`
	Categories map[string]int `json:"categories" yaml:"categories"`
}

func newDocument(t *Transcript) document {
	doc := document{
		SchemaVersion: "1.0",
		Tool:          "shieldctl",
		Session: docSession{
			ID:              t.SessionID,
			ScanType:        t.ScanType,
			ScanOption:      t.ScanOption,
			Target:          t.Target,
			Status:          outcome(t),
			Progress:        t.Progress,
			DurationSeconds: t.Duration().Seconds(),
		},
		Lines: make([]docLine, 0, len(t.Lines)),
		Summary: docSummary{
			TotalLines: len(t.Lines),
			Categories: make(map[string]int),
		},
	}
	if !t.StartedAt.IsZero() {
		start := t.StartedAt.UTC()
		doc.Session.StartTime = &start
	}
	if !t.EndedAt.IsZero() {
		end := t.EndedAt.UTC()
		doc.Session.EndTime = &end
	}

	for _, l := range t.Lines {
		doc.Lines = append(doc.Lines, docLine{Text: l.Text, Category: l.Category.String()})
	}
	for c, n := range t.CategoryCounts() {
		doc.Summary.Categories[c.String()] = n
	}
	for _, m := range t.Messages {
		doc.Messages = append(doc.Messages, docMessage{Text: m.Text, Treatment: m.Treatment.String()})
	}
	return doc
}

// Generate writes the transcript as JSON to w.
func (r *JSONReporter) Generate(ctx context.Context, t *Transcript, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	if !r.Compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(newDocument(t))
}
