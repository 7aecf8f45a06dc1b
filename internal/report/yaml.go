package report

import (
	"context"
	"io"

	"gopkg.in/yaml.v3"
)

// YAMLReporter outputs the same document as JSONReporter, as YAML.
type YAMLReporter struct{}

// Format returns "yaml".
func (r *YAMLReporter) Format() string {
	return "yaml"
}

// Generate writes the transcript as YAML to w.
func (r *YAMLReporter) Generate(ctx context.Context, t *Transcript, w io.Writer) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(newDocument(t)); err != nil {
		return err
	}
	return enc.Close()
}
