package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Category
	}{
		{"critical", "CRITICAL: remote code execution", Severe},
		{"error", "ERROR could not resolve host", Severe},
		{"fail", "Login FAIL for admin", Severe},
		{"vulnerability", "+ VULNERABILITY: outdated server", Severe},
		{"warning", "WARNING: self-signed certificate", Warning},
		{"warning beats success", "WARNING: SUCCESS noted", Warning},
		{"severe beats warning", "WARNING ERROR", Severe},
		{"success", "SUCCESS", Success},
		{"open port", "22/tcp OPEN ssh", Success},
		{"found", "admin FOUND", Success},
		{"http 200", "/admin [Status: 200, Size: 512]", Success},
		{"info", "INFO loading modules", Informational},
		{"starting", "Starting scan", Informational},
		{"target", "Target: example.com", Informational},
		{"hidi banner", "Hidi scan completed.", Highlighted},
		{"ffuf banner", "ffuf v2.1.0", Highlighted},
		{"neutral", "22/tcp open ssh", Neutral},
		{"empty", "", Neutral},
		{"case sensitive", "error: lowercase is not severe", Neutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Line(tt.line), "Line(%q)", tt.line)
		})
	}
}

func TestLines_PreservesOrder(t *testing.T) {
	got := Lines([]string{"Starting scan", "Target: example.com", "80/tcp OPEN http"})
	assert.Equal(t, []Classified{
		{Text: "Starting scan", Category: Informational},
		{Text: "Target: example.com", Category: Informational},
		{Text: "80/tcp OPEN http", Category: Success},
	}, got)
}

func TestCategoryString(t *testing.T) {
	seen := map[string]bool{}
	for c := Neutral; c <= Highlighted; c++ {
		name := c.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], "duplicate name %q", name)
		seen[name] = true
	}
	assert.Equal(t, "unknown", Category(42).String())
}
