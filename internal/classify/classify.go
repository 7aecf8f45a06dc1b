// Package classify assigns a severity category to raw scan output lines.
package classify

import "strings"

// Category is the display category of a single output line.
type Category int

const (
	Neutral Category = iota
	Severe
	Warning
	Success
	Informational
	Highlighted
)

// String returns the lower-case category name.
func (c Category) String() string {
	names := [...]string{"neutral", "severe", "warning", "success", "informational", "highlighted"}
	if int(c) >= 0 && int(c) < len(names) {
		return names[c]
	}
	return "unknown"
}

// rule maps a set of literal markers to a category.
type rule struct {
	category Category
	markers  []string
}

// rules is evaluated top to bottom; the first rule with a matching marker
// wins. Matching is case-sensitive substring search.
var rules = []rule{
	{Severe, []string{"CRITICAL", "ERROR", "FAIL", "VULNERABILITY"}},
	{Warning, []string{"WARNING"}},
	{Success, []string{"SUCCESS", "OPEN", "FOUND", "Status: 200"}},
	{Informational, []string{"INFO", "Starting", "Target:"}},
	// Tool banners printed by the directory-discovery scanner.
	{Highlighted, []string{"Hidi scan", "ffuf"}},
}

// Line returns the category of a single output line.
func Line(line string) Category {
	for _, r := range rules {
		for _, m := range r.markers {
			if strings.Contains(line, m) {
				return r.category
			}
		}
	}
	return Neutral
}

// Classified is an output line paired with its category.
type Classified struct {
	Text     string
	Category Category
}

// Lines classifies every line in order.
func Lines(lines []string) []Classified {
	out := make([]Classified, len(lines))
	for i, l := range lines {
		out[i] = Classified{Text: l, Category: Line(l)}
	}
	return out
}
