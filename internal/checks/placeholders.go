package checks

import (
	"regexp"
	"strings"
)

type marker struct {
	name string
	re   *regexp.Regexp
}

var (
	doubleBrace = regexp.MustCompile(`\{\{[^{}]*\}\}`)
	markers     = []marker{
		{"template braces", doubleBrace},
		{"template token", regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_.]*\}`)},
		{"bracketed placeholder", regexp.MustCompile(`\[[A-Z][A-Z0-9 _-]*\]`)},
		{"filler text", regexp.MustCompile(`(?i)lorem ipsum|\bplaceholder\b|\btbd\b|\binsert |your text here|sample text|coming soon`)},
	}
	ellipsisOnly = regexp.MustCompile(`^(?:\.{2,}|…)+$`)
)

// Placeholders returns one entry per placeholder marker found in text.
// Single-brace tokens are searched after double-brace templates are
// removed, so "{{name}}" counts once.
func Placeholders(text string) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	if ellipsisOnly.MatchString(strings.ReplaceAll(trimmed, " ", "")) {
		return []string{"ellipsis-only text"}
	}
	var found []string
	rest := trimmed
	for _, m := range markers {
		for _, hit := range m.re.FindAllString(rest, -1) {
			found = append(found, m.name+" "+hit)
		}
		if m.re == doubleBrace {
			rest = doubleBrace.ReplaceAllString(rest, " ")
		}
	}
	return found
}
