package validation

import (
	"html"
	"strings"
	"unicode"
)

// SanitizeString trims, drops control characters (keeping tab and newline) and HTML-escapes.
func SanitizeString(s string) string {
	s = strings.Map(func(r rune) rune {
		if r == '\t' || r == '\n' {
			return r
		}
		if unicode.IsControl(r) || r == '\uFEFF' {
			return -1
		}
		return r
	}, s)
	return html.EscapeString(strings.TrimSpace(s))
}

// Sanitize returns a copy of a decoded JSON value with every string sanitized.
// Map keys are sanitized too.
func Sanitize(v any) any {
	switch t := v.(type) {
	case string:
		return SanitizeString(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[SanitizeString(k)] = Sanitize(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Sanitize(val)
		}
		return out
	default:
		return v
	}
}
