package validation

import (
	"regexp"
	"strconv"
	"strings"
)

// ThreatType names the kind of payload found.
type ThreatType string

const (
	ThreatSQL       ThreatType = "SQL_INJECTION"
	ThreatNoSQL     ThreatType = "NOSQL_INJECTION"
	ThreatXSS       ThreatType = "XSS"
	ThreatTraversal ThreatType = "PATH_TRAVERSAL"
	ThreatCommand   ThreatType = "COMMAND_INJECTION"
)

// Finding locates a suspicious value by its JSON path.
type Finding struct {
	Path string     `json:"path"`
	Type ThreatType `json:"type"`
}

// Limits bound the recursive scan.
type Limits struct {
	MaxDepth     int
	MaxNodes     int
	MaxStringLen int
}

// DefaultLimits is depth 10, 10000 nodes, first 10000 bytes of each string.
func DefaultLimits() Limits {
	return Limits{MaxDepth: 10, MaxNodes: 10000, MaxStringLen: 10000}
}

type signature struct {
	typ ThreatType
	re  *regexp.Regexp
}

var signatures = []signature{
	{ThreatSQL, regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`)},
	{ThreatSQL, regexp.MustCompile(`(?i)\bunion\b\s+(all\s+)?select\b`)},
	{ThreatSQL, regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update)\s+`)},
	{ThreatSQL, regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark)\s*\(`)},
	{ThreatXSS, regexp.MustCompile(`(?i)<\s*script\b`)},
	{ThreatXSS, regexp.MustCompile(`(?i)javascript\s*:`)},
	{ThreatXSS, regexp.MustCompile(`(?i)\bon(load|error|click|mouseover|focus|submit)\s*=`)},
	{ThreatXSS, regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg)\b`)},
	{ThreatTraversal, regexp.MustCompile(`\.\.[/\\]`)},
	{ThreatTraversal, regexp.MustCompile(`(?i)%2e%2e(%2f|%5c)`)},
	{ThreatCommand, regexp.MustCompile(`(?i)[;&|]\s*(cat|ls|rm|wget|curl|nc|bash|sh|whoami|chmod)\b`)},
	{ThreatCommand, regexp.MustCompile("`[^`]+`")},
	{ThreatCommand, regexp.MustCompile(`\$\([^)]+\)`)},
}

var nosqlOperators = map[string]bool{
	"$where": true, "$ne": true, "$gt": true, "$gte": true, "$lt": true, "$lte": true,
	"$regex": true, "$in": true, "$nin": true, "$or": true, "$and": true, "$expr": true,
	"$function": true, "$accumulator": true,
}

// DetectInjection recursively scans v with DefaultLimits.
func DetectInjection(v any) []Finding {
	return DetectInjectionWithLimits(v, DefaultLimits())
}

// DetectInjectionWithLimits recursively scans maps, slices and strings. Structures deeper
// than MaxDepth are reported as a finding at the cut-off path.
func DetectInjectionWithLimits(v any, limits Limits) []Finding {
	s := scanner{limits: limits}
	s.walk(v, "$", 0)
	return s.findings
}

type scanner struct {
	limits   Limits
	nodes    int
	findings []Finding
}

func (s *scanner) walk(v any, path string, depth int) {
	s.nodes++
	if s.nodes > s.limits.MaxNodes {
		return
	}
	if depth > s.limits.MaxDepth {
		s.findings = append(s.findings, Finding{Path: path, Type: ThreatNoSQL})
		return
	}
	switch t := v.(type) {
	case string:
		if typ, ok := matchString(t, s.limits.MaxStringLen); ok {
			s.findings = append(s.findings, Finding{Path: path, Type: typ})
		}
	case map[string]any:
		for k, val := range t {
			child := path + "." + k
			if strings.HasPrefix(k, "$") && nosqlOperators[strings.ToLower(k)] {
				s.findings = append(s.findings, Finding{Path: child, Type: ThreatNoSQL})
				continue
			}
			if typ, ok := matchString(k, s.limits.MaxStringLen); ok {
				s.findings = append(s.findings, Finding{Path: child, Type: typ})
				continue
			}
			s.walk(val, child, depth+1)
		}
	case []any:
		for i, val := range t {
			s.walk(val, path+"["+strconv.Itoa(i)+"]", depth+1)
		}
	}
}

func matchString(s string, maxLen int) (ThreatType, bool) {
	if maxLen > 0 && len(s) > maxLen {
		s = s[:maxLen]
	}
	for _, sig := range signatures {
		if sig.re.MatchString(s) {
			return sig.typ, true
		}
	}
	return "", false
}
