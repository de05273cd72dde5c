// Package querysafety enforces the parameterized-query contract: static query validation,
// identifier whitelisting, structured WHERE building, brute-force guarding and query auditing.
package querysafety

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// MaxQueryLength bounds accepted query text.
const MaxQueryLength = 5000

// ErrQueryRejected matches every rejection from ValidateQuery and the identifier checks.
var ErrQueryRejected = errors.New("query rejected")

// RejectedError names why a query or identifier was refused. The reason is for logs only.
type RejectedError struct {
	Reason string
}

func (e *RejectedError) Error() string { return "query rejected: " + e.Reason }

func (e *RejectedError) Is(target error) bool { return target == ErrQueryRejected }

func reject(format string, args ...any) error {
	return &RejectedError{Reason: fmt.Sprintf(format, args...)}
}

type shapeRule struct {
	reason string
	re     *regexp.Regexp
}

var shapeRules = []shapeRule{
	{"ddl statement", regexp.MustCompile(`(?i)^\s*(create|drop|alter|truncate|rename|grant|revoke)\b`)},
	{"ddl statement", regexp.MustCompile(`(?i)\b(drop|alter|truncate)\s+(table|database|schema|index|view|function|trigger|user|role)\b`)},
	{"union select", regexp.MustCompile(`(?i)\bunion\s+(all\s+|distinct\s+)?select\b`)},
	{"tautology", regexp.MustCompile(`(?i)\bor\b\s*\(*\s*\d+\s*(=|!=|<>|[<>]=?)\s*\d+\b`)},
	{"tautology", regexp.MustCompile(`(?i)\bor\b\s*\(*\s*'[^']*'\s*(=|!=|<>)\s*'[^']*'`)},
	{"tautology", regexp.MustCompile(`(?i)\bor\b\s*\(*\s*(true|not\s+false)\b`)},
	{"out-of-band primitive", regexp.MustCompile(`(?i)\binto\s+(out|dump)file\b|\bload_file\s*\(|\bpg_read_(binary_)?file\b|\bpg_ls_dir\b|\bxp_cmdshell\b|\blo_(import|export)\b|\bdblink\b`)},
	{"out-of-band primitive", regexp.MustCompile(`(?i)\bcopy\b[\s\S]*\b(to|from)\s+program\b`)},
	{"schema probing", regexp.MustCompile(`(?i)\binformation_schema\b|\bpg_catalog\b|\bpg_shadow\b|\bsqlite_(master|schema)\b|\bmysql\s*\.\s*user\b`)},
	{"time-based probe", regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`)},
	{"hex literal", regexp.MustCompile(`(?i)\b0x[0-9a-f]+\b|\bx'[0-9a-f]*'`)},
}

// ValidateQuery statically checks a parameterized query and its arguments before execution.
// Placeholders may be either ? or $n, not both.
func ValidateQuery(query string, params []any) error {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return reject("empty query")
	}
	if len(query) > MaxQueryLength {
		return reject("query longer than %d characters", MaxQueryLength)
	}

	sc, err := scan(trimmed)
	if err != nil {
		return err
	}
	for _, rule := range shapeRules {
		if rule.re.MatchString(trimmed) {
			return reject("%s", rule.reason)
		}
	}

	switch {
	case sc.question > 0 && sc.maxDollar > 0:
		return reject("mixed placeholder styles")
	case sc.maxDollar > 0:
		if sc.maxDollar != len(params) {
			return reject("placeholder count %d does not match %d parameters", sc.maxDollar, len(params))
		}
		for i := 1; i <= sc.maxDollar; i++ {
			if !sc.dollars[i] {
				return reject("placeholder $%d is never used", i)
			}
		}
	default:
		if sc.question != len(params) {
			return reject("placeholder count %d does not match %d parameters", sc.question, len(params))
		}
	}

	for i, p := range params {
		if !primitive(p) {
			return reject("parameter %d has non-primitive type %T", i+1, p)
		}
	}
	return nil
}

type scanResult struct {
	question  int
	maxDollar int
	dollars   map[int]bool
}

// scan walks the query outside string literals and quoted identifiers, counting placeholders
// and rejecting comments, stacked statements and unbalanced quotes or parentheses.
func scan(q string) (scanResult, error) {
	res := scanResult{dollars: map[int]bool{}}
	depth := 0
	for i := 0; i < len(q); i++ {
		c := q[i]
		switch c {
		case '\'', '"':
			end := closingQuote(q, i+1, c)
			if end < 0 {
				return res, reject("unbalanced quotes")
			}
			i = end
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return res, reject("unbalanced parentheses")
			}
		case '-':
			if i+1 < len(q) && q[i+1] == '-' {
				return res, reject("inline comment")
			}
		case '/':
			if i+1 < len(q) && q[i+1] == '*' {
				return res, reject("block comment")
			}
		case '*':
			if i+1 < len(q) && q[i+1] == '/' {
				return res, reject("block comment")
			}
		case '#':
			return res, reject("inline comment")
		case ';':
			if strings.TrimSpace(q[i+1:]) != "" {
				return res, reject("multiple statements")
			}
		case '?':
			res.question++
		case '$':
			j := i + 1
			for j < len(q) && q[j] >= '0' && q[j] <= '9' {
				j++
			}
			if j == i+1 {
				return res, reject("dollar-quoted or malformed placeholder")
			}
			n, err := strconv.Atoi(q[i+1 : j])
			if err != nil || n == 0 {
				return res, reject("malformed placeholder")
			}
			res.dollars[n] = true
			if n > res.maxDollar {
				res.maxDollar = n
			}
			i = j - 1
		}
	}
	if depth != 0 {
		return res, reject("unbalanced parentheses")
	}
	return res, nil
}

// closingQuote returns the index of the quote closing a literal opened before start. Doubled
// quotes are escapes.
func closingQuote(q string, start int, quote byte) int {
	for i := start; i < len(q); i++ {
		if q[i] != quote {
			continue
		}
		if i+1 < len(q) && q[i+1] == quote {
			i++
			continue
		}
		return i
	}
	return -1
}

func primitive(v any) bool {
	switch v.(type) {
	case nil, bool, string, []byte, time.Time,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	case driver.Valuer:
		return true
	default:
		return false
	}
}
