package querysafety

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

// Dialect selects placeholder style. Both dialects quote identifiers with double quotes.
type Dialect int

const (
	// DialectPostgres uses $1, $2, ... placeholders.
	DialectPostgres Dialect = iota
	// DialectSQLite uses ? placeholders.
	DialectSQLite
)

// DialectFor maps a database/sql driver name to its dialect.
func DialectFor(driverName string) Dialect {
	if driverName == "sqlite" || driverName == "sqlite3" {
		return DialectSQLite
	}
	return DialectPostgres
}

// Placeholder returns the n-th (1-based) placeholder.
func (d Dialect) Placeholder(n int) string {
	if d == DialectSQLite {
		return "?"
	}
	return "$" + strconv.Itoa(n)
}

// QuoteIdentifier double-quotes name, doubling embedded quotes.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

var reservedWords = map[string]bool{
	"select": true, "insert": true, "update": true, "delete": true, "drop": true, "create": true,
	"alter": true, "truncate": true, "union": true, "where": true, "from": true, "table": true,
	"grant": true, "revoke": true, "exec": true, "execute": true, "join": true, "or": true,
	"and": true, "not": true, "null": true, "into": true, "values": true, "having": true,
	"group": true, "order": true, "by": true, "limit": true, "offset": true, "database": true,
	"schema": true, "index": true, "view": true, "trigger": true, "procedure": true,
}

// Whitelist is the closed set of table and column names queries may reference.
type Whitelist struct {
	tables  map[string]string
	columns map[string]string
}

// NewWhitelist builds a case-insensitive whitelist. Entries are stored in their given spelling.
func NewWhitelist(tables, columns []string) *Whitelist {
	w := &Whitelist{tables: make(map[string]string, len(tables)), columns: make(map[string]string, len(columns))}
	for _, t := range tables {
		w.tables[strings.ToLower(t)] = t
	}
	for _, c := range columns {
		w.columns[strings.ToLower(c)] = c
	}
	return w
}

// SafeTableIdentifier returns the quoted table name when name is whitelisted.
func (w *Whitelist) SafeTableIdentifier(name string) (string, error) {
	return safeIdentifier(name, "table", w.tables)
}

// SafeColumnIdentifier returns the quoted column name when name is whitelisted.
func (w *Whitelist) SafeColumnIdentifier(name string) (string, error) {
	return safeIdentifier(name, "column", w.columns)
}

func safeIdentifier(name, kind string, allowed map[string]string) (string, error) {
	if name == "" {
		return "", reject("empty %s identifier", kind)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return "", reject("%s identifier contains control characters", kind)
		}
	}
	if strings.Contains(name, "..") || strings.ContainsAny(name, `/\`) {
		return "", reject("%s identifier contains path traversal", kind)
	}
	if name[0] >= '0' && name[0] <= '9' {
		return "", reject("%s identifier starts with a digit", kind)
	}
	if !identPattern.MatchString(name) {
		return "", reject("%s identifier has invalid characters", kind)
	}
	lower := strings.ToLower(name)
	if reservedWords[lower] {
		return "", reject("%s identifier is a reserved word", kind)
	}
	canonical, ok := allowed[lower]
	if !ok {
		return "", reject("%s %q is not whitelisted", kind, name)
	}
	return QuoteIdentifier(canonical), nil
}
