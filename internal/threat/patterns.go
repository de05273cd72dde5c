package threat

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// AttackType names a family of attack signatures.
type AttackType string

const (
	AttackSQL       AttackType = "SQL_INJECTION"
	AttackXSS       AttackType = "XSS"
	AttackTraversal AttackType = "PATH_TRAVERSAL"
	AttackCommand   AttackType = "COMMAND_INJECTION"
	AttackLDAP      AttackType = "LDAP_INJECTION"
)

// Critical reports whether a detection of t warrants the heavier reputation penalty.
func (t AttackType) Critical() bool {
	return t == AttackSQL || t == AttackCommand
}

// Detection is the verdict of DetectAttackPattern.
type Detection struct {
	Detected bool       `json:"detected"`
	Type     AttackType `json:"type,omitempty"`
	Location string     `json:"location,omitempty"`
	Pattern  string     `json:"pattern,omitempty"`
}

// Inspection is the part of a request scanned for attack signatures.
type Inspection struct {
	Path      string
	RawQuery  string
	Body      []byte
	Header    http.Header
	UserAgent string
}

// InspectionFromRequest builds an Inspection from r and an already buffered body.
func InspectionFromRequest(r *http.Request, body []byte) Inspection {
	return Inspection{
		Path:      r.URL.Path,
		RawQuery:  r.URL.RawQuery,
		Body:      body,
		Header:    r.Header,
		UserAgent: r.UserAgent(),
	}
}

// scannedHeaders is the header subset checked for signatures.
var scannedHeaders = []string{"User-Agent", "Referer", "X-Forwarded-Host", "X-Original-URL", "X-Rewrite-URL"}

const maxScanBytes = 64 << 10

type signatureSet struct {
	typ      AttackType
	patterns []*regexp.Regexp
}

var signatureSets = []signatureSet{
	{AttackSQL, []*regexp.Regexp{
		regexp.MustCompile(`(?i)['"]\s*(or|and)\s+['"]?\w+['"]?\s*=\s*['"]?\w+`),
		regexp.MustCompile(`(?i)\b(or|and)\s+\d+\s*=\s*\d+`),
		regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`),
		regexp.MustCompile(`(?i);\s*(drop|delete|truncate|alter|insert|update|create)\s+\w`),
		regexp.MustCompile(`'\s*(--|/\*)`),
		regexp.MustCompile(`(?i)\b(sleep|pg_sleep|benchmark)\s*\(|\bwaitfor\s+delay\b`),
		regexp.MustCompile(`(?i)\b(exec|execute)\s+(xp_|sp_)\w+`),
	}},
	{AttackXSS, []*regexp.Regexp{
		regexp.MustCompile(`(?i)<\s*script\b`),
		regexp.MustCompile(`(?i)javascript\s*:`),
		regexp.MustCompile(`(?i)\bon(error|load|click|mouseover|focus|blur|submit|change|keyup|keydown)\s*=`),
		regexp.MustCompile(`(?i)<\s*(iframe|object|embed|svg|img)\b[^>]*>`),
		regexp.MustCompile(`(?i)\bdocument\s*\.\s*(cookie|domain)\b|\beval\s*\(`),
	}},
	{AttackTraversal, []*regexp.Regexp{
		regexp.MustCompile(`\.\.[/\\]`),
		regexp.MustCompile(`(?i)%2e%2e(%2f|%5c|/|\\)`),
		regexp.MustCompile(`(?i)/etc/(passwd|shadow|hosts)\b|\bc:\\windows\\`),
	}},
	{AttackCommand, []*regexp.Regexp{
		regexp.MustCompile(`(?i)(;|&&|\|\|?)\s*(cat|ls|rm|wget|curl|nc|bash|sh|whoami|chmod|ping|id|uname)\b`),
		regexp.MustCompile("`[^`]{1,200}`"),
		regexp.MustCompile(`\$\([^)]{1,200}\)`),
	}},
	{AttackLDAP, []*regexp.Regexp{
		regexp.MustCompile(`\(\s*[&|!]`),
		regexp.MustCompile(`\*\s*\)`),
		regexp.MustCompile(`\)\s*\(`),
	}},
}

// strictLDAP must also match before first-party traffic is flagged as LDAP injection.
var strictLDAP = []*regexp.Regexp{
	regexp.MustCompile(`\(\s*[&|!]\s*\(\s*[\w-]+\s*[~<>]?=`),
	regexp.MustCompile(`\*\s*\)\s*\(\s*[\w-]+\s*=`),
	regexp.MustCompile(`(?i)\(\s*(uid|cn|mail|objectclass|samaccountname)\s*=\s*\*\s*\)`),
}

// Patterns scans requests for attack signatures.
type Patterns struct {
	whitelisted map[string]bool
	firstParty  []string
}

// NewPatterns returns a scanner that strips whitelisted query parameters and relaxes LDAP
// checks for User-Agents starting with one of firstPartyUA.
func NewPatterns(whitelistedParams, firstPartyUA []string) *Patterns {
	wl := make(map[string]bool, len(whitelistedParams))
	for _, p := range whitelistedParams {
		wl[strings.ToLower(p)] = true
	}
	return &Patterns{whitelisted: wl, firstParty: firstPartyUA}
}

// IsFirstParty reports whether ua identifies one of our own clients.
func (p *Patterns) IsFirstParty(ua string) bool {
	for _, prefix := range p.firstParty {
		if prefix != "" && strings.HasPrefix(ua, prefix) {
			return true
		}
	}
	return false
}

type target struct {
	location string
	text     string
}

// Detect returns the first signature hit, checking types in order SQL, XSS, path traversal,
// command, LDAP. Command signatures only see the query and body; LDAP signatures skip headers.
func (p *Patterns) Detect(in Inspection) Detection {
	query, queryValues := p.stripQuery(in.RawQuery)
	urlText := decode(in.Path)
	if query != "" {
		urlText += "?" + query
	}
	body := in.Body
	if len(body) > maxScanBytes {
		body = body[:maxScanBytes]
	}
	bodyText := string(body)

	var headers []target
	for _, name := range scannedHeaders {
		if v := in.Header.Get(name); v != "" {
			headers = append(headers, target{location: "header:" + name, text: truncate(v)})
		}
	}

	firstParty := p.IsFirstParty(in.UserAgent)
	for _, set := range signatureSets {
		var targets []target
		switch set.typ {
		case AttackCommand:
			targets = []target{{"query", queryValues}, {"body", bodyText}}
		case AttackLDAP:
			targets = []target{{"url", urlText}, {"body", bodyText}}
		default:
			targets = append([]target{{"url", urlText}, {"body", bodyText}}, headers...)
		}
		for _, t := range targets {
			if t.text == "" {
				continue
			}
			for _, re := range set.patterns {
				if !re.MatchString(t.text) {
					continue
				}
				if set.typ == AttackLDAP && firstParty && !matchesAny(strictLDAP, t.text) {
					continue
				}
				return Detection{Detected: true, Type: set.typ, Location: t.location, Pattern: re.String()}
			}
		}
	}
	return Detection{}
}

// stripQuery drops whitelisted parameters. It returns the decoded remainder as k=v pairs and
// the bare values one per line.
func (p *Patterns) stripQuery(raw string) (string, string) {
	if raw == "" {
		return "", ""
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		d := decode(raw)
		return d, d
	}
	var pairs, bare strings.Builder
	for k, vs := range values {
		if p.whitelisted[strings.ToLower(k)] {
			continue
		}
		for _, v := range vs {
			if pairs.Len() > 0 {
				pairs.WriteByte('&')
				bare.WriteByte('\n')
			}
			pairs.WriteString(k)
			pairs.WriteByte('=')
			pairs.WriteString(v)
			bare.WriteString(v)
		}
	}
	return truncate(pairs.String()), truncate(bare.String())
}

func decode(s string) string {
	if d, err := url.QueryUnescape(s); err == nil {
		return truncate(d)
	}
	return truncate(s)
}

func truncate(s string) string {
	if len(s) > maxScanBytes {
		return s[:maxScanBytes]
	}
	return s
}

func matchesAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}
