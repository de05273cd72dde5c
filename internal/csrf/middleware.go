package csrf

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
)

// HeaderName and FieldName are where clients put the token.
const (
	HeaderName = "X-CSRF-Token"
	FieldName  = "_csrf"
)

// maxFormScan bounds how much of a body is read to find the token field.
const maxFormScan = 1 << 20

// Middleware enforces CSRF tokens on state-changing requests outside the exempt paths.
// exemptPaths ending in "/" match as prefixes.
type Middleware struct {
	guard    *Guard
	sessions *SessionResolver
	exempt   []string
	events   event.Recorder
	clientIP func(*http.Request) string
}

// NewMiddleware returns the enforcing middleware. events may be nil.
func NewMiddleware(guard *Guard, sessions *SessionResolver, exemptPaths []string, events event.Recorder, clientIP func(*http.Request) string) *Middleware {
	return &Middleware{guard: guard, sessions: sessions, exempt: exemptPaths, events: event.OrNop(events), clientIP: clientIP}
}

func safeMethod(m string) bool {
	return m == http.MethodGet || m == http.MethodHead || m == http.MethodOptions
}

func (m *Middleware) exempted(path string) bool {
	for _, p := range m.exempt {
		if p == "" {
			continue
		}
		if strings.HasSuffix(p, "/") {
			if strings.HasPrefix(path, p) {
				return true
			}
		} else if path == p {
			return true
		}
	}
	return false
}

// Handler wraps next.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if safeMethod(r.Method) || m.exempted(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		ctx := r.Context()
		ip := ""
		if m.clientIP != nil {
			ip = m.clientIP(r)
		}

		token := extractToken(r)
		if token == "" {
			m.violation(r, ip, "missing")
			apierror.Write(w, apierror.Forbidden(apierror.CodeCSRFMissing, "CSRF token missing"))
			return
		}
		if err := m.guard.VerifyToken(ctx, m.sessions.SessionID(r), token); err != nil {
			reason := "invalid"
			if errors.Is(err, ErrStoreUnavailable) {
				reason = "store_unavailable"
				m.guard.logger.Error("csrf verification failed closed", zap.Error(err))
			}
			m.violation(r, ip, reason)
			apierror.Write(w, apierror.Forbidden(apierror.CodeCSRFInvalid, "Invalid CSRF token"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) violation(r *http.Request, ip, reason string) {
	m.events.Record(r.Context(), event.New(event.TypeCSRFViolation, event.SeverityMedium, ip).
		With("reason", reason).
		With("method", r.Method).
		With("path", r.URL.Path))
}

// extractToken reads the header, then the query, then a form or JSON body field. A consumed
// body is restored for downstream handlers.
func extractToken(r *http.Request) string {
	if t := r.Header.Get(HeaderName); t != "" {
		return t
	}
	if t := r.URL.Query().Get(FieldName); t != "" {
		return t
	}
	if r.Body == nil || r.Body == http.NoBody {
		return ""
	}
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
		return ""
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxFormScan+1))
	rest := r.Body
	r.Body = struct {
		io.Reader
		io.Closer
	}{io.MultiReader(bytes.NewReader(body), rest), rest}
	if err != nil || len(body) > maxFormScan {
		return ""
	}
	if mediaType == "application/json" {
		var payload struct {
			CSRF string `json:"_csrf"`
		}
		if json.Unmarshal(body, &payload) == nil {
			return payload.CSRF
		}
		return ""
	}
	values, err := url.ParseQuery(string(body))
	if err != nil {
		return ""
	}
	return values.Get(FieldName)
}
