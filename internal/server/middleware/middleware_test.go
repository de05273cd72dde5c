package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/security"
	"security-gateway/backend/internal/server/interceptors"
	"security-gateway/backend/internal/threat"
)

type capture struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *capture) Record(_ context.Context, e event.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

type verifierFunc func(ctx context.Context, token string) (*security.Claims, error)

func (f verifierFunc) VerifyAccessToken(ctx context.Context, token string) (*security.Claims, error) {
	return f(ctx, token)
}

var acceptGood = verifierFunc(func(ctx context.Context, token string) (*security.Claims, error) {
	if token != "good" {
		return nil, errors.New("invalid")
	}
	return &security.Claims{RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"}, Role: "customer"}, nil
})

func trusted(t *testing.T, cidrs ...string) *interceptors.TrustedProxies {
	t.Helper()
	p, err := interceptors.ParseTrustedProxies(cidrs)
	require.NoError(t, err)
	return p
}

func TestClientIP(t *testing.T) {
	proxies := trusted(t, "10.0.0.0/8")
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded ignored from untrusted peer", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "198.51.100.7:1234", "198.51.100.7"},
		{"private forwarded ignored from untrusted peer", map[string]string{"X-Forwarded-For": "10.0.0.1"}, "198.51.100.8:1234", "198.51.100.8"},
		{"real ip ignored from untrusted peer", map[string]string{"X-Real-IP": "127.0.0.1"}, "198.51.100.7:1234", "198.51.100.7"},
		{"forwarded via trusted proxy", map[string]string{"X-Forwarded-For": "203.0.113.1"}, "10.0.0.9:1234", "203.0.113.1"},
		{"spoofed leftmost hop skipped", map[string]string{"X-Forwarded-For": "10.0.0.1, 203.0.113.1"}, "10.0.0.9:1234", "203.0.113.1"},
		{"real ip via trusted proxy", map[string]string{"X-Real-IP": "203.0.113.2"}, "10.0.0.9:1234", "203.0.113.2"},
		{"remote addr", nil, "198.51.100.7:5555", "198.51.100.7"},
		{"remote without port", nil, "198.51.100.7", "198.51.100.7"},
		{"ipv6 remote", nil, "[2001:db8::1]:443", "2001:db8::1"},
		{"empty remote", nil, "", "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(r, proxies))
		})
	}
}

func TestWithClientIP_StoresAddress(t *testing.T) {
	var got string
	h := WithClientIP(trusted(t, "192.0.2.0/24"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = interceptors.GetClientIP(r.Context())
	}))
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Real-IP", "203.0.113.4")
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "203.0.113.4", got, "httptest requests come from 192.0.2.1")

	h = WithClientIP(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = interceptors.GetClientIP(r.Context())
	}))
	h.ServeHTTP(httptest.NewRecorder(), r)
	assert.Equal(t, "192.0.2.1", got)
}

func TestWithClientIP_RotatingForwardedHeaderStillRateLimited(t *testing.T) {
	detector := threat.New(threat.Options{Enforce: true, RateWindow: time.Minute, RateMax: 2, MaxRequestSize: 1 << 10}, nil, nil)
	h := WithClientIP(nil)(detector.Middleware(RequestIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})))

	var codes []int
	for i := 0; i < 4; i++ {
		r := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		r.RemoteAddr = "198.51.100.7:40000"
		r.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i+1))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, r)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{204, 204, 429, 429}, codes)

	for i := 0; i < 4; i++ {
		r := httptest.NewRequest(http.MethodPost, "/api/login", strings.NewReader(`{"q":"' OR '1'='1'"}`))
		r.RemoteAddr = "198.51.100.8:40000"
		r.Header.Set("X-Forwarded-For", "10.0.0.1")
		h.ServeHTTP(httptest.NewRecorder(), r)
	}
	check := detector.CheckIPReputation("198.51.100.8")
	assert.False(t, check.Bypassed)
	assert.Greater(t, check.Score, 0.0, "attacks are scored against the socket address")
	_, ok := detector.Reputation("10.0.0.1")
	assert.False(t, ok, "the spoofed address gains no state")
}

type observed struct {
	method string
	status int
}

type observerFunc func(method string, status int, d time.Duration)

func (f observerFunc) ObserveRequest(method string, status int, d time.Duration) { f(method, status, d) }

func TestRequestLogger_ReportsStatus(t *testing.T) {
	var got []observed
	obs := observerFunc(func(method string, status int, d time.Duration) {
		got = append(got, observed{method, status})
	})
	h := RequestLogger(zaptest.NewLogger(t), obs)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/missing", nil))
	assert.Equal(t, []observed{{"GET", 200}, {"POST", 404}}, got)
}

func TestRecover(t *testing.T) {
	h := Recover(zaptest.NewLogger(t))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body apierror.Body
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "Internal server error", body.Message)
	assert.NotContains(t, rec.Body.String(), "boom")
}

func TestSecurityHeaders(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	rec := httptest.NewRecorder()
	SecurityHeaders(false)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Empty(t, rec.Header().Get("Strict-Transport-Security"))

	rec = httptest.NewRecorder()
	SecurityHeaders(true)(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Contains(t, rec.Header().Get("Strict-Transport-Security"), "max-age=")
}

func TestTransformResponses_StripsSensitiveFields(t *testing.T) {
	h := TransformResponses(StripFields(SensitiveFields...))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierror.WriteJSON(w, http.StatusCreated, map[string]any{
			"id":           "u1",
			"PasswordHash": "x",
			"items":        []any{map[string]any{"name": "a", "secret": "s"}},
		})
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusCreated, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]any{"id": "u1", "items": []any{map[string]any{"name": "a"}}}, body)
}

func TestTransformResponses_PassesNonJSON(t *testing.T) {
	h := TransformResponses(StripFields("secret"))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(`{"secret":"s"}`))
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, `{"secret":"s"}`, rec.Body.String())
}

func TestAuthenticator_Require(t *testing.T) {
	events := &capture{}
	a := NewAuthenticator(acceptGood, events, nil)
	var user string
	h := a.Require(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ = interceptors.GetUserID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantCode   string
	}{
		{"missing", "", http.StatusUnauthorized, apierror.CodeMissingToken},
		{"wrong scheme", "Basic good", http.StatusUnauthorized, apierror.CodeMissingToken},
		{"invalid", "Bearer bad", http.StatusUnauthorized, apierror.CodeInvalidToken},
		{"valid", "Bearer good", http.StatusNoContent, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/auth/logout", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, r)
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				var body apierror.Body
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
				assert.Equal(t, tt.wantCode, body.Code)
				assert.Equal(t, apierror.MsgInvalidToken, body.Message)
			}
		})
	}
	assert.Equal(t, "user-1", user)
	require.Len(t, events.events, 1)
	assert.Equal(t, event.TypeAuthFailure, events.events[0].Type)
}

func TestAuthenticator_Optional(t *testing.T) {
	a := NewAuthenticator(acceptGood, nil, nil)
	var authed bool
	h := a.Optional(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, authed = interceptors.GetUserID(r.Context())
	}))
	for header, want := range map[string]bool{"": false, "Bearer bad": false, "Bearer good": true} {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if header != "" {
			r.Header.Set("Authorization", header)
		}
		h.ServeHTTP(httptest.NewRecorder(), r)
		assert.Equal(t, want, authed, header)
	}
}
