package audit

import (
	"testing"
)

func TestParseFullMethod(t *testing.T) {
	testCases := []struct {
		fullMethod string
		want       ActionResource
	}{
		{"/grpc.health.v1.Health/Check", ActionResource{Action: "check", Resource: "health"}},
		{"/grpc.health.v1.Health/Watch", ActionResource{Action: "watch", Resource: "health"}},
		{"/gateway.security.v1.SecurityReportService/GetReport", ActionResource{Action: "read", Resource: "securityReport"}},
		{"/gateway.security.v1.EventService/ListEvents", ActionResource{Action: "list", Resource: "event"}},
		{"/gateway.auth.v1.TokenService/RevokeAll", ActionResource{Action: "revoke", Resource: "token"}},
		{"/gateway.auth.v1.TokenService/Get", ActionResource{Action: "get", Resource: "token"}},
		{"/NoPackage/Method", ActionResource{Action: "method", Resource: "unknown"}},
		{"garbage", ActionResource{Action: "unknown", Resource: "unknown"}},
		{"/pkg.Service/Do", ActionResource{Action: "do", Resource: "unknown"}},
	}
	for _, tc := range testCases {
		t.Run(tc.fullMethod, func(t *testing.T) {
			if got := ParseFullMethod(tc.fullMethod); got != tc.want {
				t.Errorf("ParseFullMethod(%q) = %+v, want %+v", tc.fullMethod, got, tc.want)
			}
		})
	}
}

func TestParseRoute(t *testing.T) {
	testCases := []struct {
		method, path string
		want         string
	}{
		{"GET", "/api/security/report", "security:read"},
		{"GET", "/api/security/ip/203.0.113.1", "security:read"},
		{"POST", "/api/auth/revoke-all", "auth:create"},
		{"DELETE", "/api/tokens/abc", "tokens:delete"},
		{"PATCH", "/api/orders/1", "orders:update"},
		{"GET", "/health", "unknown:read"},
		{"OPTIONS", "/api/", "unknown:options"},
	}
	for _, tc := range testCases {
		t.Run(tc.method+" "+tc.path, func(t *testing.T) {
			if got := ParseRoute(tc.method, tc.path).Permission(); got != tc.want {
				t.Errorf("ParseRoute = %q, want %q", got, tc.want)
			}
		})
	}
}
