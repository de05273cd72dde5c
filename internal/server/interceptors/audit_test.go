package interceptors

import (
	"context"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"security-gateway/backend/internal/apierror"
	"security-gateway/backend/internal/event"
)

func denyHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return nil, status.Error(codes.PermissionDenied, "Insufficient permissions")
}

func TestAuditUnary_RecordsDenial(t *testing.T) {
	events := &recorder{}
	ctx := WithClientIP(WithIdentity(context.Background(), testClaims(), "tok"), "203.0.113.7")
	_, err := AuditUnary(events, nil)(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/security.v1.ReportService/GetReport"}, denyHandler)
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("err = %v", err)
	}
	if events.len() != 1 {
		t.Fatalf("events = %d, want 1", events.len())
	}
	e := events.events[0]
	if e.Type != event.TypeAccessDenied || e.UserID != "user-1" || e.IP != "203.0.113.7" {
		t.Errorf("event = %+v", e)
	}
	if e.Details["action"] != "report:read" {
		t.Errorf("action = %v", e.Details["action"])
	}
}

func TestAuditUnary_IgnoresOthers(t *testing.T) {
	events := &recorder{}
	authed := WithIdentity(context.Background(), testClaims(), "tok")
	info := &grpc.UnaryServerInfo{FullMethod: "/security.v1.ReportService/GetReport"}

	_, _ = AuditUnary(events, nil)(authed, nil, info, okHandler)
	_, _ = AuditUnary(events, nil)(context.Background(), nil, info, denyHandler)
	_, _ = AuditUnary(events, map[string]bool{info.FullMethod: true})(authed, nil, info, denyHandler)
	if events.len() != 0 {
		t.Errorf("events = %d, want 0", events.len())
	}
}

type admitFunc func(ctx context.Context, ip, target string) error

func (f admitFunc) Admit(ctx context.Context, ip, target string) error { return f(ctx, ip, target) }

func TestThreatUnary(t *testing.T) {
	blocked := admitFunc(func(ctx context.Context, ip, target string) error {
		if ip == "203.0.113.66" {
			return apierror.RateLimited(apierror.CodeRateLimited, time.Second)
		}
		return nil
	})
	info := &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}
	in := ThreatUnary(blocked, nil)

	if _, err := in(WithClientIP(context.Background(), "203.0.113.1"), nil, info, okHandler); err != nil {
		t.Errorf("clean ip: %v", err)
	}
	_, err := in(WithClientIP(context.Background(), "203.0.113.66"), nil, info, okHandler)
	if status.Code(err) != codes.ResourceExhausted {
		t.Errorf("code = %v, want ResourceExhausted", status.Code(err))
	}

	skip := ThreatUnary(blocked, map[string]bool{"/x.Y/Z": true})
	if _, err := skip(WithClientIP(context.Background(), "203.0.113.66"), nil, info, okHandler); err != nil {
		t.Errorf("skipped method: %v", err)
	}
}

type observation struct {
	method string
	status int
}

type observerFunc func(method string, status int, d time.Duration)

func (f observerFunc) ObserveRequest(method string, status int, d time.Duration) { f(method, status, d) }

func TestTelemetryUnary(t *testing.T) {
	var got []observation
	obs := observerFunc(func(method string, status int, d time.Duration) {
		got = append(got, observation{method, status})
	})
	info := &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}
	in := TelemetryUnary(obs, nil)
	_, _ = in(context.Background(), nil, info, okHandler)
	_, _ = in(context.Background(), nil, info, denyHandler)

	if len(got) != 2 || got[0].status != 200 || got[1].status != 403 {
		t.Errorf("observations = %+v", got)
	}
	if _, err := TelemetryUnary(nil, nil)(context.Background(), nil, info, okHandler); err != nil {
		t.Errorf("nil observer: %v", err)
	}
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		err  error
		want codes.Code
	}{
		{apierror.Auth(nil), codes.Unauthenticated},
		{apierror.Forbidden(apierror.CodeIPBlocked, "Access denied"), codes.PermissionDenied},
		{apierror.Validation("bad"), codes.InvalidArgument},
		{apierror.TooLarge(), codes.ResourceExhausted},
		{context.Canceled, codes.Internal},
		{status.Error(codes.NotFound, "x"), codes.NotFound},
	}
	for _, tt := range tests {
		if got := status.Code(StatusError(tt.err)); got != tt.want {
			t.Errorf("StatusError(%v) code = %v, want %v", tt.err, got, tt.want)
		}
	}
	if StatusError(nil) != nil {
		t.Error("nil error should stay nil")
	}
}
