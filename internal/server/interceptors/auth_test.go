package interceptors

import (
	"context"
	"errors"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"security-gateway/backend/internal/event"
	"security-gateway/backend/internal/security"
)

// mockVerifier accepts exactly one token.
type mockVerifier struct {
	valid string
	err   error
}

func (m *mockVerifier) VerifyAccessToken(ctx context.Context, token string) (*security.Claims, error) {
	if m.err != nil {
		return nil, m.err
	}
	if token != m.valid {
		return nil, errors.New("invalid token")
	}
	return testClaims(), nil
}

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Record(_ context.Context, e event.Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

func withBearer(token string) context.Context {
	return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
}

func okHandler(ctx context.Context, req interface{}) (interface{}, error) {
	return "success", nil
}

func TestAuthUnary_PublicMethod(t *testing.T) {
	interceptor := AuthUnary(&mockVerifier{valid: "good"}, map[string]bool{"/test.Service/PublicMethod": true}, nil, nil)
	info := &grpc.UnaryServerInfo{FullMethod: "/test.Service/PublicMethod"}

	for _, ctx := range []context.Context{context.Background(), withBearer("bad")} {
		resp, err := interceptor(ctx, "request", info, okHandler)
		if err != nil {
			t.Fatalf("interceptor: %v", err)
		}
		if resp != "success" {
			t.Errorf("response = %v, want %q", resp, "success")
		}
	}
}

func TestAuthUnary_ProtectedMethod_NoToken(t *testing.T) {
	events := &recorder{}
	interceptor := AuthUnary(&mockVerifier{valid: "good"}, nil, events, nil)
	_, err := interceptor(context.Background(), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
	if events.len() != 0 {
		t.Error("missing token should not record an auth failure")
	}
}

func TestAuthUnary_ProtectedMethod_ValidToken(t *testing.T) {
	interceptor := AuthUnary(&mockVerifier{valid: "good"}, nil, nil, nil)
	var gotUser, gotToken string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		gotUser, _ = GetUserID(ctx)
		gotToken, _ = GetBearerToken(ctx)
		return "success", nil
	}
	if _, err := interceptor(withBearer("good"), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, handler); err != nil {
		t.Fatalf("interceptor: %v", err)
	}
	if gotUser != "user-1" || gotToken != "good" {
		t.Errorf("identity = %q/%q", gotUser, gotToken)
	}
}

func TestAuthUnary_ProtectedMethod_InvalidToken(t *testing.T) {
	events := &recorder{}
	interceptor := AuthUnary(&mockVerifier{valid: "good"}, nil, events, nil)
	_, err := interceptor(withBearer("bad"), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
	if events.len() != 1 || events.events[0].Type != event.TypeAuthFailure {
		t.Errorf("events = %+v", events.events)
	}
}

func TestAuthUnary_StoreUnavailableFailsClosed(t *testing.T) {
	interceptor := AuthUnary(&mockVerifier{valid: "good", err: errors.New("redis down")}, nil, nil, nil)
	_, err := interceptor(withBearer("good"), "request", &grpc.UnaryServerInfo{FullMethod: "/test.Service/Protected"}, okHandler)
	if status.Code(err) != codes.Unauthenticated {
		t.Errorf("code = %v, want Unauthenticated", status.Code(err))
	}
	if s, _ := status.FromError(err); s.Message() != "Invalid or expired token" {
		t.Errorf("message = %q", s.Message())
	}
}

func TestExtractBearer(t *testing.T) {
	tests := []struct {
		name string
		md   metadata.MD
		want string
	}{
		{"valid", metadata.Pairs("authorization", "Bearer abc"), "abc"},
		{"case insensitive", metadata.Pairs("authorization", "bEaReR abc"), "abc"},
		{"missing", metadata.MD{}, ""},
		{"invalid prefix", metadata.Pairs("authorization", "Basic abc"), ""},
		{"whitespace", metadata.Pairs("authorization", "  Bearer   abc  "), "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := metadata.NewIncomingContext(context.Background(), tt.md)
			if got := extractBearer(ctx); got != tt.want {
				t.Errorf("extractBearer = %q, want %q", got, tt.want)
			}
		})
	}
	if got := extractBearer(context.Background()); got != "" {
		t.Errorf("no metadata: %q", got)
	}
}
