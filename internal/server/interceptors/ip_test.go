package interceptors

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func peerCtx(ip string, kv ...string) context.Context {
	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP(ip), Port: 12345}})
	if len(kv) > 0 {
		ctx = metadata.NewIncomingContext(ctx, metadata.Pairs(kv...))
	}
	return ctx
}

func mustProxies(t *testing.T, cidrs ...string) *TrustedProxies {
	t.Helper()
	p, err := ParseTrustedProxies(cidrs)
	if err != nil {
		t.Fatalf("ParseTrustedProxies: %v", err)
	}
	return p
}

func TestParseTrustedProxies(t *testing.T) {
	p := mustProxies(t, "10.0.0.0/8", " 192.0.2.1 ", "", "2001:db8::/32")
	for _, ip := range []string{"10.1.2.3", "192.0.2.1", "2001:db8::5", "::ffff:10.0.0.1"} {
		if !p.Trusts(ip) {
			t.Errorf("%s should be trusted", ip)
		}
	}
	for _, ip := range []string{"192.0.2.2", "203.0.113.1", "garbage"} {
		if p.Trusts(ip) {
			t.Errorf("%s should not be trusted", ip)
		}
	}
	if _, err := ParseTrustedProxies([]string{"10.0.0.0/33"}); err == nil {
		t.Error("invalid prefix should fail")
	}
	if _, err := ParseTrustedProxies([]string{"not-an-ip"}); err == nil {
		t.Error("invalid address should fail")
	}
	var none *TrustedProxies
	if none.Trusts("10.0.0.1") {
		t.Error("nil set trusts no one")
	}
}

func TestTrustedProxies_Resolve(t *testing.T) {
	p := mustProxies(t, "10.0.0.0/8")
	tests := []struct {
		name      string
		remote    string
		forwarded string
		realIP    string
		want      string
	}{
		{"untrusted peer ignores forwarded", "198.51.100.7:5555", "203.0.113.1", "", "198.51.100.7"},
		{"untrusted peer ignores real ip", "198.51.100.7:5555", "", "10.0.0.1", "198.51.100.7"},
		{"trusted peer single hop", "10.0.0.9:1234", "203.0.113.1", "", "203.0.113.1"},
		{"rightmost untrusted hop wins", "10.0.0.9:1234", "1.2.3.4, 203.0.113.1, 10.0.0.2", "", "203.0.113.1"},
		{"spoofed leftmost ignored", "10.0.0.9:1234", "10.0.0.1, 203.0.113.1", "", "203.0.113.1"},
		{"all hops trusted", "10.0.0.9:1234", "10.0.0.3, 10.0.0.2", "", "10.0.0.3"},
		{"malformed hop stops walk", "10.0.0.9:1234", "203.0.113.1, junk, 10.0.0.2", "", "10.0.0.2"},
		{"real ip from trusted peer", "10.0.0.9:1234", "", "203.0.113.2", "203.0.113.2"},
		{"bad real ip", "10.0.0.9:1234", "", "nope", "10.0.0.9"},
		{"remote without port", "198.51.100.7", "", "", "198.51.100.7"},
		{"ipv6 remote", "[2001:db8::1]:443", "203.0.113.1", "", "2001:db8::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := p.Resolve(tt.remote, tt.forwarded, tt.realIP); got != tt.want {
				t.Errorf("Resolve = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	proxies := mustProxies(t, "10.0.0.0/8")
	tests := []struct {
		name    string
		ctx     context.Context
		proxies *TrustedProxies
		want    string
	}{
		{"peer", peerCtx("192.168.1.3"), nil, "192.168.1.3"},
		{"spoofed forwarded without trust", peerCtx("198.51.100.7", "x-forwarded-for", "192.168.1.1"), nil, "198.51.100.7"},
		{"spoofed real ip without trust", peerCtx("198.51.100.7", "x-real-ip", "10.0.0.1"), proxies, "198.51.100.7"},
		{"forwarded via trusted proxy", peerCtx("10.0.0.9", "x-forwarded-for", "203.0.113.1, 10.0.0.2"), proxies, "203.0.113.1"},
		{"real ip via trusted proxy", peerCtx("10.0.0.9", "x-real-ip", "203.0.113.2"), proxies, "203.0.113.2"},
		{"metadata without peer", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "203.0.113.1")), proxies, "unknown"},
		{"unknown", context.Background(), nil, "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClientIP(tt.ctx, tt.proxies); got != tt.want {
				t.Errorf("ip = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPUnary_StoresAddress(t *testing.T) {
	ctx := peerCtx("10.0.0.9", "x-real-ip", "198.51.100.4")
	var got string
	_, err := ClientIPUnary(mustProxies(t, "10.0.0.0/8"))(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}, func(ctx context.Context, req interface{}) (interface{}, error) {
		got = GetClientIP(ctx)
		return nil, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != "198.51.100.4" {
		t.Errorf("client ip = %q", got)
	}
}
