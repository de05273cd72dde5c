package interceptors

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

// TrustedProxies is the set of networks whose forwarding headers are honoured. A nil or empty
// set trusts no one and every address comes from the connection itself.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies parses CIDRs or bare addresses (e.g. "10.0.0.0/8", "192.0.2.1").
func ParseTrustedProxies(cidrs []string) (*TrustedProxies, error) {
	t := &TrustedProxies{}
	for _, c := range cidrs {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !strings.Contains(c, "/") {
			addr, err := netip.ParseAddr(c)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
			}
			addr = addr.Unmap()
			t.prefixes = append(t.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
			continue
		}
		p, err := netip.ParsePrefix(c)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", c, err)
		}
		t.prefixes = append(t.prefixes, p.Masked())
	}
	return t, nil
}

// Trusts reports whether ip belongs to a trusted proxy network.
func (t *TrustedProxies) Trusts(ip string) bool {
	if t == nil || len(t.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(ip)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range t.prefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// Resolve picks the client address for a connection from remote. Forwarding headers count only
// when remote is a trusted proxy: X-Forwarded-For is walked from the right, skipping trusted
// hops, and the first untrusted hop is the client. X-Real-IP is used when no forwarded chain is
// present. A malformed hop stops the walk at the last address that was vouched for.
func (t *TrustedProxies) Resolve(remote, forwardedFor, realIP string) string {
	remote = hostOnly(remote)
	if remote == "" || !t.Trusts(remote) {
		return remote
	}
	if forwardedFor != "" {
		hops := strings.Split(forwardedFor, ",")
		client := remote
		for i := len(hops) - 1; i >= 0; i-- {
			hop := parseAddr(hops[i])
			if hop == "" {
				return client
			}
			client = hop
			if !t.Trusts(hop) {
				return hop
			}
		}
		return client
	}
	if ip := parseAddr(realIP); ip != "" {
		return ip
	}
	return remote
}

func hostOnly(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func parseAddr(s string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return ""
	}
	return addr.Unmap().String()
}

// ClientIP returns the caller address from the gRPC peer, or "unknown". x-forwarded-for and
// x-real-ip metadata are honoured only when the peer is in proxies.
func ClientIP(ctx context.Context, proxies *TrustedProxies) string {
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return "unknown"
	}
	var forwarded, realIP string
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		forwarded = strings.Join(md.Get("x-forwarded-for"), ",")
		if vals := md.Get("x-real-ip"); len(vals) > 0 {
			realIP = vals[0]
		}
	}
	if ip := proxies.Resolve(p.Addr.String(), forwarded, realIP); ip != "" {
		return ip
	}
	return "unknown"
}

// ClientIPUnary resolves the caller address once and stores it with WithClientIP so later
// interceptors and services read the same value.
func ClientIPUnary(proxies *TrustedProxies) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		return handler(WithClientIP(ctx, ClientIP(ctx, proxies)), req)
	}
}
