package audit

import (
	"context"
	"net"
	"net/netip"
	"strings"
)

// UnknownIP is recorded when no address can be parsed.
const UnknownIP = "unknown"

// IPResolver derives the client address from the transport peer and the
// forwarding headers. Headers are honored only when the peer is a trusted proxy.
type IPResolver struct {
	trusted []netip.Prefix
}

// NewIPResolver returns a resolver trusting the given proxy ranges.
func NewIPResolver(trusted []netip.Prefix) *IPResolver {
	return &IPResolver{trusted: trusted}
}

// Resolve returns the client IP. remoteAddr is the peer ("host:port" or bare
// host); forwardedFor holds every X-Forwarded-For header value in order.
func (r *IPResolver) Resolve(remoteAddr string, forwardedFor []string, realIP string) string {
	peer, ok := parseAddr(remoteAddr)
	if !ok {
		return UnknownIP
	}
	if !r.isTrusted(peer) {
		return peer.String()
	}
	// Walk right to left: the first hop not owned by a trusted proxy is the client.
	hops := splitForwarded(forwardedFor)
	for i := len(hops) - 1; i >= 0; i-- {
		addr, ok := parseAddr(hops[i])
		if !ok {
			return UnknownIP
		}
		if !r.isTrusted(addr) {
			return addr.String()
		}
		if i == 0 {
			return addr.String()
		}
	}
	if s := strings.TrimSpace(realIP); s != "" {
		addr, ok := parseAddr(s)
		if !ok {
			return UnknownIP
		}
		return addr.String()
	}
	return peer.String()
}

func (r *IPResolver) isTrusted(addr netip.Addr) bool {
	for _, p := range r.trusted {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

func splitForwarded(values []string) []string {
	var hops []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if s := strings.TrimSpace(part); s != "" {
				hops = append(hops, s)
			}
		}
	}
	return hops
}

func parseAddr(s string) (netip.Addr, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return netip.Addr{}, false
	}
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return ap.Addr().Unmap(), true
	}
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return netip.Addr{}, false
	}
	return addr.Unmap(), true
}

// RequestMeta is the caller context attached to audit records.
type RequestMeta struct {
	ClientIP  string
	UserAgent string
}

type requestMetaKey struct{}

// WithRequestMeta returns ctx carrying meta for the ledger.
func WithRequestMeta(ctx context.Context, meta RequestMeta) context.Context {
	return context.WithValue(ctx, requestMetaKey{}, meta)
}

// RequestMetaFrom returns the meta set by WithRequestMeta. ClientIP defaults to UnknownIP.
func RequestMetaFrom(ctx context.Context) RequestMeta {
	meta, _ := ctx.Value(requestMetaKey{}).(RequestMeta)
	if meta.ClientIP == "" {
		meta.ClientIP = UnknownIP
	}
	return meta
}
