package middleware

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
)

// ClientIdentifier resolves the identity that per-client trap state is keyed by.
type ClientIdentifier func(r *http.Request) string

// TrustedProxies decides whether forwarding headers may be believed.
// The zero value trusts nobody. It is safe for concurrent use once built.
type TrustedProxies struct {
	prefixes []netip.Prefix
}

// NewTrustedProxies parses IPs and CIDR ranges. Invalid entries are skipped;
// config validation rejects them before this point.
func NewTrustedProxies(entries []string) *TrustedProxies {
	tp := &TrustedProxies{}
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			tp.prefixes = append(tp.prefixes, prefix.Masked())
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			addr = addr.Unmap()
			tp.prefixes = append(tp.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return tp
}

// IsTrusted reports whether host (an address without port) is a trusted proxy.
func (tp *TrustedProxies) IsTrusted(host string) bool {
	if tp == nil || len(tp.prefixes) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range tp.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientID returns the peer address with the port stripped. Forwarding
// headers are honoured only when the peer is a trusted proxy.
func (tp *TrustedProxies) ClientID(r *http.Request) string {
	direct := hostOnly(r.RemoteAddr)

	if !tp.IsTrusted(direct) {
		return direct
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := normalizeIP(strings.TrimSpace(first)); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if ip := normalizeIP(strings.TrimSpace(xri)); ip != "" {
			return ip
		}
	}
	return direct
}

// hostOnly strips the port from addr. Unparseable input is returned as-is
// so the caller still gets a stable identity.
func hostOnly(addr string) string {
	if addr == "" {
		return "unknown"
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}
	if ip := normalizeIP(host); ip != "" {
		return ip
	}
	return host
}

func normalizeIP(s string) string {
	addr, err := netip.ParseAddr(strings.Trim(s, "[]"))
	if err != nil {
		return ""
	}
	return addr.Unmap().WithZone("").String()
}

type clientIDContextKey struct{}

// ClientIP resolves the client identity once per request and stores it in the context.
func ClientIP(identify ClientIdentifier) func(http.Handler) http.Handler {
	if identify == nil {
		identify = (*TrustedProxies)(nil).ClientID
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIDContextKey{}, identify(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetClientID returns the identity stored by ClientIP, falling back to the
// peer address when the middleware did not run.
func GetClientID(r *http.Request) string {
	if id, ok := r.Context().Value(clientIDContextKey{}).(string); ok && id != "" {
		return id
	}
	return hostOnly(r.RemoteAddr)
}
