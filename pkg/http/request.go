package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig controls which peers may assert a client address through
// forwarding headers
type IPConfig struct {
	TrustedProxies []string // CIDR blocks or single addresses
}

// ExtractClientIP returns the address a request should be attributed to.
// X-Forwarded-For and X-Real-IP are honored only when the direct peer is a
// trusted proxy; otherwise the socket address wins, so an untrusted client
// cannot claim another address by setting headers.
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := remoteAddrIP(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if ip := forwardedClientIP(r); ip != "" {
			return ip
		}
	}

	return remoteIP
}

// forwardedClientIP reads the proxy-set headers, preferring X-Forwarded-For.
// The first valid address in the chain is the originating client; invalid
// entries are skipped.
func forwardedClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, part := range strings.Split(xff, ",") {
			candidate := strings.TrimSpace(part)
			if net.ParseIP(candidate) != nil {
				return candidate
			}
		}
	}

	if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	return ""
}

// remoteAddrIP strips the port from the socket address
func remoteAddrIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}

// isTrustedProxy reports whether the peer falls inside any configured proxy
// entry. Entries may be CIDR blocks or single addresses; malformed entries
// never match.
func isTrustedProxy(ip string, trustedProxies []string) bool {
	peer := net.ParseIP(ip)
	if peer == nil {
		return false
	}

	for _, entry := range trustedProxies {
		if _, ipNet, err := net.ParseCIDR(entry); err == nil {
			if ipNet.Contains(peer) {
				return true
			}
			continue
		}
		if single := net.ParseIP(entry); single != nil && single.Equal(peer) {
			return true
		}
	}

	return false
}
