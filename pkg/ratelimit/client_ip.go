package ratelimit

import (
	"net"
	"net/http"
	"strings"
)

// ClientIPResolver extracts the client IP from HTTP requests. Proxy headers
// are only honoured when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trustedProxies []*net.IPNet
	trustProxy     bool
}

// NewClientIPResolver builds a resolver. trusted holds CIDR ranges or single
// IPs; unparseable entries are skipped. trustAll trusts proxy headers from
// any peer, which is only safe behind a proxy that overwrites them.
func NewClientIPResolver(trusted []string, trustAll bool) *ClientIPResolver {
	r := &ClientIPResolver{}
	if trustAll {
		r.trustProxy = true
		return r
	}
	for _, entry := range trusted {
		if network := parseNetwork(entry); network != nil {
			r.trustedProxies = append(r.trustedProxies, network)
			r.trustProxy = true
		}
	}
	return r
}

func parseNetwork(s string) *net.IPNet {
	if _, network, err := net.ParseCIDR(s); err == nil {
		return network
	}
	ip := net.ParseIP(s)
	if ip == nil {
		return nil
	}
	bits := 128
	if ip.To4() != nil {
		ip = ip.To4()
		bits = 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}
}

// ClientIP returns the client address for r: the first X-Forwarded-For
// entry, then X-Real-IP, when the peer is trusted; otherwise the peer IP.
func (c *ClientIPResolver) ClientIP(r *http.Request) string {
	remoteIP := RemoteIP(r.RemoteAddr)
	if c == nil || !c.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); isValidIP(ip) {
			return ip
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); isValidIP(ip) {
		return ip
	}
	return remoteIP
}

func (c *ClientIPResolver) isTrusted(ip string) bool {
	if !c.trustProxy {
		return false
	}
	// trustProxy with no networks means trust all
	if c.trustedProxies == nil {
		return true
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, network := range c.trustedProxies {
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

// RemoteIP strips the port from a host:port address. Addresses without a
// port are returned unchanged.
func RemoteIP(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

func isValidIP(s string) bool {
	return s != "" && net.ParseIP(s) != nil
}
