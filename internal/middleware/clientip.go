package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

// ClientIPExtractor extracts the real client IP from requests,
// handling X-Forwarded-For with trusted proxy validation.
// When no trusted proxies are configured, only RemoteAddr is used.
type ClientIPExtractor struct {
	trustedCIDRs []*net.IPNet
}

// NewClientIPExtractor creates a new ClientIPExtractor with the given
// trusted proxy CIDRs or addresses. Invalid entries are skipped.
func NewClientIPExtractor(trustedProxies []string) *ClientIPExtractor {
	cidrs := make([]*net.IPNet, 0, len(trustedProxies))
	for _, proxy := range trustedProxies {
		_, cidr, err := net.ParseCIDR(proxy)
		if err != nil {
			ip := net.ParseIP(proxy)
			if ip == nil {
				continue
			}
			cidr = singleIPToCIDR(ip)
		}
		cidrs = append(cidrs, cidr)
	}
	return &ClientIPExtractor{trustedCIDRs: cidrs}
}

// singleIPToCIDR converts a single IP address to a /32 or /128 CIDR.
func singleIPToCIDR(ip net.IP) *net.IPNet {
	bits := 32
	if ip.To4() == nil {
		bits = 128
	}
	return &net.IPNet{
		IP:   ip,
		Mask: net.CIDRMask(bits, bits),
	}
}

// Extract returns the real client IP from the request.
// If RemoteAddr is a trusted proxy, X-Forwarded-For is walked right to
// left and the first untrusted address is returned.
func (e *ClientIPExtractor) Extract(r *http.Request) string {
	remoteIP := stripPort(r.RemoteAddr)

	if len(e.trustedCIDRs) == 0 || !e.isTrusted(remoteIP) {
		return remoteIP
	}

	xff := r.Header.Get(HeaderXForwardedFor)
	if xff == "" {
		return remoteIP
	}

	ips := strings.Split(xff, ",")
	for i := len(ips) - 1; i >= 0; i-- {
		ip := strings.TrimSpace(ips[i])
		if ip == "" {
			continue
		}
		if !e.isTrusted(ip) {
			return ip
		}
	}

	return remoteIP
}

// isTrusted checks if the given IP string is within any trusted CIDR.
func (e *ClientIPExtractor) isTrusted(ipStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	for _, cidr := range e.trustedCIDRs {
		if cidr.Contains(ip) {
			return true
		}
	}
	return false
}

// stripPort removes the port from an address string.
func stripPort(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

type clientIPKey struct{}

// ClientIP returns a middleware that stores the extracted client IP in the
// request context.
func ClientIP(extractor *ClientIPExtractor) func(http.Handler) http.Handler {
	if extractor == nil {
		extractor = NewClientIPExtractor(nil)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), clientIPKey{}, extractor.Extract(r))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIPFromRequest returns the client IP stored by ClientIP, falling
// back to the request's RemoteAddr.
func ClientIPFromRequest(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return stripPort(r.RemoteAddr)
}
