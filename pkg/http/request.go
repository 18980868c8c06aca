package http

import (
	"net"
	"net/http"
	"strings"
)

// IPConfig holds configuration for client address extraction
type IPConfig struct {
	TrustedProxies []string // CIDR ranges of trusted proxies
}

// ExtractClientIP returns the client address of the request, or "" when it
// cannot be determined. Forwarding headers are honoured only when the direct
// peer is a trusted proxy, otherwise any client could pick its own address
// and walk around the per-address login limit.
//
// Order:
// 1. X-Forwarded-For (first valid entry), trusted peers only
// 2. X-Real-IP, trusted peers only
// 3. RemoteAddr
func ExtractClientIP(r *http.Request, config *IPConfig) string {
	remoteIP := getRemoteAddr(r)

	if config != nil && isTrustedProxy(remoteIP, config.TrustedProxies) {
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			for _, ip := range strings.Split(xff, ",") {
				ip = strings.TrimSpace(ip)
				if isValidIP(ip) {
					return ip
				}
			}
		}

		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" && isValidIP(xri) {
			return xri
		}
	}

	return remoteIP
}

// ClientIP is ExtractClientIP for callers that model an unknown address as nil
func ClientIP(r *http.Request, config *IPConfig) *string {
	ip := ExtractClientIP(r, config)
	if ip == "" {
		return nil
	}
	return &ip
}

// getRemoteAddr extracts the IP from RemoteAddr, dropping the port.
// Anything that is not an IP address yields "".
func getRemoteAddr(r *http.Request) string {
	addr := r.RemoteAddr
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	if !isValidIP(addr) {
		return ""
	}
	return addr
}

// isTrustedProxy checks if an IP address is within any of the trusted proxy CIDR ranges
func isTrustedProxy(ip string, trustedProxies []string) bool {
	if len(trustedProxies) == 0 {
		return false
	}

	clientIP := net.ParseIP(ip)
	if clientIP == nil {
		return false
	}

	for _, cidr := range trustedProxies {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			continue
		}
		if ipNet.Contains(clientIP) {
			return true
		}
	}

	return false
}

func isValidIP(ip string) bool {
	return net.ParseIP(ip) != nil
}
