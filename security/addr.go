package security

import (
	"net"
	"net/http"
	"strings"
)

// ClientAddr extracts a stable client identifier for rate limiting and CSRF
// token binding.
// Preference order: X-Forwarded-For (first entry), X-Real-IP, RemoteAddr host part.
func ClientAddr(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For may contain multiple IPs: client, proxy1, proxy2
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			if ip := strings.TrimSpace(parts[0]); ip != "" {
				return ip
			}
		}
	}
	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	// Fallback to RemoteAddr as-is if it cannot be split
	return r.RemoteAddr
}
