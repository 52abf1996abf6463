package utils

import (
	"net"
	"net/http"
	"strings"
)

// ClientIP returns the visitor address as seen through common proxy
// headers, falling back to the connection's remote address.
func ClientIP(h http.Header, remoteAddr string) string {
	// Cloudflare and some CDNs
	if cf := h.Get("CF-Connecting-IP"); cf != "" {
		if ip := net.ParseIP(strings.TrimSpace(cf)); ip != nil {
			return ip.String()
		}
	}

	// nginx/apache real_ip module
	if real := h.Get("X-Real-IP"); real != "" {
		if ip := net.ParseIP(strings.TrimSpace(real)); ip != nil {
			return ip.String()
		}
	}

	// rightmost public address in X-Forwarded-For
	if xff := h.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		for i := len(parts) - 1; i >= 0; i-- {
			ip := net.ParseIP(strings.TrimSpace(parts[i]))
			if ip != nil && !ip.IsPrivate() && !ip.IsLoopback() && !ip.IsMulticast() {
				return ip.String()
			}
		}
	}

	host, _, err := net.SplitHostPort(remoteAddr)
	if err == nil {
		return host
	}
	return remoteAddr
}
