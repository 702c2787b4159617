package observability

import (
	"net"
	"net/http"
	"strings"
)

// DeviceIDFromRequest extracts the client device id. Mobile clients open the
// websocket from runtimes that cannot always set headers, so a device_id
// query parameter is accepted as fallback.
func DeviceIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Device-Id"); id != "" {
		return id
	}
	return r.URL.Query().Get("device_id")
}

// RequestIDFromRequest returns the inbound correlation id, when present.
func RequestIDFromRequest(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return r.Header.Get("X-Correlation-Id")
}

// IPFromRequest prefers the forwarded-for chain over the socket peer.
func IPFromRequest(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}
