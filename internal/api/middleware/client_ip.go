package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	apiContext "zyphon/internal/api/context"
)

// ClientIP returns the caller address. X-Forwarded-For is only honoured
// when the server sits behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}
		if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// WithClientIP stores the resolved client address in the request context.
func WithClientIP(trustProxy bool) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), apiContext.ClientIP, ClientIP(r, trustProxy))
			next(w, r.WithContext(ctx))
		}
	}
}

func clientIPFrom(r *http.Request) string {
	if ip, ok := r.Context().Value(apiContext.ClientIP).(string); ok {
		return ip
	}
	return ClientIP(r, false)
}
