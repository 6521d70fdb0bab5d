package http

import (
	"context"
	"net"
	"net/http"
	"net/netip"
	"strings"
	"unicode/utf8"

	"github.com/wolfeidau/sessiond/internal/models"
)

type contextKey string

const clientContextKey contextKey = "client_context"

// MaxUserAgentLength bounds the user agent stored with a session.
const MaxUserAgentLength = 512

// ExtractClientIP extracts the client IP address from the request.
// When trustProxy is set X-Forwarded-For is checked first, then X-Real-IP.
// Values that do not parse as an IP address are ignored. Falls back to RemoteAddr.
func ExtractClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		// Take the first IP in the list (comma-separated)
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			first, _, _ := strings.Cut(xff, ",")
			if ip, ok := parseIP(first); ok {
				return ip
			}
		}

		if ip, ok := parseIP(r.Header.Get("X-Real-IP")); ok {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip, ok := parseIP(host); ok {
		return ip
	}
	return ""
}

func parseIP(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return "", false
	}
	return addr.Unmap().String(), true
}

// ClientContextFromContext returns the client context captured by ClientContextMiddleware.
// The Client label is not set here; handlers fill it from the request body.
func ClientContextFromContext(ctx context.Context) models.ClientContext {
	cc, _ := ctx.Value(clientContextKey).(models.ClientContext)
	return cc
}

// ClientContextMiddleware stores the client IP and user agent in the request
// context so they can be recorded when a session is created.
func ClientContextMiddleware(trustProxy bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ua := SanitizeText(r.UserAgent(), MaxUserAgentLength)

			ctx := context.WithValue(r.Context(), clientContextKey, models.ClientContext{
				IPAddress: ExtractClientIP(r, trustProxy),
				UserAgent: ua,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SanitizeText drops invalid UTF-8 from s and truncates it to at most maxBytes
// without splitting a rune.
func SanitizeText(s string, maxBytes int) string {
	s = strings.ToValidUTF8(s, "")
	if len(s) <= maxBytes {
		return s
	}
	cut := maxBytes
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
