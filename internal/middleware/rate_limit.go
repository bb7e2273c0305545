package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"

	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// RateLimitConfig bounds request volume per client IP on a route group.
// ClientIP controls how the client address is attributed; nil trusts only
// the socket address, never forwarding headers.
type RateLimitConfig struct {
	RequestsPerMinute int
	ClientIP          *pkghttp.IPConfig
}

// DefaultAuthRateLimit is deliberately tight: every request under the auth
// group either runs a bcrypt comparison or sends an email.
func DefaultAuthRateLimit() RateLimitConfig {
	return RateLimitConfig{RequestsPerMinute: 10}
}

// RateLimitByIP rejects clients that exceed the per-minute budget with 429.
// Keying goes through the same trusted-proxy resolution as the handlers, so
// an untrusted client cannot dodge the limit by rotating forwarding headers.
// This is transport-level back pressure; account lockout belongs to
// RateLimitService, which counts failed outcomes rather than requests.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerMinute,
		time.Minute,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			return pkghttp.ExtractClientIP(r, config.ClientIP), nil
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests")
		}),
	)
}
