package middleware

import "net/http"

// SecurityHeadersConfig selects between production and development policies.
type SecurityHeadersConfig struct {
	Env string
}

// SecurityHeaders sets browser protection headers on every response. The API
// serves JSON only, so the CSP forbids all resource loading; QR codes for
// authenticator enrollment travel as data URIs inside JSON bodies and are
// not affected.
func SecurityHeaders(config SecurityHeadersConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
			w.Header().Set("Permissions-Policy", "camera=(), geolocation=(), microphone=()")

			// HSTS only over TLS in production; a plain-HTTP dev server must
			// not poison the browser's cache for localhost.
			if config.Env == "production" && (r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https") {
				w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
			}

			next.ServeHTTP(w, r)
		})
	}
}
