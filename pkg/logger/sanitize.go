package logger

import (
	"log/slog"
	"strings"
)

// Query parameter substrings that mark the whole query string as sensitive.
var sensitiveQueryParams = []string{
	"password",
	"token",
	"secret",
	"code",
	"captcha",
	"email",
	"auth",
}

// SanitizedEmail masks an address for logging while keeping it recognizable:
// first character of the local part and the TLD survive, everything else is
// starred. "alice@example.com" becomes "a****@*******.com".
func SanitizedEmail(email string) string {
	local, domain, found := strings.Cut(email, "@")
	if !found || local == "" || domain == "" {
		return "[invalid-email]"
	}

	masked := local[:1] + strings.Repeat("*", len(local)-1)

	labels := strings.Split(domain, ".")
	for i := 0; i < len(labels)-1; i++ {
		labels[i] = strings.Repeat("*", len(labels[i]))
	}

	return masked + "@" + strings.Join(labels, ".")
}

// RedactedAttr logs the value only outside production. Useful for codes and
// tokens that local testing needs to read but production logs must not hold.
func RedactedAttr(key, value, env string) slog.Attr {
	if env == "production" {
		return slog.String(key, "[REDACTED]")
	}
	return slog.String(key, value)
}

// SanitizeQueryString reports whether a raw query string mentions any
// sensitive parameter and should be dropped from logs entirely.
func SanitizeQueryString(rawQuery string) bool {
	query := strings.ToLower(rawQuery)
	for _, param := range sensitiveQueryParams {
		if strings.Contains(query, param) {
			return true
		}
	}
	return false
}
