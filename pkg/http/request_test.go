package http_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

func newRequest(remoteAddr string, headers map[string]string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = remoteAddr
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	return r
}

func TestExtractClientIP(t *testing.T) {
	trusted := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		config     *pkghttp.IPConfig
		want       string
	}{
		{
			name:       "direct connection ignores forwarding headers",
			remoteAddr: "203.0.113.7:4521",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "trusted proxy honors X-Forwarded-For",
			remoteAddr: "10.1.2.3:8080",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     trusted,
			want:       "198.51.100.9",
		},
		{
			name:       "first address in chain is the client",
			remoteAddr: "10.1.2.3:8080",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9, 10.0.0.2, 10.0.0.1"},
			config:     trusted,
			want:       "198.51.100.9",
		},
		{
			name:       "nil config never trusts headers",
			remoteAddr: "203.0.113.7:4521",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     nil,
			want:       "203.0.113.7",
		},
		{
			name:       "empty proxy list never trusts headers",
			remoteAddr: "203.0.113.7:4521",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     &pkghttp.IPConfig{},
			want:       "203.0.113.7",
		},
		{
			name:       "ipv6 proxy range",
			remoteAddr: "[fd00::1]:443",
			headers:    map[string]string{"X-Forwarded-For": "2001:db8::42"},
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"fd00::/8"}},
			want:       "2001:db8::42",
		},
		{
			name:       "single address proxy entry",
			remoteAddr: "192.0.2.10:9000",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"192.0.2.10"}},
			want:       "198.51.100.9",
		},
		{
			name:       "malformed proxy entry matches nothing",
			remoteAddr: "203.0.113.7:4521",
			headers:    map[string]string{"X-Forwarded-For": "198.51.100.9"},
			config:     &pkghttp.IPConfig{TrustedProxies: []string{"not-a-cidr"}},
			want:       "203.0.113.7",
		},
		{
			name:       "spoofed localhost from untrusted peer is ignored",
			remoteAddr: "203.0.113.7:4521",
			headers:    map[string]string{"X-Forwarded-For": "127.0.0.1"},
			config:     trusted,
			want:       "203.0.113.7",
		},
		{
			name:       "no headers returns socket address",
			remoteAddr: "10.1.2.3:8080",
			config:     trusted,
			want:       "10.1.2.3",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := pkghttp.ExtractClientIP(newRequest(tt.remoteAddr, tt.headers), tt.config)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractClientIP_XRealIPFallback(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	r := newRequest("10.1.2.3:8080", map[string]string{"X-Real-IP": "198.51.100.9"})
	assert.Equal(t, "198.51.100.9", pkghttp.ExtractClientIP(r, config))

	// X-Forwarded-For wins when both are present.
	r = newRequest("10.1.2.3:8080", map[string]string{
		"X-Forwarded-For": "203.0.113.7",
		"X-Real-IP":       "198.51.100.9",
	})
	assert.Equal(t, "203.0.113.7", pkghttp.ExtractClientIP(r, config))
}

func TestExtractClientIP_GarbageHeaderValues(t *testing.T) {
	config := &pkghttp.IPConfig{TrustedProxies: []string{"10.0.0.0/8"}}

	// Invalid entries in the chain are skipped.
	r := newRequest("10.1.2.3:8080", map[string]string{"X-Forwarded-For": "garbage, 198.51.100.9"})
	assert.Equal(t, "198.51.100.9", pkghttp.ExtractClientIP(r, config))

	// Nothing parseable anywhere falls back to the socket address.
	r = newRequest("10.1.2.3:8080", map[string]string{
		"X-Forwarded-For": "garbage",
		"X-Real-IP":       "also-garbage",
	})
	assert.Equal(t, "10.1.2.3", pkghttp.ExtractClientIP(r, config))
}

func TestExtractClientIP_RemoteAddrWithoutPort(t *testing.T) {
	r := newRequest("203.0.113.7", nil)
	assert.Equal(t, "203.0.113.7", pkghttp.ExtractClientIP(r, nil))

	r = newRequest("", nil)
	assert.Equal(t, "unknown", pkghttp.ExtractClientIP(r, nil))
}
