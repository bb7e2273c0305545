package http_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorWriters(t *testing.T) {
	const message = "something went sideways"

	tests := []struct {
		name       string
		write      func(http.ResponseWriter)
		wantStatus int
		wantCode   string
	}{
		{"bad request", func(w http.ResponseWriter) { pkghttp.WriteBadRequest(w, message) }, 400, "bad_request"},
		{"unauthorized", func(w http.ResponseWriter) { pkghttp.WriteUnauthorized(w, message) }, 401, "unauthorized"},
		{"forbidden", func(w http.ResponseWriter) { pkghttp.WriteForbidden(w, message) }, 403, "forbidden"},
		{"not found", func(w http.ResponseWriter) { pkghttp.WriteNotFound(w, message) }, 404, "not_found"},
		{"conflict", func(w http.ResponseWriter) { pkghttp.WriteConflict(w, message) }, 409, "conflict"},
		{"too many requests", func(w http.ResponseWriter) { pkghttp.WriteTooManyRequests(w, message) }, 429, "rate_limit_exceeded"},
		{"internal error", func(w http.ResponseWriter) { pkghttp.WriteInternalError(w, message) }, 500, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.write(w)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

			var resp pkghttp.ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantCode, resp.Error)
			assert.Equal(t, message, resp.Message)
			assert.Empty(t, resp.Details)
		})
	}
}

func TestWriteError_CustomCode(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteError(w, http.StatusForbidden, "login_blocked", "This attempt was blocked")

	assert.Equal(t, http.StatusForbidden, w.Code)

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "login_blocked", resp.Error)
}

func TestWriteErrorWithDetails(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteErrorWithDetails(w, http.StatusBadRequest, "bad_request", "Validation failed", "email: must be valid")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "email: must be valid", resp.Details)
}

func TestDetailsOmittedWhenEmpty(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteBadRequest(w, "nope")

	assert.False(t, strings.Contains(w.Body.String(), "details"),
		"empty details must not appear in the body")
}
