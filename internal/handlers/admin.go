package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/EllisVaughan/bastion/internal/models"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// AdminServiceInterface defines the operator-facing surface
type AdminServiceInterface interface {
	LoginStats(ctx context.Context, email string, window time.Duration) (*models.LoginAttemptStats, error)
}

// AdminHandler handles operator HTTP requests. Routes using it sit behind
// role enforcement, not just authentication.
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

const defaultStatsWindow = 24 * time.Hour

// GetLoginStats returns aggregate attempt outcomes for one account
// @Summary Login attempt stats for an account
// @Security BearerAuth
// @Produce json
// @Param email query string true "Account email"
// @Param window query string false "Lookback window in Go duration format, default 24h"
// @Success 200 {object} models.LoginAttemptStats
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 403 {object} pkghttp.ErrorResponse
// @Router /admin/login-stats [get]
func (h *AdminHandler) GetLoginStats(w http.ResponseWriter, r *http.Request) {
	email := r.URL.Query().Get("email")
	if email == "" {
		pkghttp.WriteBadRequest(w, "email query parameter is required")
		return
	}

	window := defaultStatsWindow
	if raw := r.URL.Query().Get("window"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			pkghttp.WriteBadRequest(w, "window must be a positive duration")
			return
		}
		window = parsed
	}

	stats, err := h.service.LoginStats(r.Context(), email, window)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}
