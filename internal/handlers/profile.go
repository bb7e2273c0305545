package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/services"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// ProfileServiceInterface defines the account owner's profile surface
type ProfileServiceInterface interface {
	GetProfile(ctx context.Context, userID string) (*services.ProfileResponse, error)
	ResetRiskScore(ctx context.Context, userID string) error
}

// ProfileHandler handles profile HTTP requests
type ProfileHandler struct {
	service ProfileServiceInterface
}

// NewProfileHandler creates a new ProfileHandler
func NewProfileHandler(service ProfileServiceInterface) *ProfileHandler {
	return &ProfileHandler{service: service}
}

// GetProfile returns the account plus its accumulated trust profile
// @Summary Get own profile
// @Security BearerAuth
// @Produce json
// @Success 200 {object} services.ProfileResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Router /profile [get]
func (h *ProfileHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	profile, err := h.service.GetProfile(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, profile)
}

// ResetRiskScore clears the accumulated risk score back to zero
// @Summary Reset own risk score
// @Security BearerAuth
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 404 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /profile/risk-reset [post]
func (h *ProfileHandler) ResetRiskScore(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	if err := h.service.ResetRiskScore(r.Context(), claims.UserID); err != nil {
		switch {
		case errors.Is(err, models.ErrRiskScoreZero):
			pkghttp.WriteConflict(w, "Risk score is already zero")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Risk score reset."})
}
