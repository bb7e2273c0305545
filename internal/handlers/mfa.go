package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/models"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
)

// MFAServiceInterface defines the authenticator-app enrollment surface
type MFAServiceInterface interface {
	InitiateSetup(ctx context.Context, userID string) (*models.TOTPSetup, error)
	Activate(ctx context.Context, userID, code string) error
	Disable(ctx context.Context, userID, password string) error
	GetStatus(ctx context.Context, userID string) (*models.TOTPStatus, error)
}

// MFAHandler handles authenticator-app HTTP requests
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// ActivateTOTPRequest proves possession of the enrolled authenticator
type ActivateTOTPRequest struct {
	Code string `json:"code" validate:"required,len=6,numeric"`
}

// DisableTOTPRequest removes the authenticator second factor
type DisableTOTPRequest struct {
	Password string `json:"password" validate:"required"`
}

// Setup begins authenticator enrollment
// @Summary Begin authenticator app enrollment
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.TOTPSetup
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /mfa/totp/setup [post]
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	setup, err := h.service.InitiateSetup(r.Context(), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Authenticator app is already enabled")
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, setup)
}

// Activate turns on the authenticator second factor
// @Summary Activate authenticator app
// @Security BearerAuth
// @Accept json
// @Param request body ActivateTOTPRequest true "Activation request"
// @Produce json
// @Success 200 {object} MessageResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 409 {object} pkghttp.ErrorResponse
// @Router /mfa/totp/activate [post]
func (h *MFAHandler) Activate(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req ActivateTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Activate(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrTokenNotFound):
			pkghttp.WriteUnauthorized(w, "Invalid authenticator code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No authenticator setup in progress")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Authenticator app is already enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, MessageResponse{Message: "Authenticator app enabled."})
}

// Disable removes the authenticator second factor
// @Summary Disable authenticator app
// @Security BearerAuth
// @Accept json
// @Param request body DisableTOTPRequest true "Disable request"
// @Produce json
// @Success 204
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/totp [delete]
func (h *MFAHandler) Disable(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req DisableTOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.Disable(r.Context(), claims.UserID, req.Password); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Authenticator app is not enabled")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Status reports whether an authenticator app is enrolled
// @Summary Authenticator enrollment status
// @Security BearerAuth
// @Produce json
// @Success 200 {object} models.TOTPStatus
// @Failure 401 {object} pkghttp.ErrorResponse
// @Router /mfa/status [get]
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.service.GetStatus(r.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			pkghttp.WriteNotFound(w, "User not found")
			return
		}
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, status)
}
