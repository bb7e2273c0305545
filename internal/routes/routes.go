package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/handlers"
	"github.com/EllisVaughan/bastion/internal/middleware"
)

// RegisterRoutes registers all application routes under /api/v1
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	profileHandler *handlers.ProfileHandler,
	mfaHandler *handlers.MFAHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	userRepo auth.UserRepository,
	rateLimitConfig middleware.RateLimitConfig,
) {
	router.Route("/api/v1", func(r chi.Router) {
		// Public routes. Everything under /auth is rate limited per IP; each
		// of these either runs bcrypt or sends mail.
		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimitByIP(rateLimitConfig))

			r.Post("/auth/signup", authHandler.Signup)
			r.Post("/auth/login", authHandler.Login)
			r.Post("/auth/verify-2fa", authHandler.VerifyTwoFactor)
			r.Post("/auth/verify-email", authHandler.VerifyEmail)
			r.Post("/auth/resend-verification", authHandler.ResendVerification)
			r.Post("/auth/forgot-password", authHandler.ForgotPassword)
			r.Post("/auth/reset-password", authHandler.ResetPassword)
			r.Post("/auth/refresh", authHandler.RefreshToken)
		})

		// Protected routes - authentication required
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager))

			r.Post("/auth/logout", authHandler.Logout)

			r.Get("/profile", profileHandler.GetProfile)
			r.Post("/profile/risk-reset", profileHandler.ResetRiskScore)

			r.Get("/mfa/status", mfaHandler.Status)
			r.Post("/mfa/totp/setup", mfaHandler.Setup)
			r.Post("/mfa/totp/activate", mfaHandler.Activate)
			r.Delete("/mfa/totp", mfaHandler.Disable)
		})

		// Operator routes - role checked against the database, not the claim
		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware(tokenManager))
			r.Use(auth.RequireRole(userRepo, "admin"))

			r.Get("/admin/login-stats", adminHandler.GetLoginStats)
		})
	})
}
