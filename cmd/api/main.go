package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/EllisVaughan/bastion/internal/auth"
	"github.com/EllisVaughan/bastion/internal/background"
	"github.com/EllisVaughan/bastion/internal/config"
	"github.com/EllisVaughan/bastion/internal/database"
	"github.com/EllisVaughan/bastion/internal/handlers"
	middlewareCustom "github.com/EllisVaughan/bastion/internal/middleware"
	"github.com/EllisVaughan/bastion/internal/models"
	"github.com/EllisVaughan/bastion/internal/repositories"
	"github.com/EllisVaughan/bastion/internal/risk"
	"github.com/EllisVaughan/bastion/internal/routes"
	"github.com/EllisVaughan/bastion/internal/services"
	pkgauth "github.com/EllisVaughan/bastion/pkg/auth"
	pkghttp "github.com/EllisVaughan/bastion/pkg/http"
	pkglogger "github.com/EllisVaughan/bastion/pkg/logger"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("config loaded", slog.String("env", cfg.Server.Env))

	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	userRepo := repositories.NewUserRepository(db)
	attemptRepo := repositories.NewLoginAttemptRepository(db)

	// Background purge of old attempt rows; token slots expire lazily and are
	// never swept
	attemptSweeper := background.NewAttemptSweeper(attemptRepo, background.SweepConfig{
		Interval:  cfg.Auth.CleanupInterval,
		Retention: cfg.Auth.AttemptRetention,
	}, logger)

	// Sessions are signed with the server secret combined with a per-user
	// key, so rotating a user's key invalidates their tokens
	tokenManager := auth.NewTokenManager(
		cfg.Auth.JWTSecret,
		cfg.Auth.AccessTokenExpiry,
		cfg.Auth.RefreshTokenExpiry,
	)
	tokenManager.SetUserRepo(userRepo)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Authenticator-app support is optional; without a key, enrollment
	// endpoints report the feature as unavailable
	var totpManager *auth.TOTPManager
	if cfg.Auth.TOTPEncryptionKey != "" {
		totpManager, err = auth.NewTOTPManager([]byte(cfg.Auth.TOTPEncryptionKey), cfg.Auth.TOTPIssuer)
		if err != nil {
			logger.Error("failed to initialize TOTP manager", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		logger.Warn("TOTP_ENCRYPTION_KEY not set, authenticator enrollment disabled")
	}

	// Email delivery: AWS SES in real deployments, log-only otherwise
	var emailService services.EmailService
	if cfg.Email.Enabled {
		emailService, err = services.NewAWSSESEmailService(
			cfg.Email.Region,
			cfg.Email.Sender,
			cfg.Email.ReplyTo,
			cfg.Email.AppBaseURL,
			logger,
		)
		if err != nil {
			logger.Error("failed to initialize email service", slog.Any("error", err))
			os.Exit(1)
		}
	} else {
		emailService = services.NewNoopEmailService(logger, cfg.Server.Env)
	}

	var botChecker services.BotChecker
	if cfg.Captcha.Enabled {
		botChecker = services.NewHCaptchaVerifier(cfg.Captcha.VerifyURL, cfg.Captcha.Secret, cfg.Captcha.Timeout, logger)
	} else {
		botChecker = services.NewAllowAllBotChecker()
	}

	var geoResolver services.GeoResolver
	if cfg.Geo.Enabled {
		geoResolver = services.NewHTTPGeoResolver(cfg.Geo.Endpoint, cfg.Geo.Timeout, logger)
	} else {
		geoResolver = services.NewNoopGeoResolver()
	}

	// Risk policy is frozen at startup; every login is scored against the
	// same configuration
	riskConfig := cfg.Risk.Materialize()
	scorer := risk.NewScorer(riskConfig)

	// Failed-attempt lockout gate. IP and device budgets are wider than the
	// per-account one so a shared NAT doesn't lock out a whole office.
	rateLimitService := services.NewRateLimitService(attemptRepo, services.RateLimitConfig{
		MaxFailedPerEmail:  cfg.Auth.MaxFailedAttempts,
		MaxFailedPerIP:     cfg.Auth.MaxFailedAttempts * 4,
		MaxFailedPerDevice: cfg.Auth.MaxFailedAttempts * 2,
		LookbackWindow:     cfg.Auth.AttemptWindow,
		LockoutDuration:    cfg.Auth.AttemptWindow,
	}, logger)

	// Flat response floor for the credential path
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    200,
		RandomDelayMs:  100,
		DelayOnSuccess: true,
	})

	tokenService := services.NewTokenService(cfg.Auth.EmailVerifyTTL, cfg.Auth.TwoFactorCodeTTL, cfg.Auth.ResetTokenTTL)

	userService := services.NewUserService(userRepo, tokenService, emailService, geoResolver, botChecker, riskConfig, logger, auditLogger)
	loginService := services.NewLoginService(services.LoginServiceDeps{
		Users:       userRepo,
		Attempts:    rateLimitService,
		Scorer:      scorer,
		Tokens:      tokenService,
		TOTP:        totpManager,
		TokenMgr:    tokenManager,
		Emails:      emailService,
		Geo:         geoResolver,
		Captcha:     botChecker,
		Timing:      timingDelay,
		Logger:      logger,
		AuditLogger: auditLogger,
	})
	mfaService := services.NewMFAService(userRepo, totpManager, logger, auditLogger)

	// Forwarding headers are honored only from these proxies
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	authHandler := handlers.NewAuthHandler(userService, loginService, ipConfig)
	profileHandler := handlers.NewProfileHandler(userService)
	mfaHandler := handlers.NewMFAHandler(mfaService)
	adminHandler := handlers.NewAdminHandler(rateLimitService)

	// Bootstrap first admin user if configured
	bootCtx, bootCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := ensureAdminUser(bootCtx, userRepo, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword, logger); err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
	}
	bootCancel()

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.NewCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	authRateLimit := middlewareCustom.DefaultAuthRateLimit()
	authRateLimit.ClientIP = ipConfig
	routes.RegisterRoutes(router, authHandler, profileHandler, mfaHandler, adminHandler, tokenManager, userRepo, authRateLimit)

	router.Get("/health", healthHandler(db))

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Everything below runs until SIGINT or SIGTERM
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go attemptSweeper.Start(rootCtx)

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	<-rootCtx.Done()
	logger.Info("shutdown signal received")

	attemptSweeper.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("server stopped gracefully")
}

// healthHandler reports liveness along with whether the database answers.
func healthHandler(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := db.HealthCheck(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unhealthy","database":"down"}`))
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","database":"up"}`))
	}
}

// ensureAdminUser creates the operator account on first boot when ADMIN_EMAIL
// and ADMIN_PASSWORD are configured. Existing accounts are left alone.
func ensureAdminUser(ctx context.Context, userRepo *repositories.UserRepository, adminEmail, adminPassword string, logger *slog.Logger) error {
	if adminEmail == "" || adminPassword == "" {
		logger.Info("no ADMIN_EMAIL or ADMIN_PASSWORD set, skipping admin user creation")
		return nil
	}

	_, err := userRepo.GetByEmail(ctx, adminEmail)
	if err == nil {
		logger.Info("admin user already exists")
		return nil
	}
	if !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("look up admin user: %w", err)
	}

	hashedPassword, err := pkgauth.HashPassword(adminPassword)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	// The trust profile starts empty, so the first login will score high and
	// go through a second factor.
	_, err = userRepo.Create(ctx, &models.User{
		Email:         adminEmail,
		PasswordHash:  hashedPassword,
		Role:          "admin",
		EmailVerified: true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	logger.Info("admin user created")
	return nil
}
