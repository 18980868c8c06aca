package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/BradenHooton/rosterauth/internal/auth"
	"github.com/BradenHooton/rosterauth/internal/background"
	"github.com/BradenHooton/rosterauth/internal/config"
	"github.com/BradenHooton/rosterauth/internal/database"
	"github.com/BradenHooton/rosterauth/internal/handlers"
	middlewareCustom "github.com/BradenHooton/rosterauth/internal/middleware"
	"github.com/BradenHooton/rosterauth/internal/repositories"
	"github.com/BradenHooton/rosterauth/internal/routes"
	"github.com/BradenHooton/rosterauth/internal/services"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)

	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Initialize database
	db, err := database.NewConnection(&cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := db.Migrate(ctx)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	// Initialize repositories
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	accountRepo := repositories.NewAccountRepository(db)

	// Attempt log maintenance
	sweeper := background.NewSweeper(loginAttemptRepo, background.SweeperConfig{
		CleanupAge:  cfg.RateLimit.CleanupAge,
		Probability: cfg.RateLimit.CleanupProbability,
		MinSpacing:  cfg.RateLimit.CleanupMinSpacing,
	}, logger)

	auditLogger := pkglogger.NewAuditLogger(logger)

	// Rate limiting service
	rateLimitService := services.NewRateLimitService(loginAttemptRepo, sweeper, services.RateLimitConfig{
		MaxAttemptsPerIP:       cfg.RateLimit.MaxAttemptsPerIP,
		MaxAttemptsPerUsername: cfg.RateLimit.MaxAttemptsPerUsername,
		Window:                 cfg.RateLimit.Window,
		LockoutAttempts:        cfg.RateLimit.LockoutAttempts,
		LockoutDuration:        cfg.RateLimit.LockoutDuration,
	}, logger)

	// AWS SES lockout notices
	var notifier services.LockoutNotifier
	if cfg.Notify.LockoutEmailEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		sesNotifier, err := services.NewSESLockoutNotifier(ctx, cfg.Notify.AWSRegion, cfg.Notify.FromAddress, logger)
		cancel()
		if err != nil {
			logger.Error("failed to initialize lockout email notifier", slog.Any("error", err))
			os.Exit(1)
		}
		notifier = sesNotifier
	}

	credentialService := services.NewCredentialService(rateLimitService, accountRepo, notifier, logger, auditLogger)

	// Timing delay for auth security
	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelayMs:    cfg.Auth.TimingDelayBaseMs,
		RandomDelayMs:  cfg.Auth.TimingDelayRandomMs,
		DelayOnSuccess: cfg.Auth.TimingDelayOnSuccess,
	})

	tokenManager := auth.NewTokenManager(cfg.Auth.JWTSecret)
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Initialize handlers
	verifyHandler := handlers.NewVerifyHandler(credentialService, timingDelay, ipConfig, logger)
	adminHandler := handlers.NewAdminHandler(credentialService, sweeper, logger, auditLogger)

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(30 * time.Second))

	routes.RegisterRoutes(router, verifyHandler, adminHandler, tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.EdgeRequestsPerMinute}, ipConfig)

	// Health check with database
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if err := db.HealthCheck(ctx); err != nil {
			pkghttp.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy", "database": "down"})
			return
		}
		pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy", "database": "up"})
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Scheduled sweep, on top of the probabilistic one
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	if cfg.RateLimit.CleanupInterval > 0 {
		go sweeper.Start(sweepCtx, cfg.RateLimit.CleanupInterval)
	}

	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// In-flight sweeps and lockout notices finish before the pool closes
	sweepCancel()
	sweeper.Stop()
	sweeper.Wait()
	credentialService.Wait()

	logger.Info("server stopped gracefully")
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
