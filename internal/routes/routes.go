package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/rosterauth/internal/auth"
	"github.com/BradenHooton/rosterauth/internal/handlers"
	"github.com/BradenHooton/rosterauth/internal/middleware"
	"github.com/BradenHooton/rosterauth/internal/models"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
)

// adminRequestsPerMinute bounds admin traffic per token subject
const adminRequestsPerMinute = 60

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	verifyHandler *handlers.VerifyHandler,
	adminHandler *handlers.AdminHandler,
	tokens auth.TokenValidator,
	verifyLimit middleware.RateLimitConfig,
	ipConfig *pkghttp.IPConfig,
) {
	// Public: the identity layer calls this for every login form submission
	router.With(middleware.RateLimitByIP(verifyLimit, ipConfig)).Post("/auth/verify", verifyHandler.Verify)

	// Admin routes
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokens))
		r.Use(auth.RequireAnyRole(models.AdminRoles...))
		r.Use(middleware.RateLimitByUser(middleware.RateLimitConfig{RequestsPerMinute: adminRequestsPerMinute}, ipConfig))

		r.Get("/admin/rate-limit", adminHandler.GetRateLimit)
		r.Post("/admin/login-attempts/sweep", adminHandler.SweepLoginAttempts)
		r.Put("/admin/accounts/{id}/password", adminHandler.SetPassword)
	})
}
