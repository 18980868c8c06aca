package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/BradenHooton/rosterauth/internal/auth"
	"github.com/BradenHooton/rosterauth/internal/models"
	pkgauth "github.com/BradenHooton/rosterauth/pkg/auth"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

// AdminServiceInterface defines the admin operations on credentials and limits
type AdminServiceInterface interface {
	EvaluateRateLimit(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error)
	SetPassword(ctx context.Context, accountID, password string) error
}

// AttemptSweeper removes expired login attempts on demand
type AttemptSweeper interface {
	Sweep(ctx context.Context) (int64, error)
}

// AdminHandler handles admin HTTP requests
type AdminHandler struct {
	service     AdminServiceInterface
	sweeper     AttemptSweeper
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface, sweeper AttemptSweeper, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminHandler {
	return &AdminHandler{
		service:     service,
		sweeper:     sweeper,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// SetPasswordRequest represents the request body for an admin password set
type SetPasswordRequest struct {
	Password string `json:"password" validate:"required,max=128"`
}

// SweepResponse reports how many attempts a sweep removed
type SweepResponse struct {
	Deleted int64 `json:"deleted"`
}

// GetRateLimit handles GET /admin/rate-limit?username=&ip=
// Reports the current verdict without recording an attempt.
func (h *AdminHandler) GetRateLimit(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if err := ValidateVar("username", username, "required,max=255"); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	var ipAddress *string
	if ip := r.URL.Query().Get("ip"); ip != "" {
		if err := ValidateVar("ip", ip, "ip"); err != nil {
			pkghttp.WriteBadRequest(w, err.Error())
			return
		}
		ipAddress = &ip
	}

	decision, err := h.service.EvaluateRateLimit(r.Context(), username, ipAddress)
	if err != nil {
		h.logger.Error("failed to evaluate rate limit", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to evaluate rate limit")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, decision)
}

// SweepLoginAttempts handles POST /admin/login-attempts/sweep
func (h *AdminHandler) SweepLoginAttempts(w http.ResponseWriter, r *http.Request) {
	deleted, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		h.logger.Error("manual login attempt sweep failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Failed to sweep login attempts")
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "login_attempts_swept", actorID(r), map[string]string{
		"deleted": strconv.FormatInt(deleted, 10),
	})

	pkghttp.WriteJSON(w, http.StatusOK, SweepResponse{Deleted: deleted})
}

// SetPassword handles PUT /admin/accounts/{id}/password
func (h *AdminHandler) SetPassword(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "id")
	if accountID == "" {
		pkghttp.WriteBadRequest(w, "Account id is required")
		return
	}

	var req SetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	err := h.service.SetPassword(r.Context(), accountID, req.Password)
	if err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteBadRequest(w, validationErr.Error())
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "Account not found")
		default:
			h.logger.Error("failed to set password", slog.String("account_id", accountID), slog.Any("error", err))
			pkghttp.WriteInternalError(w, "Failed to set password")
		}
		return
	}

	h.auditLogger.LogAccountAction(r.Context(), "password_set_by_admin", accountID, map[string]string{
		"actor_id": actorID(r),
	})

	w.WriteHeader(http.StatusNoContent)
}

func actorID(r *http.Request) string {
	if claims := auth.GetUserFromContext(r); claims != nil {
		return claims.UserID
	}
	return ""
}
