package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/rosterauth/internal/auth"
	"github.com/BradenHooton/rosterauth/internal/models"
	"github.com/BradenHooton/rosterauth/internal/services"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
)

const maxVerifyBodyBytes = 16 << 10

// CredentialVerifier is the credential check as seen by the HTTP layer
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string, ipAddress *string) (*services.VerifyResult, error)
}

// VerifyHandler serves the credential check used by the identity layer
type VerifyHandler struct {
	verifier CredentialVerifier
	timing   *auth.TimingDelay
	ipConfig *pkghttp.IPConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewVerifyHandler creates a new VerifyHandler. timing may be nil to disable padding.
func NewVerifyHandler(verifier CredentialVerifier, timing *auth.TimingDelay, ipConfig *pkghttp.IPConfig, logger *slog.Logger) *VerifyHandler {
	return &VerifyHandler{
		verifier: verifier,
		timing:   timing,
		ipConfig: ipConfig,
		logger:   logger,
		now:      time.Now,
	}
}

// VerifyRequest represents the request body for a credential check.
// The username is passed on exactly as submitted.
type VerifyRequest struct {
	Username string `json:"username" validate:"required,max=255"`
	Password string `json:"password" validate:"required,max=1024"`
}

// VerifyResponse is the body of a successful credential check
type VerifyResponse struct {
	Account *models.AccountResponse `json:"account"`
	Role    string                  `json:"role"`
}

// Verify handles POST /auth/verify
// @Summary Check a username and password
// @Accept json
// @Param request body VerifyRequest true "Credentials"
// @Produce json
// @Success 200 {object} VerifyResponse
// @Failure 400 {object} pkghttp.ErrorResponse
// @Failure 401 {object} pkghttp.ErrorResponse
// @Failure 429 {object} pkghttp.ErrorResponse
// @Failure 500 {object} pkghttp.ErrorResponse
// @Router /auth/verify [post]
func (h *VerifyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req VerifyRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxVerifyBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ClientIP(r, h.ipConfig)

	result, err := h.verifier.Verify(r.Context(), req.Username, req.Password, ipAddress)
	h.pad(r.Context(), start, err == nil && result.Success)

	if err != nil {
		h.logger.Error("credential check failed", slog.Any("error", err))
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if result.Success {
		pkghttp.WriteJSON(w, http.StatusOK, VerifyResponse{
			Account: result.Account,
			Role:    result.Role,
		})
		return
	}

	switch result.Kind {
	case models.FailureRateLimited, models.FailureAccountLocked:
		pkghttp.WriteRateLimited(w, string(result.Kind), result.Error, result.LockoutExpires, h.now())
	default:
		pkghttp.WriteError(w, http.StatusUnauthorized, string(result.Kind), result.Error)
	}
}

func (h *VerifyHandler) pad(ctx context.Context, start time.Time, success bool) {
	if h.timing == nil {
		return
	}
	h.timing.WaitFrom(ctx, start, success)
}
