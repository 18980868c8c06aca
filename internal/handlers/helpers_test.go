package handlers_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/rosterauth/internal/auth"
	"github.com/BradenHooton/rosterauth/internal/models"
	"github.com/BradenHooton/rosterauth/internal/services"
	pkghttp "github.com/BradenHooton/rosterauth/pkg/http"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestRequest creates an HTTP request with JSON body for testing
func newTestRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.10:40000"
	return req
}

// withAdminContext adds admin token claims to request context
func withAdminContext(req *http.Request, userID string) *http.Request {
	claims := &models.TokenClaims{
		Type:   "access",
		UserID: userID,
		Role:   models.RoleAdministrator,
	}
	return req.WithContext(context.WithValue(req.Context(), auth.UserContextKey, claims))
}

// assertErrorResponse checks that response is a valid error response
func assertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) pkghttp.ErrorResponse {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
	return resp
}

// mockVerifier implements handlers.CredentialVerifier for testing
type mockVerifier struct {
	VerifyFunc func(ctx context.Context, username, password string, ipAddress *string) (*services.VerifyResult, error)

	gotUsername string
	gotIP       *string
}

func (m *mockVerifier) Verify(ctx context.Context, username, password string, ipAddress *string) (*services.VerifyResult, error) {
	m.gotUsername = username
	m.gotIP = ipAddress
	if m.VerifyFunc == nil {
		return &services.VerifyResult{Error: services.MessageInvalidCredentials, Kind: models.FailureInvalidCredentials}, nil
	}
	return m.VerifyFunc(ctx, username, password, ipAddress)
}

// mockAdminService implements handlers.AdminServiceInterface for testing
type mockAdminService struct {
	EvaluateRateLimitFunc func(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error)
	SetPasswordFunc       func(ctx context.Context, accountID, password string) error
}

func (m *mockAdminService) EvaluateRateLimit(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error) {
	if m.EvaluateRateLimitFunc == nil {
		return &models.RateLimitDecision{Allowed: true, Remaining: 5}, nil
	}
	return m.EvaluateRateLimitFunc(ctx, username, ipAddress)
}

func (m *mockAdminService) SetPassword(ctx context.Context, accountID, password string) error {
	if m.SetPasswordFunc == nil {
		return nil
	}
	return m.SetPasswordFunc(ctx, accountID, password)
}

// mockSweeper implements handlers.AttemptSweeper for testing
type mockSweeper struct {
	SweepFunc func(ctx context.Context) (int64, error)
}

func (m *mockSweeper) Sweep(ctx context.Context) (int64, error) {
	if m.SweepFunc == nil {
		return 0, nil
	}
	return m.SweepFunc(ctx)
}
