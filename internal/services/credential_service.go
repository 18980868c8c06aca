package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/rosterauth/internal/models"
	pkgauth "github.com/BradenHooton/rosterauth/pkg/auth"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

// AccountStore is the personnel store as seen by credential verification
type AccountStore interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	GetByID(ctx context.Context, id string) (*models.Account, error)
	RolesOf(ctx context.Context, accountID string) ([]string, error)
	SetPasswordFields(ctx context.Context, accountID, passwordHash, passwordSalt string) error
}

// LoginRateLimiter evaluates and records login attempts
type LoginRateLimiter interface {
	Evaluate(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error)
	RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) (string, error)
	Config() RateLimitConfig
}

// User-facing messages for credential failures
const (
	MessageInvalidCredentials = "Invalid username or password"
	MessageNoPasswordSet      = "No password has been set for this account. Use the password setup link to create one."
	MessageAccountDeactivated = "This account has been deactivated. Contact an administrator."
)

// VerifyResult is the verdict handed to the identity layer
type VerifyResult struct {
	Success        bool                    `json:"success"`
	Error          string                  `json:"error,omitempty"`
	Kind           models.FailureKind      `json:"kind,omitempty"`
	Account        *models.AccountResponse `json:"account,omitempty"`
	Role           string                  `json:"role,omitempty"`
	LockoutExpires *time.Time              `json:"lockout_expires,omitempty"`
}

// CredentialService is the single entry point for checking a login
type CredentialService struct {
	limiter     LoginRateLimiter
	accounts    AccountStore
	notifier    LockoutNotifier
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger

	derive       func(password, salt string) (string, error)
	generateSalt func() (string, error)

	notices sync.WaitGroup
}

// NewCredentialService creates a new CredentialService. notifier may be nil.
func NewCredentialService(limiter LoginRateLimiter, accounts AccountStore, notifier LockoutNotifier, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *CredentialService {
	return &CredentialService{
		limiter:      limiter,
		accounts:     accounts,
		notifier:     notifier,
		logger:       logger,
		auditLogger:  auditLogger,
		derive:       pkgauth.DerivePasswordHash,
		generateSalt: pkgauth.GenerateSalt,
	}
}

// Verify checks a username/password pair. Policy failures come back as an
// unsuccessful result; only infrastructure faults return an error.
func (s *CredentialService) Verify(ctx context.Context, username, password string, ipAddress *string) (*VerifyResult, error) {
	if ipAddress != nil && *ipAddress == "" {
		ipAddress = nil
	}

	// 1. Rate limits
	decision, err := s.limiter.Evaluate(ctx, username, ipAddress)
	if err != nil {
		s.recordAfterFault(ctx, username, ipAddress, nil)
		return nil, fmt.Errorf("failed to evaluate rate limit: %w", err)
	}
	if !decision.Allowed {
		reason := models.ReasonRateLimitExceeded
		if decision.Kind == models.RateLimitKindLocked {
			reason = models.ReasonAccountLocked
		}
		// Blocked attempts are logged too and count toward later lockout math
		if err := s.recordFailure(ctx, username, ipAddress, nil, reason, decision); err != nil {
			return nil, err
		}
		return blockedResult(decision), nil
	}

	// 2. Account lookup
	account, err := s.accounts.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			if err := s.recordFailure(ctx, username, ipAddress, nil, models.ReasonUserNotFound, nil); err != nil {
				return nil, err
			}
			return invalidCredentials(), nil
		}
		s.logger.Error("failed to look up account", slog.Any("error", err))
		s.recordAfterFault(ctx, username, ipAddress, nil)
		return nil, fmt.Errorf("%w: %w", models.ErrAccountStoreFailure, err)
	}

	// 3. Provisioned without a password
	if !account.HasPassword() {
		if err := s.recordFailure(ctx, username, ipAddress, account, models.ReasonNoPasswordSet, decision); err != nil {
			return nil, err
		}
		return &VerifyResult{Error: MessageNoPasswordSet, Kind: models.FailureNoPasswordSet}, nil
	}

	// 4. Password
	legacy := account.IsLegacyCredential()
	salt := pkgauth.LegacyPasswordSalt
	if !legacy {
		salt = *account.PasswordSalt
	}
	derived, err := s.derive(password, salt)
	if err != nil {
		s.logger.Error("failed to derive password hash", slog.String("account_id", account.ID), slog.Any("error", err))
		s.recordAfterFault(ctx, username, ipAddress, account)
		return nil, fmt.Errorf("%w: %w", models.ErrPasswordHashing, err)
	}
	if !pkgauth.PasswordHashesEqual(derived, *account.PasswordHash) {
		if err := s.recordFailure(ctx, username, ipAddress, account, models.ReasonInvalidPassword, decision); err != nil {
			return nil, err
		}
		return invalidCredentials(), nil
	}

	// 5. Deactivated
	if !account.IsActive {
		if err := s.recordFailure(ctx, username, ipAddress, account, models.ReasonAccountDeactivated, decision); err != nil {
			return nil, err
		}
		return &VerifyResult{Error: MessageAccountDeactivated, Kind: models.FailureAccountDeactivated}, nil
	}

	// 6. Legacy credential upgrade
	if legacy {
		s.migrateLegacyCredential(ctx, account, password)
	}

	// 7. Role
	roles := account.Roles
	if roles == nil {
		roles, err = s.accounts.RolesOf(ctx, account.ID)
		if err != nil {
			s.logger.Error("failed to list account roles", slog.String("account_id", account.ID), slog.Any("error", err))
			s.recordAfterFault(ctx, username, ipAddress, account)
			return nil, fmt.Errorf("%w: %w", models.ErrAccountStoreFailure, err)
		}
		account.Roles = roles
	}
	role := models.PrimaryRole(roles)

	// 8. Success
	accountID := account.ID
	if _, err := s.limiter.RecordLoginAttempt(ctx, &models.LoginAttempt{
		Username:  username,
		IPAddress: ipAddress,
		Success:   true,
		AccountID: &accountID,
	}); err != nil {
		s.logger.Error("failed to record successful login", slog.String("account_id", account.ID), slog.Any("error", err))
		return nil, err
	}

	s.auditLogger.LogAuthAttempt(ctx, pkglogger.AuditEvent{
		EventType: "login_success",
		Username:  username,
		AccountID: account.ID,
		IPAddress: derefIP(ipAddress),
		Success:   true,
		Metadata:  map[string]string{"role": role},
	})

	return &VerifyResult{
		Success: true,
		Account: account.ToResponse(),
		Role:    role,
	}, nil
}

// EvaluateRateLimit exposes the limiter verdict for admin tooling without recording anything
func (s *CredentialService) EvaluateRateLimit(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error) {
	if ipAddress != nil && *ipAddress == "" {
		ipAddress = nil
	}
	return s.limiter.Evaluate(ctx, username, ipAddress)
}

// SetPassword stores a new password for an account under a fresh per-account salt
func (s *CredentialService) SetPassword(ctx context.Context, accountID, password string) error {
	if err := pkgauth.ValidatePassword(password); err != nil {
		return err
	}

	if _, err := s.accounts.GetByID(ctx, accountID); err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("%w: %w", models.ErrAccountStoreFailure, err)
	}

	salt, err := s.generateSalt()
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPasswordHashing, err)
	}
	hash, err := s.derive(password, salt)
	if err != nil {
		return fmt.Errorf("%w: %w", models.ErrPasswordHashing, err)
	}

	if err := s.accounts.SetPasswordFields(ctx, accountID, hash, salt); err != nil {
		s.auditLogger.LogPasswordChange(ctx, accountID, "admin_set", false)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return fmt.Errorf("%w: %w", models.ErrAccountStoreFailure, err)
	}

	s.auditLogger.LogPasswordChange(ctx, accountID, "admin_set", true)
	return nil
}

// migrateLegacyCredential re-hashes a just-verified password under a new
// per-account salt. Failures are logged and dropped; the next successful
// login tries again.
func (s *CredentialService) migrateLegacyCredential(ctx context.Context, account *models.Account, password string) {
	// Let the write finish even if the caller stops waiting
	ctx = context.WithoutCancel(ctx)

	salt, err := s.generateSalt()
	if err != nil {
		s.logger.Warn("legacy credential migration skipped: salt generation failed",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}

	hash, err := s.derive(password, salt)
	if err != nil {
		s.logger.Warn("legacy credential migration skipped: hashing failed",
			slog.String("account_id", account.ID), slog.Any("error", err))
		return
	}

	if err := s.accounts.SetPasswordFields(ctx, account.ID, hash, salt); err != nil {
		s.logger.Warn("legacy credential migration failed",
			slog.String("account_id", account.ID), slog.Any("error", err))
		s.auditLogger.LogPasswordChange(ctx, account.ID, "legacy_migration", false)
		return
	}

	s.logger.Info("legacy credential migrated", slog.String("account_id", account.ID))
	s.auditLogger.LogPasswordChange(ctx, account.ID, "legacy_migration", true)
}

// recordFailure appends a failed attempt. A write failure is an
// infrastructure fault: the attempt would otherwise escape the limits.
// decision is the verdict the attempt was evaluated under; nil skips the
// lockout notice check.
func (s *CredentialService) recordFailure(ctx context.Context, username string, ipAddress *string, account *models.Account, reason string, decision *models.RateLimitDecision) error {
	attempt := &models.LoginAttempt{
		Username:  username,
		IPAddress: ipAddress,
		Success:   false,
		Reason:    &reason,
	}
	event := pkglogger.AuditEvent{
		EventType:     "login_failed",
		Username:      username,
		IPAddress:     derefIP(ipAddress),
		FailureReason: reason,
	}
	if account != nil {
		accountID := account.ID
		attempt.AccountID = &accountID
		event.AccountID = accountID
	}

	s.auditLogger.LogAuthAttempt(ctx, event)

	if _, err := s.limiter.RecordLoginAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record failed login attempt", slog.Any("error", err))
		return err
	}

	s.maybeNotifyLockout(username, account, decision, attempt.Timestamp)
	return nil
}

// recordAfterFault records a failure after an infrastructure error. The
// original error is what the caller sees, so this write's outcome is ignored.
func (s *CredentialService) recordAfterFault(ctx context.Context, username string, ipAddress *string, account *models.Account) {
	_ = s.recordFailure(ctx, username, ipAddress, account, models.ReasonInternalError, nil)
}

// maybeNotifyLockout sends a notice when the failure just recorded is the one
// that brings the username to the lockout threshold. The count before the
// write comes from decision, so every check kind is covered.
func (s *CredentialService) maybeNotifyLockout(username string, account *models.Account, decision *models.RateLimitDecision, at time.Time) {
	if s.notifier == nil || decision == nil {
		return
	}
	config := s.limiter.Config()
	if decision.LockoutFailures+1 != config.LockoutAttempts {
		return
	}

	oldest := at
	if decision.OldestFailure != nil && (at.IsZero() || decision.OldestFailure.Before(at)) {
		oldest = *decision.OldestFailure
	}
	expires := oldest.Add(config.LockoutDuration)

	s.notices.Add(1)
	go func() {
		defer s.notices.Done()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if account == nil {
			found, err := s.accounts.FindByUsername(ctx, username)
			if err != nil {
				if !errors.Is(err, models.ErrNotFound) {
					s.logger.Warn("lockout notice skipped: account lookup failed", slog.Any("error", err))
				}
				return
			}
			account = found
		}

		if err := s.notifier.NotifyLockout(ctx, account, expires); err != nil {
			s.logger.Warn("failed to send lockout notice", slog.String("account_id", account.ID), slog.Any("error", err))
			return
		}
		s.auditLogger.LogAccountAction(ctx, "lockout_notice_sent", account.ID, nil)
	}()
}

// Wait blocks until every dispatched lockout notice has finished
func (s *CredentialService) Wait() {
	s.notices.Wait()
}

func invalidCredentials() *VerifyResult {
	return &VerifyResult{Error: MessageInvalidCredentials, Kind: models.FailureInvalidCredentials}
}

func blockedResult(decision *models.RateLimitDecision) *VerifyResult {
	kind := models.FailureRateLimited
	if decision.Kind == models.RateLimitKindLocked {
		kind = models.FailureAccountLocked
	}
	return &VerifyResult{
		Error:          decision.Reason,
		Kind:           kind,
		LockoutExpires: decision.LockoutExpires,
	}
}
