package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BradenHooton/rosterauth/internal/models"
	pkgauth "github.com/BradenHooton/rosterauth/pkg/auth"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

const testPassword = "Corr3ct-Horse!"

type credentialFixture struct {
	svc      *CredentialService
	limiter  *RateLimitService
	log      *MockAttemptLog
	accounts *MockAccountStore
	notifier *MockLockoutNotifier
	clock    *FakeClock
}

func newCredentialFixture(t *testing.T) *credentialFixture {
	t.Helper()
	logger := discardLogger()

	log := NewMockAttemptLog()
	clock := NewFakeClock(testStart)
	limiter := NewRateLimitService(log, nil, DefaultRateLimitConfig(), logger)
	limiter.now = clock.Now

	accounts := NewMockAccountStore()
	notifier := &MockLockoutNotifier{}
	svc := NewCredentialService(limiter, accounts, notifier, logger, pkglogger.NewAuditLogger(logger))

	return &credentialFixture{
		svc:      svc,
		limiter:  limiter,
		log:      log,
		accounts: accounts,
		notifier: notifier,
		clock:    clock,
	}
}

func TestCredentialService_Verify_Success(t *testing.T) {
	f := newCredentialFixture(t)
	account := NewTestAccount("acc-1", "alice", testPassword, models.RoleMember, models.RoleAdministrator)
	account.DisplayName = "Alice A."
	f.accounts.Put(account)

	result, err := f.svc.Verify(context.Background(), "alice", testPassword, StrPtr("198.51.100.1"))

	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Empty(t, result.Error)
	assert.Equal(t, models.RoleAdministrator, result.Role)
	require.NotNil(t, result.Account)
	assert.Equal(t, "acc-1", result.Account.ID)
	assert.Equal(t, "Alice A.", result.Account.DisplayName)
	assert.ElementsMatch(t, []string{models.RoleMember, models.RoleAdministrator}, result.Account.Roles)

	last := f.log.Last()
	require.NotNil(t, last)
	assert.True(t, last.Success)
	assert.Nil(t, last.Reason)
	require.NotNil(t, last.AccountID)
	assert.Equal(t, "acc-1", *last.AccountID)
	require.NotNil(t, last.IPAddress)
	assert.Equal(t, "198.51.100.1", *last.IPAddress)
	assert.Equal(t, 0, f.accounts.SetPasswordCalls, "accounts with their own salt are not rewritten")
}

func TestCredentialService_Verify_AccountWithoutRolesIsMember(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))

	result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, models.RoleMember, result.Role)
}

func TestCredentialService_Verify_UserNotFound(t *testing.T) {
	f := newCredentialFixture(t)

	result, err := f.svc.Verify(context.Background(), "ghost", "whatever", StrPtr("198.51.100.1"))

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MessageInvalidCredentials, result.Error)
	assert.Equal(t, models.FailureInvalidCredentials, result.Kind)

	last := f.log.Last()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	require.NotNil(t, last.Reason)
	assert.Equal(t, models.ReasonUserNotFound, *last.Reason)
	assert.Nil(t, last.AccountID)
	assert.Equal(t, "ghost", last.Username)
}

func TestCredentialService_Verify_UsernameRecordedAsSubmitted(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))

	_, err := f.svc.Verify(context.Background(), "  Alice", testPassword, nil)
	require.NoError(t, err)

	last := f.log.Last()
	require.NotNil(t, last)
	assert.Equal(t, "  Alice", last.Username)
}

func TestCredentialService_Verify_NoPasswordSet(t *testing.T) {
	f := newCredentialFixture(t)
	account := NewTestAccount("acc-1", "alice", testPassword)
	account.PasswordHash = nil
	f.accounts.Put(account)

	result, err := f.svc.Verify(context.Background(), "alice", "anything", nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MessageNoPasswordSet, result.Error)
	assert.Equal(t, models.FailureNoPasswordSet, result.Kind)

	last := f.log.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.ReasonNoPasswordSet, *last.Reason)
	require.NotNil(t, last.AccountID)
	assert.Equal(t, "acc-1", *last.AccountID)
}

func TestCredentialService_Verify_InvalidPassword(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))

	result, err := f.svc.Verify(context.Background(), "alice", "Wr0ng-Password!", nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MessageInvalidCredentials, result.Error, "wrong password and unknown user look the same")
	assert.Nil(t, result.Account)

	last := f.log.Last()
	require.NotNil(t, last)
	assert.Equal(t, models.ReasonInvalidPassword, *last.Reason)
	require.NotNil(t, last.AccountID)
}

func TestCredentialService_Verify_Deactivated(t *testing.T) {
	f := newCredentialFixture(t)
	account := NewTestAccount("acc-1", "alice", testPassword)
	account.IsActive = false
	f.accounts.Put(account)

	t.Run("correct password reveals deactivation", func(t *testing.T) {
		result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, MessageAccountDeactivated, result.Error)
		assert.Equal(t, models.FailureAccountDeactivated, result.Kind)
		assert.Equal(t, models.ReasonAccountDeactivated, *f.log.Last().Reason)
	})

	t.Run("wrong password stays generic", func(t *testing.T) {
		result, err := f.svc.Verify(context.Background(), "alice", "Wr0ng-Password!", nil)
		require.NoError(t, err)
		assert.Equal(t, MessageInvalidCredentials, result.Error)
	})
}

func TestCredentialService_Verify_MigratesLegacyCredential(t *testing.T) {
	f := newCredentialFixture(t)
	legacy := NewLegacyTestAccount("acc-1", "dave", testPassword, models.RoleInstructor)
	legacyHash := *legacy.PasswordHash
	f.accounts.Put(legacy)

	result, err := f.svc.Verify(context.Background(), "dave", testPassword, nil)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, models.RoleInstructor, result.Role)

	stored := f.accounts.Get("dave")
	require.NotNil(t, stored.PasswordSalt)
	assert.NotEmpty(t, *stored.PasswordSalt)
	assert.Len(t, *stored.PasswordSalt, pkgauth.SaltLength*2)
	assert.NotEqual(t, legacyHash, *stored.PasswordHash)
	assert.False(t, stored.IsLegacyCredential())

	// The migrated credential keeps working and is not migrated again
	result, err = f.svc.Verify(context.Background(), "dave", testPassword, nil)
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.accounts.SetPasswordCalls)

	result, err = f.svc.Verify(context.Background(), "dave", "Wr0ng-Password!", nil)
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestCredentialService_Verify_MigrationFailureIsSwallowed(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewLegacyTestAccount("acc-1", "dave", testPassword))
	f.accounts.SetPasswordFieldsFunc = func(ctx context.Context, accountID, passwordHash, passwordSalt string) error {
		return errors.New("write conflict")
	}

	result, err := f.svc.Verify(context.Background(), "dave", testPassword, nil)

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, 1, f.accounts.SetPasswordCalls)
	assert.True(t, f.accounts.Get("dave").IsLegacyCredential())
	assert.True(t, f.log.Last().Success)
}

func TestCredentialService_Verify_BlockedAttemptIsRecorded(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))
	ip := StrPtr("198.51.100.1")
	for i := 0; i < 5; i++ {
		f.log.Seed(FailedAttempt("someone", ip, f.clock.Now().Add(-time.Minute)))
	}

	lookups := 0
	f.accounts.FindByUsernameFunc = func(ctx context.Context, username string) (*models.Account, error) {
		lookups++
		return nil, models.ErrNotFound
	}

	// Even the right password is refused while the address is throttled
	result, err := f.svc.Verify(context.Background(), "alice", testPassword, ip)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, MessageIPRateLimited, result.Error)
	assert.Equal(t, models.FailureRateLimited, result.Kind)
	assert.Zero(t, lookups, "no account lookup once blocked")

	last := f.log.Last()
	require.NotNil(t, last)
	assert.False(t, last.Success)
	assert.Equal(t, models.ReasonRateLimitExceeded, *last.Reason)
	assert.Nil(t, last.AccountID)
}

func TestCredentialService_Verify_LockedAccount(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "bob", testPassword))
	first := f.clock.Now().Add(-20 * time.Minute)
	for i := 0; i < 10; i++ {
		f.log.Seed(FailedAttempt("bob", nil, first.Add(time.Duration(i)*20*time.Second)))
	}

	result, err := f.svc.Verify(context.Background(), "bob", testPassword, nil)

	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, models.FailureAccountLocked, result.Kind)
	require.NotNil(t, result.LockoutExpires)
	assert.True(t, result.LockoutExpires.Equal(first.Add(30*time.Minute)))
	assert.Equal(t, models.ReasonAccountLocked, *f.log.Last().Reason)
}

func TestCredentialService_Verify_LockoutNotice(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "bob", testPassword))
	// Outside the username window, inside the lockout window
	first := f.clock.Now().Add(-20 * time.Minute)
	for i := 0; i < 9; i++ {
		f.log.Seed(FailedAttempt("bob", nil, first.Add(time.Duration(i)*20*time.Second)))
	}

	// The tenth failure reaches the threshold
	result, err := f.svc.Verify(context.Background(), "bob", "Wr0ng-Password!", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, result.Kind)

	f.svc.Wait()
	require.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, "acc-1", f.notifier.Notices[0])
	assert.True(t, f.notifier.Expires[0].Equal(first.Add(30*time.Minute)))

	// Blocked attempts push the count past the threshold and stay quiet
	for i := 0; i < 2; i++ {
		result, err = f.svc.Verify(context.Background(), "bob", "Wr0ng-Password!", nil)
		require.NoError(t, err)
		assert.Equal(t, models.FailureAccountLocked, result.Kind)
	}
	f.svc.Wait()
	assert.Equal(t, 1, f.notifier.Count())
}

func TestCredentialService_Verify_LockoutNoticeFromSingleAddress(t *testing.T) {
	f := newCredentialFixture(t)
	f.accounts.Put(NewTestAccount("acc-1", "bob", testPassword))
	attacker := StrPtr("198.51.100.7")

	var kinds []models.FailureKind
	for i := 0; i < 12; i++ {
		result, err := f.svc.Verify(context.Background(), "bob", "Wr0ng-Password!", attacker)
		require.NoError(t, err)
		kinds = append(kinds, result.Kind)
		f.clock.Advance(time.Second)
	}

	// The address limit wins from the sixth attempt on, yet every attempt counts
	for i, kind := range kinds {
		if i < 5 {
			assert.Equal(t, models.FailureInvalidCredentials, kind, "attempt %d", i+1)
		} else {
			assert.Equal(t, models.FailureRateLimited, kind, "attempt %d", i+1)
		}
	}

	result, err := f.svc.Verify(context.Background(), "bob", testPassword, StrPtr("203.0.113.9"))
	require.NoError(t, err)
	assert.Equal(t, models.FailureAccountLocked, result.Kind)

	f.svc.Wait()
	require.Equal(t, 1, f.notifier.Count())
	assert.Equal(t, "acc-1", f.notifier.Notices[0])
	assert.True(t, f.notifier.Expires[0].Equal(testStart.Add(30*time.Minute)))
}

func TestCredentialService_Verify_NoLockoutNoticeForUnknownUser(t *testing.T) {
	f := newCredentialFixture(t)
	for i := 0; i < 9; i++ {
		f.log.Seed(FailedAttempt("ghost", nil, f.clock.Now().Add(-20*time.Minute)))
	}

	result, err := f.svc.Verify(context.Background(), "ghost", "Wr0ng-Password!", nil)
	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, result.Kind)

	f.svc.Wait()
	assert.Zero(t, f.notifier.Count())
}

func TestCredentialService_Verify_NotifierFailureDoesNotAffectResult(t *testing.T) {
	f := newCredentialFixture(t)
	f.notifier.Err = errors.New("ses throttled")
	f.accounts.Put(NewTestAccount("acc-1", "bob", testPassword))
	for i := 0; i < 9; i++ {
		f.log.Seed(FailedAttempt("bob", nil, f.clock.Now().Add(-20*time.Minute)))
	}

	result, err := f.svc.Verify(context.Background(), "bob", "Wr0ng-Password!", nil)

	require.NoError(t, err)
	assert.Equal(t, models.FailureInvalidCredentials, result.Kind)
	f.svc.Wait()
	assert.Equal(t, 1, f.notifier.Count())
}

func TestCredentialService_Wait_DrainsLockoutNotices(t *testing.T) {
	f := newCredentialFixture(t)
	f.notifier.Block = make(chan struct{})
	f.accounts.Put(NewTestAccount("acc-1", "bob", testPassword))
	for i := 0; i < 9; i++ {
		f.log.Seed(FailedAttempt("bob", nil, f.clock.Now().Add(-20*time.Minute)))
	}

	_, err := f.svc.Verify(context.Background(), "bob", "Wr0ng-Password!", nil)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		f.svc.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned while a notice was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(f.notifier.Block)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after the notice finished")
	}
	assert.Equal(t, 1, f.notifier.Count())
}

func TestCredentialService_Verify_InfrastructureErrors(t *testing.T) {
	t.Run("attempt log unreadable", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.log.QueryErr = errors.New("connection refused")

		result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrAttemptLogUnavailable)
		// A failure record is still attempted
		last := f.log.Last()
		require.NotNil(t, last)
		assert.Equal(t, models.ReasonInternalError, *last.Reason)
	})

	t.Run("account store down", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.FindByUsernameFunc = func(ctx context.Context, username string) (*models.Account, error) {
			return nil, errors.New("pool exhausted")
		}

		result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrAccountStoreFailure)
		assert.Equal(t, models.ReasonInternalError, *f.log.Last().Reason)
	})

	t.Run("roles unavailable", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))
		f.accounts.RolesOfFunc = func(ctx context.Context, accountID string) ([]string, error) {
			return nil, errors.New("timeout")
		}

		result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrAccountStoreFailure)
	})

	t.Run("attempt log unwritable", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.log.AppendErr = errors.New("disk full")

		result, err := f.svc.Verify(context.Background(), "ghost", testPassword, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrAttemptLogUnavailable)
	})

	t.Run("hashing fails", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))
		f.svc.derive = func(password, salt string) (string, error) {
			return "", errors.New("out of memory")
		}

		result, err := f.svc.Verify(context.Background(), "alice", testPassword, nil)

		assert.Nil(t, result)
		assert.ErrorIs(t, err, models.ErrPasswordHashing)
	})
}

func TestCredentialService_Verify_EmptyIPIsAbsent(t *testing.T) {
	f := newCredentialFixture(t)

	_, err := f.svc.Verify(context.Background(), "ghost", testPassword, StrPtr(""))
	require.NoError(t, err)

	assert.Nil(t, f.log.Last().IPAddress)
}

func TestCredentialService_EvaluateRateLimit_DoesNotRecord(t *testing.T) {
	f := newCredentialFixture(t)

	decision, err := f.svc.EvaluateRateLimit(context.Background(), "alice", StrPtr("198.51.100.1"))

	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, f.log.All())
}

func TestCredentialService_SetPassword(t *testing.T) {
	const newPassword = "N3w-Passw0rd!x"

	t.Run("stores a fresh salt and hash", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.Put(NewLegacyTestAccount("acc-1", "dave", testPassword))

		err := f.svc.SetPassword(context.Background(), "acc-1", newPassword)
		require.NoError(t, err)

		stored := f.accounts.Get("dave")
		assert.False(t, stored.IsLegacyCredential())

		result, err := f.svc.Verify(context.Background(), "dave", newPassword, nil)
		require.NoError(t, err)
		assert.True(t, result.Success)

		result, err = f.svc.Verify(context.Background(), "dave", testPassword, nil)
		require.NoError(t, err)
		assert.False(t, result.Success)
	})

	t.Run("weak password rejected", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))

		err := f.svc.SetPassword(context.Background(), "acc-1", "password")

		var validationErr *pkgauth.PasswordValidationError
		assert.ErrorAs(t, err, &validationErr)
		assert.Zero(t, f.accounts.SetPasswordCalls)
	})

	t.Run("unknown account", func(t *testing.T) {
		f := newCredentialFixture(t)

		err := f.svc.SetPassword(context.Background(), "missing", newPassword)

		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("store failure", func(t *testing.T) {
		f := newCredentialFixture(t)
		f.accounts.Put(NewTestAccount("acc-1", "alice", testPassword))
		f.accounts.SetPasswordFieldsFunc = func(ctx context.Context, accountID, passwordHash, passwordSalt string) error {
			return errors.New("read-only replica")
		}

		err := f.svc.SetPassword(context.Background(), "acc-1", newPassword)

		assert.ErrorIs(t, err, models.ErrAccountStoreFailure)
	})
}
