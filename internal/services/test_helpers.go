package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/rosterauth/internal/models"
	pkgauth "github.com/BradenHooton/rosterauth/pkg/auth"
)

// MockAttemptLog is an in-memory AttemptLog for testing
type MockAttemptLog struct {
	mu       sync.Mutex
	attempts []*models.LoginAttempt
	nextID   int

	AppendErr error
	QueryErr  error
}

func NewMockAttemptLog() *MockAttemptLog {
	return &MockAttemptLog{}
}

func (m *MockAttemptLog) Append(ctx context.Context, attempt *models.LoginAttempt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.AppendErr != nil {
		return "", m.AppendErr
	}

	m.nextID++
	stored := *attempt
	stored.ID = fmt.Sprintf("attempt-%d", m.nextID)
	m.attempts = append(m.attempts, &stored)
	return stored.ID, nil
}

func (m *MockAttemptLog) QueryByIP(ctx context.Context, ipAddress string, since time.Time) ([]*models.LoginAttempt, error) {
	return m.query(func(a *models.LoginAttempt) bool {
		return a.IPAddress != nil && *a.IPAddress == ipAddress
	}, since)
}

func (m *MockAttemptLog) QueryByUsername(ctx context.Context, username string, since time.Time) ([]*models.LoginAttempt, error) {
	return m.query(func(a *models.LoginAttempt) bool {
		return a.Username == username
	}, since)
}

func (m *MockAttemptLog) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := make([]*models.LoginAttempt, 0, len(m.attempts))
	var deleted int64
	for _, a := range m.attempts {
		if a.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	m.attempts = kept
	return deleted, nil
}

func (m *MockAttemptLog) query(match func(*models.LoginAttempt) bool, since time.Time) ([]*models.LoginAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.QueryErr != nil {
		return nil, m.QueryErr
	}

	out := make([]*models.LoginAttempt, 0)
	for _, a := range m.attempts {
		if match(a) && !a.Timestamp.Before(since) {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

// Seed inserts attempts directly, bypassing the service clock
func (m *MockAttemptLog) Seed(attempts ...*models.LoginAttempt) {
	for _, a := range attempts {
		_, _ = m.Append(context.Background(), a)
	}
}

// All returns a copy of every stored attempt in insertion order
func (m *MockAttemptLog) All() []models.LoginAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]models.LoginAttempt, len(m.attempts))
	for i, a := range m.attempts {
		out[i] = *a
	}
	return out
}

// Last returns the most recently appended attempt
func (m *MockAttemptLog) Last() *models.LoginAttempt {
	all := m.All()
	if len(all) == 0 {
		return nil
	}
	return &all[len(all)-1]
}

// MockAccountStore is an in-memory AccountStore with overridable behaviour
type MockAccountStore struct {
	mu       sync.Mutex
	accounts map[string]*models.Account // by username
	roles    map[string][]string        // by account id

	FindByUsernameFunc    func(ctx context.Context, username string) (*models.Account, error)
	RolesOfFunc           func(ctx context.Context, accountID string) ([]string, error)
	SetPasswordFieldsFunc func(ctx context.Context, accountID, passwordHash, passwordSalt string) error

	SetPasswordCalls int
}

func NewMockAccountStore() *MockAccountStore {
	return &MockAccountStore{
		accounts: make(map[string]*models.Account),
		roles:    make(map[string][]string),
	}
}

// Put stores a copy of account. Its roles are served by RolesOf; the account
// returned by FindByUsername carries none so the verifier has to ask.
func (m *MockAccountStore) Put(account *models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *account
	m.roles[stored.ID] = stored.Roles
	stored.Roles = nil
	m.accounts[stored.Username] = &stored
}

// Get returns a copy of the stored account for username
func (m *MockAccountStore) Get(username string) *models.Account {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[username]
	if !ok {
		return nil
	}
	copied := *a
	return &copied
}

func (m *MockAccountStore) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	if m.FindByUsernameFunc != nil {
		return m.FindByUsernameFunc(ctx, username)
	}
	if a := m.Get(username); a != nil {
		return a, nil
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) GetByID(ctx context.Context, id string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.accounts {
		if a.ID == id {
			copied := *a
			return &copied, nil
		}
	}
	return nil, models.ErrNotFound
}

func (m *MockAccountStore) RolesOf(ctx context.Context, accountID string) ([]string, error) {
	if m.RolesOfFunc != nil {
		return m.RolesOfFunc(ctx, accountID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.roles[accountID], nil
}

func (m *MockAccountStore) SetPasswordFields(ctx context.Context, accountID, passwordHash, passwordSalt string) error {
	m.mu.Lock()
	m.SetPasswordCalls++
	m.mu.Unlock()

	if m.SetPasswordFieldsFunc != nil {
		return m.SetPasswordFieldsFunc(ctx, accountID, passwordHash, passwordSalt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.ID == accountID {
			a.PasswordHash = &passwordHash
			a.PasswordSalt = &passwordSalt
			return nil
		}
	}
	return models.ErrNotFound
}

// MockLockoutNotifier records lockout notices
type MockLockoutNotifier struct {
	mu      sync.Mutex
	Notices []string // account ids
	Expires []time.Time
	Err     error
	// Block, when set, holds each notice until it is closed
	Block chan struct{}
}

func (m *MockLockoutNotifier) NotifyLockout(ctx context.Context, account *models.Account, expires time.Time) error {
	if m.Block != nil {
		<-m.Block
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Notices = append(m.Notices, account.ID)
	m.Expires = append(m.Expires, expires)
	return m.Err
}

func (m *MockLockoutNotifier) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Notices)
}

// FakeClock is a settable time source
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// NewTestAccount builds an active account whose password is hashed with a per-account salt
func NewTestAccount(id, username, password string, roles ...string) *models.Account {
	salt := "test-salt-" + id
	hash, err := pkgauth.DerivePasswordHash(password, salt)
	if err != nil {
		panic(err)
	}
	return &models.Account{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: &hash,
		PasswordSalt: &salt,
		IsActive:     true,
		Roles:        roles,
	}
}

// NewLegacyTestAccount builds an active account hashed with the shared legacy salt
func NewLegacyTestAccount(id, username, password string, roles ...string) *models.Account {
	hash, err := pkgauth.DerivePasswordHash(password, pkgauth.LegacyPasswordSalt)
	if err != nil {
		panic(err)
	}
	return &models.Account{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: &hash,
		IsActive:     true,
		Roles:        roles,
	}
}

// StrPtr returns a pointer to s
func StrPtr(s string) *string {
	return &s
}

// FailedAttempt builds a failed attempt at ts
func FailedAttempt(username string, ip *string, ts time.Time) *models.LoginAttempt {
	reason := models.ReasonInvalidPassword
	return &models.LoginAttempt{
		Username:  username,
		IPAddress: ip,
		Timestamp: ts,
		Reason:    &reason,
	}
}
