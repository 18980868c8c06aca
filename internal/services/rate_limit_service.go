package services

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BradenHooton/rosterauth/internal/models"
	pkglogger "github.com/BradenHooton/rosterauth/pkg/logger"
)

// AttemptLog is the append-only store of login attempts
type AttemptLog interface {
	Append(ctx context.Context, attempt *models.LoginAttempt) (string, error)
	QueryByIP(ctx context.Context, ipAddress string, since time.Time) ([]*models.LoginAttempt, error)
	QueryByUsername(ctx context.Context, username string, since time.Time) ([]*models.LoginAttempt, error)
}

// SweepTrigger gives attempt log maintenance a chance to run
type SweepTrigger interface {
	MaybeSweep() bool
}

// RateLimitConfig holds configuration for rate limiting behavior
type RateLimitConfig struct {
	MaxAttemptsPerIP       int
	MaxAttemptsPerUsername int
	Window                 time.Duration
	LockoutAttempts        int
	LockoutDuration        time.Duration
}

// DefaultRateLimitConfig returns the stock thresholds
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		MaxAttemptsPerIP:       5,
		MaxAttemptsPerUsername: 5,
		Window:                 15 * time.Minute,
		LockoutAttempts:        10,
		LockoutDuration:        30 * time.Minute,
	}
}

// User-facing messages for blocked attempts
const (
	MessageIPRateLimited       = "Too many failed login attempts from this network. Please try again later."
	MessageUsernameRateLimited = "Too many failed login attempts for this account. Please try again later."
	messageAccountLocked       = "Account temporarily locked due to too many failed login attempts. Try again in %d minute(s)."
)

// RateLimitService decides whether a login attempt may proceed. Every decision
// is computed from the attempt log at call time; nothing is cached, so a
// lockout ends on its own once the failures behind it age out.
type RateLimitService struct {
	repo    AttemptLog
	sweeper SweepTrigger
	config  RateLimitConfig
	logger  *slog.Logger
	now     func() time.Time
}

// NewRateLimitService creates a new RateLimitService. sweeper may be nil.
func NewRateLimitService(repo AttemptLog, sweeper SweepTrigger, config RateLimitConfig, logger *slog.Logger) *RateLimitService {
	return &RateLimitService{
		repo:    repo,
		sweeper: sweeper,
		config:  config,
		logger:  logger,
		now:     time.Now,
	}
}

// Config returns the thresholds in use
func (s *RateLimitService) Config() RateLimitConfig {
	return s.config
}

// Evaluate checks, in order, the IP limit, the account lockout and the
// username limit. The first violated check decides. A nil or empty ipAddress
// skips the IP check.
func (s *RateLimitService) Evaluate(ctx context.Context, username string, ipAddress *string) (*models.RateLimitDecision, error) {
	now := s.now()
	windowStart := now.Add(-s.config.Window)
	lockoutStart := now.Add(-s.config.LockoutDuration)
	ip := derefIP(ipAddress)

	// One username read covers both the lockout horizon and the shorter window
	usernameSince := windowStart
	if lockoutStart.Before(usernameSince) {
		usernameSince = lockoutStart
	}

	var ipAttempts, usernameAttempts []*models.LoginAttempt
	g, gctx := errgroup.WithContext(ctx)
	if ip != "" {
		g.Go(func() error {
			var err error
			ipAttempts, err = s.repo.QueryByIP(gctx, ip, windowStart)
			return err
		})
	}
	g.Go(func() error {
		var err error
		usernameAttempts, err = s.repo.QueryByUsername(gctx, username, usernameSince)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to read login attempts", slog.Any("error", err))
		return nil, fmt.Errorf("%w: %w", models.ErrAttemptLogUnavailable, err)
	}

	lockoutFailures, oldest := failuresSince(usernameAttempts, lockoutStart)
	lockoutState := func(d *models.RateLimitDecision) *models.RateLimitDecision {
		d.LockoutFailures = lockoutFailures
		if lockoutFailures > 0 {
			d.OldestFailure = &oldest
		}
		return d
	}

	// 1. IP
	ipRemaining := s.config.MaxAttemptsPerIP
	if ip != "" {
		ipFailures := countFailures(ipAttempts, windowStart)
		if ipFailures >= s.config.MaxAttemptsPerIP {
			s.logger.Warn("IP rate limited",
				slog.String("ip_address", ip),
				slog.Int("failed_attempts", ipFailures))
			return lockoutState(&models.RateLimitDecision{
				Allowed:        false,
				Kind:           models.RateLimitKindIP,
				Reason:         MessageIPRateLimited,
				Remaining:      0,
				FailedAttempts: ipFailures,
			}), nil
		}
		ipRemaining = s.config.MaxAttemptsPerIP - ipFailures
	}

	// 2. Lockout
	if lockoutFailures >= s.config.LockoutAttempts {
		expires := oldest.Add(s.config.LockoutDuration)
		s.logger.Warn("account locked",
			slog.String("username", pkglogger.MaskedUsername(username)),
			slog.Int("failed_attempts", lockoutFailures),
			slog.Time("lockout_expires", expires))
		return lockoutState(&models.RateLimitDecision{
			Allowed:        false,
			Kind:           models.RateLimitKindLocked,
			Reason:         fmt.Sprintf(messageAccountLocked, minutesUntil(now, expires)),
			Remaining:      0,
			LockoutExpires: &expires,
			FailedAttempts: lockoutFailures,
		}), nil
	}

	// 3. Username
	usernameFailures := countFailures(usernameAttempts, windowStart)
	usernameRemaining := clampRemaining(s.config.MaxAttemptsPerUsername - usernameFailures)
	if usernameFailures >= s.config.MaxAttemptsPerUsername {
		s.logger.Warn("username rate limited",
			slog.String("username", pkglogger.MaskedUsername(username)),
			slog.Int("failed_attempts", usernameFailures))
		return lockoutState(&models.RateLimitDecision{
			Allowed:        false,
			Kind:           models.RateLimitKindUsername,
			Reason:         MessageUsernameRateLimited,
			Remaining:      usernameRemaining,
			FailedAttempts: usernameFailures,
		}), nil
	}

	return lockoutState(&models.RateLimitDecision{
		Allowed:        true,
		Remaining:      clampRemaining(min(ipRemaining, usernameRemaining)),
		FailedAttempts: usernameFailures,
	}), nil
}

// RecordLoginAttempt appends an attempt to the log, stamping it with the
// service clock when no timestamp is set, then offers the sweeper a chance to run
func (s *RateLimitService) RecordLoginAttempt(ctx context.Context, attempt *models.LoginAttempt) (string, error) {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = models.AttemptTime(s.now())
	}
	if attempt.IPAddress != nil && *attempt.IPAddress == "" {
		attempt.IPAddress = nil
	}

	id, err := s.repo.Append(ctx, attempt)

	if s.sweeper != nil {
		s.sweeper.MaybeSweep()
	}

	if err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrAttemptLogUnavailable, err)
	}
	return id, nil
}

func countFailures(attempts []*models.LoginAttempt, since time.Time) int {
	n, _ := failuresSince(attempts, since)
	return n
}

// failuresSince counts failed attempts at or after since and returns the
// timestamp of the oldest one
func failuresSince(attempts []*models.LoginAttempt, since time.Time) (int, time.Time) {
	var count int
	var oldest time.Time
	for _, a := range attempts {
		if a.Success || a.Timestamp.Before(since) {
			continue
		}
		if count == 0 || a.Timestamp.Before(oldest) {
			oldest = a.Timestamp
		}
		count++
	}
	return count, oldest
}

func clampRemaining(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

func minutesUntil(now, t time.Time) int {
	m := int(math.Ceil(t.Sub(now).Minutes()))
	if m < 1 {
		return 1
	}
	return m
}

func derefIP(ipAddress *string) string {
	if ipAddress == nil {
		return ""
	}
	return *ipAddress
}
