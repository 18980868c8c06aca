package background

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// AttemptPurger deletes attempt log rows older than a cutoff
type AttemptPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweeperConfig holds configuration for attempt log cleanup
type SweeperConfig struct {
	CleanupAge time.Duration
	// Probability that a single recorded attempt dispatches a sweep
	Probability float64
	// MinSpacing is the minimum gap between probabilistic dispatches; 0 disables the gate
	MinSpacing time.Duration
	Timeout    time.Duration
}

// Sweeper removes login attempts that have aged past every window reading them.
// Sweeps are plain age-based deletes, so overlapping and repeated runs are safe.
type Sweeper struct {
	repo    AttemptPurger
	config  SweeperConfig
	logger  *slog.Logger
	limiter *rate.Limiter
	now     func() time.Time
	roll    func() float64
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
}

// NewSweeper creates a new Sweeper
func NewSweeper(repo AttemptPurger, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	var limiter *rate.Limiter
	if config.MinSpacing > 0 {
		limiter = rate.NewLimiter(rate.Every(config.MinSpacing), 1)
	}

	return &Sweeper{
		repo:    repo,
		config:  config,
		logger:  logger,
		limiter: limiter,
		now:     time.Now,
		roll:    rand.Float64,
		stopCh:  make(chan struct{}),
	}
}

// Sweep deletes every attempt with a timestamp before now minus the cleanup age
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.config.CleanupAge)

	deleted, err := s.repo.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	if deleted > 0 {
		s.logger.Info("login attempt cleanup completed",
			slog.Int64("rows_deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
	return deleted, nil
}

// MaybeSweep dispatches a background sweep with the configured probability.
// It never blocks and never reports errors to the caller.
func (s *Sweeper) MaybeSweep() bool {
	if s.config.Probability <= 0 || s.roll() >= s.config.Probability {
		return false
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return false
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runSweep(context.Background())
	}()
	return true
}

// Start runs Sweep on a fixed interval until ctx is cancelled or Stop is called
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Run immediately on startup
	s.runSweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.runSweep(ctx)
		case <-s.stopCh:
			s.logger.Info("login attempt sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("login attempt sweeper context cancelled")
			return
		}
	}
}

// Stop signals the scheduled sweep loop to stop
func (s *Sweeper) Stop() {
	s.stop.Do(func() { close(s.stopCh) })
}

// Wait blocks until every dispatched background sweep has finished
func (s *Sweeper) Wait() {
	s.wg.Wait()
}

func (s *Sweeper) runSweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	if _, err := s.Sweep(sweepCtx); err != nil {
		s.logger.Error("failed to cleanup login attempts", slog.Any("error", err))
	}
}
