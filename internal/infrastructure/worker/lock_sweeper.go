package worker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/debt-clearance/internal/application/port"
)

// LockSweeperConfig holds configuration for the lock sweeper
type LockSweeperConfig struct {
	Interval time.Duration
	LockTTL  time.Duration
}

// DefaultLockSweeperConfig returns default configuration
func DefaultLockSweeperConfig() LockSweeperConfig {
	return LockSweeperConfig{
		Interval: 30 * time.Second,
		LockTTL:  2 * time.Minute,
	}
}

// LockSweeper releases request locks whose holder never finished the transition
type LockSweeper struct {
	*poller
	config   LockSweeperConfig
	requests port.RequestRepository
	logger   *zap.Logger
	now      func() time.Time
}

// NewLockSweeper creates a new lock sweeper
func NewLockSweeper(config LockSweeperConfig, requests port.RequestRepository, logger *zap.Logger) *LockSweeper {
	s := &LockSweeper{
		config:   config,
		requests: requests,
		logger:   logger,
		now:      time.Now,
	}
	s.poller = newPoller("LockSweeper", config.Interval, s.Sweep, logger)
	return s
}

// Sweep releases every lock older than the configured TTL
func (s *LockSweeper) Sweep(ctx context.Context) error {
	cutoff := s.now().Add(-s.config.LockTTL)
	released, err := s.requests.ReleaseStaleLocks(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("release stale locks: %w", err)
	}
	if released > 0 {
		s.logger.Warn("Released stale request locks",
			zap.Int64("count", released),
			zap.Time("locked_before", cutoff))
	}
	return nil
}
