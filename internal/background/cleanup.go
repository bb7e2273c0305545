package background

import (
	"context"
	"log/slog"
	"time"
)

const sweepTimeout = 30 * time.Second

// AttemptPurger is the slice of attempt storage the sweeper needs.
type AttemptPurger interface {
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepConfig sets how often the sweeper runs and how far back rows survive.
type SweepConfig struct {
	Interval  time.Duration
	Retention time.Duration
}

// AttemptSweeper prunes login attempt rows past the retention window on a
// timer. Token slots are not its business; those expire lazily when next
// touched.
type AttemptSweeper struct {
	attempts AttemptPurger
	logger   *slog.Logger
	cfg      SweepConfig
	stopCh   chan struct{}
}

// NewAttemptSweeper creates a sweeper; Start runs it.
func NewAttemptSweeper(attempts AttemptPurger, cfg SweepConfig, logger *slog.Logger) *AttemptSweeper {
	return &AttemptSweeper{
		attempts: attempts,
		logger:   logger,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// Start blocks, sweeping once immediately and then on every interval tick,
// until Stop is called or the context ends. Run it in its own goroutine.
func (s *AttemptSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopCh:
			s.logger.Info("attempt sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("attempt sweeper context cancelled")
			return
		}
	}
}

// Stop ends the Start loop.
func (s *AttemptSweeper) Stop() {
	close(s.stopCh)
}

func (s *AttemptSweeper) sweep(ctx context.Context) {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	cutoff := time.Now().Add(-s.cfg.Retention)
	deleted, err := s.attempts.DeleteOlderThan(sweepCtx, cutoff)
	if err != nil {
		s.logger.Error("failed to prune login attempts", slog.Any("error", err))
		return
	}

	if deleted > 0 {
		s.logger.Info("login attempt retention sweep completed",
			slog.Int64("rows_deleted", deleted),
			slog.Time("cutoff", cutoff))
	}
}
