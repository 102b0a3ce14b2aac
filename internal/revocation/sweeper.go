package revocation

import (
	"context"
	"log/slog"
	"time"
)

const DefaultSweepInterval = 10 * time.Minute

// Sweeper periodically purges expired single-token entries.
type Sweeper struct {
	Purger   Purger
	Interval time.Duration
	Logger   *slog.Logger
	Now      func() time.Time
}

// Run blocks until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	l := s.Logger
	if l == nil {
		l = slog.Default()
	}

	n, err := s.Purger.PurgeExpired(ctx, now())
	if err != nil {
		l.Error("revocation_sweep_failed", "error", err)
		return 0
	}
	if n > 0 {
		l.Info("revocation_sweep", "purged", n)
	}
	return n
}
