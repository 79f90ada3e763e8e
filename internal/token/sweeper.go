package token

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Reaper is what the sweeper needs from the token store.
type Reaper interface {
	DeleteExpiredLogin(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper deletes expired login tokens on a fixed interval. It runs
// independently of request handling and holds no lock that could block
// authentication; sweep failures are logged and swallowed so the next tick
// retries.
type Sweeper struct {
	store    Reaper
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper builds a sweeper over the token store.
func NewSweeper(store Reaper, interval time.Duration, log *zap.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, log: log}
}

// Run blocks until ctx is cancelled, sweeping once per interval. Call it on
// its own goroutine.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	deleted, err := s.store.DeleteExpiredLogin(ctx, time.Now())
	if err != nil {
		s.log.Warn("token sweep failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.log.Info("swept expired login tokens", zap.Int64("deleted", deleted))
	}
}
