package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var tokensSweptTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: "auth_tokens_swept_total",
		Help: "Expired refresh tokens deleted by the sweeper.",
	},
)

// ExpiredTokenDeleter is the store operation the sweeper drives.
type ExpiredTokenDeleter interface {
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically deletes expired refresh tokens.
type Sweeper struct {
	store    ExpiredTokenDeleter
	interval time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewSweeper creates a sweeper that runs every interval.
func NewSweeper(store ExpiredTokenDeleter, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{store: store, interval: interval, logger: logger, now: time.Now}
}

// Run sweeps on every tick until ctx is canceled. A non-positive interval
// disables the sweeper.
func (s *Sweeper) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.logger.Info("refresh token sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
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

// SweepOnce deletes tokens expired at the current time and returns how many
// were removed.
func (s *Sweeper) SweepOnce(ctx context.Context) int64 {
	deleted, err := s.store.DeleteExpired(ctx, s.now().UTC())
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("refresh token sweep error", slog.String("error", err.Error()))
		}
		return 0
	}
	if deleted > 0 {
		tokensSweptTotal.Add(float64(deleted))
		s.logger.Info("expired refresh tokens deleted", slog.Int64("deleted", deleted))
	}
	return deleted
}
