package auth

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper periodically deletes expired sessions. Reads never depend on it; it only keeps the table small.
type Sweeper struct {
	service  *Service
	interval time.Duration
	logger   *slog.Logger
	onSwept  func(removed int64)
}

// NewSweeper creates a Sweeper. onSwept may be nil.
func NewSweeper(service *Service, interval time.Duration, logger *slog.Logger, onSwept func(int64)) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{service: service, interval: interval, logger: logger, onSwept: onSwept}
}

// Run sweeps once immediately and then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("session sweeper started", slog.Duration("interval", s.interval))
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session sweeper stopped")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and returns the number of removed sessions.
func (s *Sweeper) RunOnce(ctx context.Context) int64 {
	removed, err := s.service.CleanupExpiredSessions(ctx)
	if err != nil {
		s.logger.Error("expired session cleanup failed", slog.String("error", err.Error()))
		return 0
	}
	if removed > 0 {
		s.logger.Info("expired sessions removed", slog.Int64("count", removed))
	}
	if s.onSwept != nil {
		s.onSwept(removed)
	}
	return removed
}
