package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/kirinyoku/evreg/internal/service/lifecycle"
)

type statusSweeper interface {
	Sweep(ctx context.Context) ([]lifecycle.Change, error)
}

// Scheduler runs the status sweep on a fixed interval until its context
// is cancelled.
type Scheduler struct {
	sweeper  statusSweeper
	interval time.Duration
	logger   *slog.Logger
}

func New(sweeper statusSweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}

	return &Scheduler{
		sweeper:  sweeper,
		interval: interval,
		logger:   logger,
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	changed, err := s.sweeper.Sweep(ctx)
	if err != nil {
		s.logger.Error("status sweep failed", slog.String("error", err.Error()))
	}

	for _, c := range changed {
		s.logger.Info("event status updated",
			slog.String("event_id", c.EventID),
			slog.String("from", string(c.From)),
			slog.String("to", string(c.To)),
		)
	}
}
