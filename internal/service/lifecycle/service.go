// Package lifecycle keeps the stored event status roughly in line with the
// event dates. The stored status is a display and filter convenience; the
// registration gate never relies on it for timing.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/metrics"
	"github.com/kirinyoku/evreg/internal/repository"
	"github.com/kirinyoku/evreg/internal/service/changes"
)

const DefaultBatch = 500

type Change struct {
	EventID string
	From    domain.EventStatus
	To      domain.EventStatus
}

type Service struct {
	repos   repository.Repos
	clock   domain.Clock
	changes *changes.Broadcaster
	logger  *slog.Logger
	batch   int
}

func New(
	repos repository.Repos,
	clock domain.Clock,
	broadcaster *changes.Broadcaster,
	logger *slog.Logger,
	batch int,
) *Service {
	if clock == nil {
		clock = domain.SystemClock
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if batch <= 0 {
		batch = DefaultBatch
	}

	return &Service{repos: repos, clock: clock, changes: broadcaster, logger: logger, batch: batch}
}

// Sweep moves every event whose stored status lags behind its dates. Due
// events are read in batches until none are left. Each write is a
// compare-and-set on the status it was read with, so a concurrent admin
// cancel always wins.
func (s *Service) Sweep(ctx context.Context) ([]Change, error) {
	const op = "service.lifecycle.Sweep"

	started := time.Now()
	defer func() { metrics.StatusSweepDuration(time.Since(started).Seconds()) }()

	now := s.clock.Now()

	var (
		out  []Change
		errs []error
	)

	for {
		events, err := s.repos.Events().ListDue(ctx, now, s.batch)
		if err != nil {
			errs = append(errs, err)
			break
		}

		moved := 0
		for i := range events {
			ev := &events[i]

			next := ev.DeriveStatus(now)
			if next == ev.Status {
				continue
			}

			ok, err := s.repos.Events().SetStatus(ctx, ev.ID, ev.Status, next)
			if err != nil {
				errs = append(errs, fmt.Errorf("event %s: %w", ev.ID, err))
				continue
			}
			// a lost compare-and-set also takes the row out of the due set
			moved++
			if !ok {
				continue
			}

			metrics.StatusSwept(string(next))
			s.changes.EventChanged(ctx, ev.ID)
			out = append(out, Change{EventID: ev.ID, From: ev.Status, To: next})
		}

		// Rows that failed to update would come back on the next page.
		if len(events) < s.batch || moved == 0 {
			break
		}
	}

	if len(errs) > 0 {
		return out, fmt.Errorf("%s:%w", op, errors.Join(errs...))
	}

	return out, nil
}
