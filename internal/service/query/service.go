package query

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
	redisrepo "github.com/kirinyoku/evreg/internal/repository/redis"
)

type Config struct {
	EventSummaryTTL  time.Duration
	AvailabilityTTL  time.Duration
	DefaultEventPage int
	MaxEventPage     int
}

type Service struct {
	repos repository.Repos
	cache *redisrepo.Cache
	clock domain.Clock
	cfg   Config
}

func New(repos repository.Repos, cache *redisrepo.Cache, clock domain.Clock, cfg Config) *Service {
	if cfg.EventSummaryTTL <= 0 {
		cfg.EventSummaryTTL = 60 * time.Second
	}

	if cfg.AvailabilityTTL <= 0 {
		cfg.AvailabilityTTL = 5 * time.Second
	}

	if cfg.DefaultEventPage <= 0 {
		cfg.DefaultEventPage = 50
	}

	if cfg.MaxEventPage <= 0 {
		cfg.MaxEventPage = 200
	}

	if clock == nil {
		clock = domain.SystemClock
	}

	return &Service{
		repos: repos,
		cache: cache,
		clock: clock,
		cfg:   cfg,
	}
}

// GetEvent retrieves an event by its ID through the read-through cache.
//
// Returns:
//   - error: domain.ErrNotFound if the event does not exist.
func (s *Service) GetEvent(ctx context.Context, id string) (*domain.Event, error) {
	const op = "service.query.GetEvent"

	event, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventSummary(id),
		s.cfg.EventSummaryTTL,
		func(ctx context.Context) (domain.Event, error) {
			e, err := s.repos.Events().Get(ctx, id)
			if err != nil {
				return domain.Event{}, notFound(id, err)
			}

			return *e, nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &event, nil
}

// Availability reports the seat counts of an event. The snapshot may lag a
// commit by at most AvailabilityTTL; writers drop it on every change.
func (s *Service) Availability(ctx context.Context, id string) (*domain.Availability, error) {
	const op = "service.query.Availability"

	av, err := redisrepo.GetOrSetJSON(
		ctx,
		s.cache,
		redisrepo.KeyEventAvailability(id),
		s.cfg.AvailabilityTTL,
		func(ctx context.Context) (domain.Availability, error) {
			e, err := s.repos.Events().Get(ctx, id)
			if err != nil {
				return domain.Availability{}, notFound(id, err)
			}

			return domain.NewAvailability(e, s.clock.Now()), nil
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &av, nil
}

// ListEvents pages through events, optionally filtered by stored status.
func (s *Service) ListEvents(
	ctx context.Context,
	status domain.EventStatus,
	limit, offset int,
) ([]domain.Event, error) {
	const op = "service.query.ListEvents"

	if status != "" && !status.Valid() {
		return nil, fmt.Errorf("%s:%w: status %q", op, ErrInvalidFilter, status)
	}

	if offset < 0 {
		return nil, fmt.Errorf("%s:%w: negative offset", op, ErrInvalidFilter)
	}

	if limit <= 0 {
		limit = s.cfg.DefaultEventPage
	}

	if limit > s.cfg.MaxEventPage {
		limit = s.cfg.MaxEventPage
	}

	events, err := s.repos.Events().List(ctx, repository.EventFilter{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return events, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	return err
}
