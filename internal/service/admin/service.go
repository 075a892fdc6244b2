package admin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
	"github.com/kirinyoku/evreg/internal/service/changes"
	"github.com/kirinyoku/evreg/internal/uow"
)

type Service struct {
	repos   repository.Repos
	tx      uow.Runner
	clock   domain.Clock
	changes *changes.Broadcaster
	logger  *slog.Logger
}

func New(
	repos repository.Repos,
	tx uow.Runner,
	clock domain.Clock,
	broadcaster *changes.Broadcaster,
	logger *slog.Logger,
) *Service {
	if clock == nil {
		clock = domain.SystemClock
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Service{repos: repos, tx: tx, clock: clock, changes: broadcaster, logger: logger}
}

// EventInput carries the editable fields of an event.
type EventInput struct {
	Title             string
	Description       string
	Capacity          int
	StartDate         time.Time
	EndDate           time.Time
	RegistrationStart *time.Time
	RegistrationEnd   *time.Time
	// MinAge defaults to domain.DefaultMinAge when nil.
	MinAge           *int
	MaxAge           *int
	Prices           domain.PriceTiers
	RequiresApproval bool
}

func (in EventInput) validate() error {
	minAge := in.minAge()

	switch {
	case strings.TrimSpace(in.Title) == "":
		return fmt.Errorf("%w: title is required", ErrInvalidEvent)
	case in.Capacity <= 0:
		return fmt.Errorf("%w: capacity must be positive", ErrInvalidEvent)
	case in.StartDate.IsZero() || in.EndDate.IsZero():
		return fmt.Errorf("%w: start and end dates are required", ErrInvalidEvent)
	case in.EndDate.Before(in.StartDate):
		return fmt.Errorf("%w: end date before start date", ErrInvalidEvent)
	case in.RegistrationStart != nil && in.RegistrationEnd != nil &&
		in.RegistrationEnd.Before(*in.RegistrationStart):
		return fmt.Errorf("%w: registration end before registration start", ErrInvalidEvent)
	case minAge < 0:
		return fmt.Errorf("%w: min age must not be negative", ErrInvalidEvent)
	case in.MaxAge != nil && *in.MaxAge < minAge:
		return fmt.Errorf("%w: max age below min age", ErrInvalidEvent)
	case in.Prices.Base < 0 ||
		(in.Prices.Youth != nil && *in.Prices.Youth < 0) ||
		(in.Prices.Senior != nil && *in.Prices.Senior < 0):
		return fmt.Errorf("%w: prices must not be negative", ErrInvalidEvent)
	}

	return nil
}

func (in EventInput) minAge() int {
	if in.MinAge == nil {
		return domain.DefaultMinAge
	}
	return *in.MinAge
}

func (in EventInput) apply(e *domain.Event) {
	e.Title = strings.TrimSpace(in.Title)
	e.Description = in.Description
	e.Capacity = in.Capacity
	e.StartDate = in.StartDate.UTC()
	e.EndDate = in.EndDate.UTC()
	e.RegistrationStart = in.RegistrationStart
	e.RegistrationEnd = in.RegistrationEnd
	e.MinAge = in.minAge()
	e.MaxAge = in.MaxAge
	e.Prices = in.Prices
	e.RequiresApproval = in.RequiresApproval
}

// CreateEvent stores a new event in draft.
//
// Returns:
//   - error: admin.ErrInvalidEvent if the input fails validation.
func (s *Service) CreateEvent(ctx context.Context, in EventInput) (*domain.Event, error) {
	const op = "service.admin.CreateEvent"

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	now := s.clock.Now()
	ev := &domain.Event{
		ID:        uuid.NewString(),
		Status:    domain.EventDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
	in.apply(ev)

	if err := s.repos.Events().Create(ctx, ev); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrConflict)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ev, nil
}

// UpdateEvent replaces the editable fields of an event. The seat counter
// is untouched and capacity may not drop below it.
//
// Returns:
//   - error: domain.ErrNotFound if the event does not exist.
//   - error: admin.ErrInvalidEvent if the input fails validation.
//   - error: admin.ErrCapacityBelowRegistered if seats are already taken
//     beyond the new capacity.
//   - error: admin.ErrInvalidTransition if the event is cancelled or over.
func (s *Service) UpdateEvent(ctx context.Context, id string, in EventInput) (*domain.Event, error) {
	const op = "service.admin.UpdateEvent"

	if err := in.validate(); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	now := s.clock.Now()

	var out *domain.Event
	err := s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		ev, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(id, err)
		}

		if ev.Status == domain.EventCancelled || ev.IsFinished(now) {
			return fmt.Errorf("%w: event is %s", ErrInvalidTransition, ev.DeriveStatus(now))
		}
		if in.Capacity < ev.RegisteredCount {
			return fmt.Errorf("%w: %d registered", ErrCapacityBelowRegistered, ev.RegisteredCount)
		}

		in.apply(ev)
		ev.UpdatedAt = now

		if err := tx.Events().Update(ctx, ev); err != nil {
			return err
		}

		out = ev

		after(func(ctx context.Context) {
			s.changes.EventChanged(ctx, ev.ID)
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Publish opens a draft event for registration.
func (s *Service) Publish(ctx context.Context, id string) (*domain.Event, error) {
	const op = "service.admin.Publish"

	ev, err := s.transition(ctx, id, func(ev *domain.Event, now time.Time) error {
		if ev.Status != domain.EventDraft {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ev.Status, domain.EventPublished)
		}
		if ev.IsFinished(now) {
			return fmt.Errorf("%w: event is over", ErrInvalidTransition)
		}
		return nil
	}, domain.EventPublished)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ev, nil
}

// CancelEvent moves an event to the terminal cancelled state. Existing
// registrations are kept as they are; the sweep never touches the event
// again.
func (s *Service) CancelEvent(ctx context.Context, id string) (*domain.Event, error) {
	const op = "service.admin.CancelEvent"

	ev, err := s.transition(ctx, id, func(ev *domain.Event, now time.Time) error {
		if ev.Status == domain.EventCancelled || ev.Status == domain.EventFinished || ev.IsFinished(now) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, ev.DeriveStatus(now), domain.EventCancelled)
		}
		return nil
	}, domain.EventCancelled)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return ev, nil
}

func (s *Service) transition(
	ctx context.Context,
	id string,
	allowed func(ev *domain.Event, now time.Time) error,
	to domain.EventStatus,
) (*domain.Event, error) {
	now := s.clock.Now()

	var out *domain.Event
	err := s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		ev, err := tx.Events().GetForUpdate(ctx, id)
		if err != nil {
			return notFound(id, err)
		}

		if err := allowed(ev, now); err != nil {
			return err
		}

		ok, err := tx.Events().SetStatus(ctx, id, ev.Status, to)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: status changed concurrently", ErrInvalidTransition)
		}

		ev.Status = to
		out = ev

		after(func(ctx context.Context) {
			s.changes.EventChanged(ctx, ev.ID)
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "event status changed",
		slog.String("event_id", id),
		slog.String("status", string(to)),
	)

	return out, nil
}

// CreateUser stores a registrant profile. The birth date is what ages are
// derived from at registration time.
func (s *Service) CreateUser(ctx context.Context, email, fullName string, birthDate time.Time) (*domain.User, error) {
	const op = "service.admin.CreateUser"

	now := s.clock.Now()

	addr, err := mail.ParseAddress(email)
	if err != nil {
		return nil, fmt.Errorf("%s:%w: email: %v", op, ErrInvalidUser, err)
	}
	if birthDate.IsZero() || birthDate.After(now) {
		return nil, fmt.Errorf("%s:%w: birth date must be in the past", op, ErrInvalidUser)
	}

	u := &domain.User{
		ID:        uuid.NewString(),
		Email:     strings.ToLower(addr.Address),
		FullName:  strings.TrimSpace(fullName),
		BirthDate: birthDate.UTC(),
		CreatedAt: now,
	}

	if err := s.repos.Users().Create(ctx, u); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%s:%w", op, ErrConflict)
		}
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return u, nil
}

// ReconcileReport compares the stored seat counter with the registrations
// that actually occupy a seat.
type ReconcileReport struct {
	EventID  string
	Capacity int
	Stored   int
	Actual   int
}

func (r ReconcileReport) Consistent() bool {
	return r.Stored == r.Actual
}

// Reconcile reads the counter and the active registrations under the
// event lock. It never writes; a drift is logged for investigation.
func (s *Service) Reconcile(ctx context.Context, eventID string) (*ReconcileReport, error) {
	const op = "service.admin.Reconcile"

	var rep ReconcileReport
	err := s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		ev, err := tx.Events().GetForUpdate(ctx, eventID)
		if err != nil {
			return notFound(eventID, err)
		}

		n, err := tx.Registrations().CountActive(ctx, eventID)
		if err != nil {
			return err
		}

		rep = ReconcileReport{EventID: ev.ID, Capacity: ev.Capacity, Stored: ev.RegisteredCount, Actual: n}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	if !rep.Consistent() {
		s.logger.WarnContext(ctx, "seat counter drift",
			slog.String("event_id", eventID),
			slog.Int("stored", rep.Stored),
			slog.Int("actual", rep.Actual),
		)
	}

	return &rep, nil
}

func notFound(id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("event %s: %w", id, domain.ErrNotFound)
	}
	return err
}
