package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/metrics"
	"github.com/kirinyoku/evreg/internal/notify"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/repository"
	"github.com/kirinyoku/evreg/internal/service/changes"
	"github.com/kirinyoku/evreg/internal/ticket"
	"github.com/kirinyoku/evreg/internal/uow"
)

type CodeGenerator interface {
	NewCode() (string, error)
}

type Deps struct {
	Repos    repository.Repos
	Tx       uow.Runner
	Codes    CodeGenerator
	Clock    domain.Clock
	Notifier *notify.Dispatcher
	Changes  *changes.Broadcaster
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger
}

type Service struct {
	repos    repository.Repos
	tx       uow.Runner
	codes    CodeGenerator
	clock    domain.Clock
	notifier *notify.Dispatcher
	changes  *changes.Broadcaster
	limiter  ratelimit.Limiter
	logger   *slog.Logger
}

func New(d Deps) *Service {
	if d.Codes == nil {
		d.Codes = ticket.Generator{}
	}
	if d.Clock == nil {
		d.Clock = domain.SystemClock
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		repos:    d.Repos,
		tx:       d.Tx,
		codes:    d.Codes,
		clock:    d.Clock,
		notifier: d.Notifier,
		changes:  d.Changes,
		limiter:  d.Limiter,
		logger:   d.Logger,
	}
}

type RegisterInput struct {
	UserID  string
	EventID string
	// Age overrides the age derived from the user's birth date.
	Age *int
	// RateKey identifies the caller for the rate limiter. Empty skips it.
	RateKey string
}

type Result struct {
	Registration *domain.Registration
	Event        *domain.Event
	// Created is false when the user already held a seat on the event and
	// that registration was returned instead.
	Created bool
}

// Register takes a seat on an event for a user.
//
// The event row is locked for the whole unit of work, so the gate, the
// duplicate lookup, the insert and the counter increment see one
// consistent snapshot and concurrent callers queue behind each other.
//
// Parameters:
//   - ctx: request-scoped context.
//   - in: who registers for what.
//
// Returns:
//   - *Result: the new registration, or the existing one for a duplicate.
//   - error: domain.ErrNotFound if the event or user does not exist.
//   - error: domain.ErrAgeIneligible if the user falls outside the age band.
//   - error: domain.ErrCapacityUnavailable if the gate refuses the seat.
//   - error: domain.ErrTransactionConflict if the store kept aborting.
func (s *Service) Register(ctx context.Context, in RegisterInput) (*Result, error) {
	const op = "service.registration.Register"

	if err := ratelimit.Check(ctx, s.limiter, in.RateKey, s.logger); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	now := s.clock.Now()

	var res Result
	err := s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		res = Result{}

		ev, err := tx.Events().GetForUpdate(ctx, in.EventID)
		if err != nil {
			return notFound("event", in.EventID, err)
		}

		age, err := s.ageOf(ctx, tx, in, now)
		if err != nil {
			return err
		}

		if err := domain.CheckAge(ev, age); err != nil {
			return err
		}

		gateErr := domain.CheckCapacity(ev, now)

		existing, err := tx.Registrations().FindActive(ctx, in.UserID, ev.ID)
		switch {
		case err == nil:
			res = Result{Registration: existing, Event: ev}
			return nil
		case !errors.Is(err, repository.ErrNotFound):
			return err
		}

		if gateErr != nil {
			return gateErr
		}

		code, err := s.codes.NewCode()
		if err != nil {
			return fmt.Errorf("ticket code: %w", err)
		}

		reg := &domain.Registration{
			ID:         uuid.NewString(),
			UserID:     in.UserID,
			EventID:    ev.ID,
			Status:     domain.InitialStatus(ev.RequiresApproval),
			TicketCode: code,
			PriceCents: domain.ResolvePrice(ev.Prices, age),
			CreatedAt:  now,
			UpdatedAt:  now,
		}

		if err := tx.Registrations().Create(ctx, reg); err != nil {
			return err
		}

		ev.RegisteredCount++
		if err := tx.Events().SetRegisteredCount(ctx, ev.ID, ev.RegisteredCount); err != nil {
			return err
		}

		res = Result{Registration: reg, Event: ev, Created: true}

		after(func(ctx context.Context) {
			s.changes.EventChanged(ctx, ev.ID)
			s.notifier.Dispatch(ctx, notify.NewMessage(notify.KindRegistered, reg, ev, now))
		})

		return nil
	})

	switch {
	case err != nil:
		metrics.Registration(metrics.Outcome(err))
		return nil, fmt.Errorf("%s:%w", op, err)
	case !res.Created:
		metrics.Registration("duplicate")
	default:
		metrics.Registration(metrics.Outcome(nil))
	}

	return &res, nil
}

func (s *Service) ageOf(ctx context.Context, tx repository.Repos, in RegisterInput, now time.Time) (int, error) {
	if in.Age != nil {
		return *in.Age, nil
	}

	u, err := tx.Users().Get(ctx, in.UserID)
	if err != nil {
		return 0, notFound("user", in.UserID, err)
	}

	return domain.AgeAt(u.BirthDate, now), nil
}

// Cancel releases the caller's own registration. A registration owned by
// someone else is reported as not found.
func (s *Service) Cancel(ctx context.Context, registrationID, userID string) (*domain.Registration, error) {
	return s.cancel(ctx, "service.registration.Cancel", registrationID, userID, false)
}

// CancelAsAdmin releases any registration.
func (s *Service) CancelAsAdmin(ctx context.Context, registrationID string) (*domain.Registration, error) {
	return s.cancel(ctx, "service.registration.CancelAsAdmin", registrationID, "", true)
}

func (s *Service) cancel(
	ctx context.Context,
	op, registrationID, userID string,
	admin bool,
) (*domain.Registration, error) {
	now := s.clock.Now()

	out, err := s.doCancel(ctx, registrationID, userID, admin, now)
	metrics.Cancellation(metrics.Outcome(err))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

func (s *Service) doCancel(
	ctx context.Context,
	registrationID, userID string,
	admin bool,
	now time.Time,
) (*domain.Registration, error) {
	// Cheap rejection before any lock is taken.
	reg, err := s.repos.Registrations().Get(ctx, registrationID)
	if err != nil {
		return nil, notFound("registration", registrationID, err)
	}
	if !admin && reg.UserID != userID {
		return nil, fmt.Errorf("registration %s: %w", registrationID, domain.ErrNotFound)
	}

	ev, err := s.repos.Events().Get(ctx, reg.EventID)
	if err != nil {
		return nil, notFound("event", reg.EventID, err)
	}
	if err := checkCancelable(reg, ev, now); err != nil {
		return nil, err
	}

	var out *domain.Registration
	err = s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		ev, err := tx.Events().GetForUpdate(ctx, reg.EventID)
		if err != nil {
			return notFound("event", reg.EventID, err)
		}

		locked, err := tx.Registrations().GetForUpdate(ctx, registrationID)
		if err != nil {
			return notFound("registration", registrationID, err)
		}

		if err := checkCancelable(locked, ev, now); err != nil {
			return err
		}
		if err := locked.Cancel(now); err != nil {
			return err
		}
		if err := tx.Registrations().Update(ctx, locked); err != nil {
			return err
		}

		n := ev.RegisteredCount - 1
		if n < 0 {
			metrics.SeatCounterClamped()
			s.logger.WarnContext(ctx, "seat counter already at zero on cancel",
				slog.String("event_id", ev.ID),
				slog.String("registration_id", locked.ID),
			)
			n = 0
		}
		if err := tx.Events().SetRegisteredCount(ctx, ev.ID, n); err != nil {
			return err
		}
		ev.RegisteredCount = n

		out = locked

		after(func(ctx context.Context) {
			s.changes.EventChanged(ctx, ev.ID)
			s.notifier.Dispatch(ctx, notify.NewMessage(notify.KindCanceled, locked, ev, now))
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

func checkCancelable(reg *domain.Registration, ev *domain.Event, now time.Time) error {
	switch reg.Status {
	case domain.RegistrationCanceled:
		return domain.ErrAlreadyCanceled
	case domain.RegistrationAttended:
		return domain.ErrAlreadyAttended
	}
	if ev.HasStarted(now) {
		return domain.ErrEventStarted
	}
	return nil
}

// Approve confirms a pending registration on an event that requires
// approval. The seat was already counted when the registration was made.
func (s *Service) Approve(ctx context.Context, registrationID string) (*domain.Registration, error) {
	const op = "service.registration.Approve"

	now := s.clock.Now()

	var out *domain.Registration
	err := s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		reg, err := tx.Registrations().GetForUpdate(ctx, registrationID)
		if err != nil {
			return notFound("registration", registrationID, err)
		}

		if err := reg.Approve(now); err != nil {
			return err
		}
		if err := tx.Registrations().Update(ctx, reg); err != nil {
			return err
		}

		out = reg

		after(func(ctx context.Context) {
			s.notifier.Dispatch(ctx, notify.NewMessage(notify.KindApproved, reg, nil, now))
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return out, nil
}

// Get returns a registration owned by userID.
func (s *Service) Get(ctx context.Context, registrationID, userID string) (*domain.Registration, error) {
	const op = "service.registration.Get"

	reg, err := s.repos.Registrations().Get(ctx, registrationID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound("registration", registrationID, err))
	}
	if reg.UserID != userID {
		return nil, fmt.Errorf("%s:registration %s: %w", op, registrationID, domain.ErrNotFound)
	}

	return reg, nil
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]domain.Registration, error) {
	const op = "service.registration.ListByUser"

	regs, err := s.repos.Registrations().ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return regs, nil
}

func (s *Service) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	const op = "service.registration.ListByEvent"

	if _, err := s.repos.Events().Get(ctx, eventID); err != nil {
		return nil, fmt.Errorf("%s:%w", op, notFound("event", eventID, err))
	}

	regs, err := s.repos.Registrations().ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return regs, nil
}

// Wait blocks until background notifications have been sent.
func (s *Service) Wait() {
	s.notifier.Wait()
}

func notFound(what, id string, err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
	}
	return err
}
