package checkin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/metrics"
	"github.com/kirinyoku/evreg/internal/notify"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/repository"
	"github.com/kirinyoku/evreg/internal/ticket"
	"github.com/kirinyoku/evreg/internal/uow"
)

type Config struct {
	Window domain.CheckInWindow
	// RequireSigned rejects bare ticket codes; only signed QR payloads
	// are accepted.
	RequireSigned bool
}

type Deps struct {
	Tx       uow.Runner
	Signer   *ticket.Signer
	Clock    domain.Clock
	Notifier *notify.Dispatcher
	Limiter  ratelimit.Limiter
	Logger   *slog.Logger
	Config   Config
}

type Service struct {
	tx       uow.Runner
	signer   *ticket.Signer
	clock    domain.Clock
	notifier *notify.Dispatcher
	limiter  ratelimit.Limiter
	logger   *slog.Logger
	cfg      Config
}

func New(d Deps) *Service {
	if d.Clock == nil {
		d.Clock = domain.SystemClock
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	return &Service{
		tx:       d.Tx,
		signer:   d.Signer,
		clock:    d.Clock,
		notifier: d.Notifier,
		limiter:  d.Limiter,
		logger:   d.Logger,
		cfg:      d.Config,
	}
}

type Result struct {
	Registration *domain.Registration
	Event        *domain.Event
}

// CheckIn marks the ticket behind input as attended.
//
// input is either the bare ticket code or a signed QR payload carrying it.
// rateKey identifies the scanning device for the rate limiter.
// The registration row is locked, so two scans of the same ticket racing
// each other resolve to one success and one domain.ErrAlreadyAttended.
//
// Returns:
//   - error: domain.ErrInvalidCode if input does not resolve to a ticket.
//   - error: domain.ErrAlreadyCanceled or domain.ErrAlreadyAttended.
//   - error: domain.ErrCheckInNotYetOpen or domain.ErrEventOver when the
//     window is enforced.
func (s *Service) CheckIn(ctx context.Context, input, rateKey string) (*Result, error) {
	const op = "service.checkin.CheckIn"

	if err := ratelimit.Check(ctx, s.limiter, rateKey, s.logger); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	res, err := s.checkIn(ctx, input)
	metrics.CheckIn(metrics.Outcome(err))
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return res, nil
}

func (s *Service) checkIn(ctx context.Context, input string) (*Result, error) {
	code, eventID, err := s.resolve(input)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()

	var res *Result
	err = s.tx.Do(ctx, func(ctx context.Context, tx repository.Repos, after func(uow.AfterCommit)) error {
		reg, err := tx.Registrations().GetByTicketCodeForUpdate(ctx, code)
		if errors.Is(err, repository.ErrNotFound) {
			return domain.ErrInvalidCode
		}
		if err != nil {
			return err
		}
		if eventID != "" && eventID != reg.EventID {
			return domain.ErrInvalidCode
		}

		ev, err := tx.Events().Get(ctx, reg.EventID)
		if err != nil {
			return err
		}

		if err := reg.Attend(now); err != nil {
			return err
		}
		if err := s.cfg.Window.Check(ev, now); err != nil {
			return err
		}

		if err := tx.Registrations().Update(ctx, reg); err != nil {
			return err
		}

		res = &Result{Registration: reg, Event: ev}

		after(func(ctx context.Context) {
			s.notifier.Dispatch(ctx, notify.NewMessage(notify.KindAttended, reg, ev, now))
		})

		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "ticket checked in",
		slog.String("registration_id", res.Registration.ID),
		slog.String("event_id", res.Event.ID),
	)

	return res, nil
}

// resolve extracts the ticket code from input. eventID is only set for
// signed payloads.
func (s *Service) resolve(input string) (code, eventID string, err error) {
	input = strings.TrimSpace(input)

	if ticket.IsSigned(input) {
		if s.signer == nil {
			return "", "", domain.ErrInvalidCode
		}
		claims, err := s.signer.Verify(input)
		if err != nil {
			return "", "", fmt.Errorf("%w: %w", domain.ErrInvalidCode, err)
		}
		return claims.Code, claims.EventID, nil
	}

	if s.cfg.RequireSigned || !ticket.LooksLikeCode(input) {
		return "", "", domain.ErrInvalidCode
	}

	return input, "", nil
}

// Wait blocks until background notifications have been sent.
func (s *Service) Wait() {
	s.notifier.Wait()
}
