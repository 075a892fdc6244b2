package service

import (
	"log/slog"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/notify"
	"github.com/kirinyoku/evreg/internal/ratelimit"
	"github.com/kirinyoku/evreg/internal/repository"
	redis "github.com/kirinyoku/evreg/internal/repository/redis"
	"github.com/kirinyoku/evreg/internal/service/admin"
	"github.com/kirinyoku/evreg/internal/service/changes"
	"github.com/kirinyoku/evreg/internal/service/checkin"
	"github.com/kirinyoku/evreg/internal/service/lifecycle"
	"github.com/kirinyoku/evreg/internal/service/query"
	"github.com/kirinyoku/evreg/internal/service/registration"
	"github.com/kirinyoku/evreg/internal/ticket"
	"github.com/kirinyoku/evreg/internal/uow"
)

type Services struct {
	Registration *registration.Service
	CheckIn      *checkin.Service
	Query        *query.Service
	Admin        *admin.Service
	Lifecycle    *lifecycle.Service
	// Signer renders QR payloads for issued tickets. Nil when signing is off.
	Signer *ticket.Signer
}

type Config struct {
	Query      query.Config
	CheckIn    checkin.Config
	SweepBatch int
}

// Deps are the shared collaborators. Cache, PubSub and the limiters may be nil.
type Deps struct {
	Repos    repository.Repos
	Tx       uow.Runner
	Cache    *redis.Cache
	PubSub   *redis.EventsPubSub
	Notifier *notify.Dispatcher
	Signer   *ticket.Signer
	Clock    domain.Clock
	Logger   *slog.Logger

	RegisterLimiter ratelimit.Limiter
	CheckInLimiter  ratelimit.Limiter
}

func NewServices(d Deps, cfg Config) *Services {
	if d.Clock == nil {
		d.Clock = domain.SystemClock
	}
	if d.Logger == nil {
		d.Logger = slog.New(slog.DiscardHandler)
	}

	var (
		cache changes.Cache
		pub   changes.Publisher
	)
	if d.Cache != nil {
		cache = d.Cache
	}
	if d.PubSub != nil {
		pub = d.PubSub
	}
	broadcaster := changes.NewBroadcaster(cache, pub, d.Logger)

	return &Services{
		Registration: registration.New(registration.Deps{
			Repos:    d.Repos,
			Tx:       d.Tx,
			Clock:    d.Clock,
			Notifier: d.Notifier,
			Changes:  broadcaster,
			Limiter:  d.RegisterLimiter,
			Logger:   d.Logger.With(slog.String("service", "registration")),
		}),
		CheckIn: checkin.New(checkin.Deps{
			Tx:       d.Tx,
			Signer:   d.Signer,
			Clock:    d.Clock,
			Notifier: d.Notifier,
			Limiter:  d.CheckInLimiter,
			Logger:   d.Logger.With(slog.String("service", "checkin")),
			Config:   cfg.CheckIn,
		}),
		Query:     query.New(d.Repos, d.Cache, d.Clock, cfg.Query),
		Admin:     admin.New(d.Repos, d.Tx, d.Clock, broadcaster, d.Logger.With(slog.String("service", "admin"))),
		Lifecycle: lifecycle.New(d.Repos, d.Clock, broadcaster, d.Logger.With(slog.String("service", "lifecycle")), cfg.SweepBatch),
		Signer:    d.Signer,
	}
}
