package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/kirinyoku/evreg/internal/config"
	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/notify"
	"github.com/kirinyoku/evreg/internal/postgres"
	"github.com/kirinyoku/evreg/internal/redis"
	postgresrepo "github.com/kirinyoku/evreg/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/evreg/internal/repository/redis"
	"github.com/kirinyoku/evreg/internal/scheduler"
	"github.com/kirinyoku/evreg/internal/service"
	"github.com/kirinyoku/evreg/internal/service/checkin"
	"github.com/kirinyoku/evreg/internal/service/query"
	"github.com/kirinyoku/evreg/internal/ticket"
	httpgin "github.com/kirinyoku/evreg/internal/transport/http/gin"
	"github.com/kirinyoku/evreg/internal/uow"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server

	pool       *pgxpool.Pool
	rdb        *goredis.Client
	services   *service.Services
	pubsub     *redisrepo.EventsPubSub
	hub        *httpgin.Hub
	scheduler  *scheduler.Scheduler
	dispatcher *notify.Dispatcher
	closers    []io.Closer
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "app.New"

	pool, err := postgres.New(ctx, postgres.Config{
		DSN:         cfg.Postgres.DSN(),
		MaxConns:    cfg.Postgres.MaxConns,
		LockTimeout: cfg.Postgres.LockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: postgres: %w", op, err)
	}

	if cfg.Postgres.MigrateOnStart {
		if err := postgres.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		logger.Info("migrations applied")
	}

	rdb, err := redis.New(ctx, redis.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s: redis: %w", op, err)
	}

	a := &App{cfg: cfg, logger: logger, pool: pool, rdb: rdb}

	notifier, err := a.newNotifier()
	if err != nil {
		a.close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	a.dispatcher = notify.NewDispatcher(notifier, logger.With(slog.String("component", "notify")), cfg.Notify.Timeout)

	// Repositories
	store := postgresrepo.NewStore(pool)
	cache := redisrepo.New(rdb)
	a.pubsub = redisrepo.NewEventsPubSub(rdb)
	idempotency := redisrepo.NewIdempotencyStore(rdb, cfg.Cache.IdempotencyTTL)

	var signer *ticket.Signer
	if cfg.Tickets.SigningSecret != "" {
		signer = ticket.NewSigner(cfg.Tickets.SigningSecret, cfg.Tickets.QRTTL)
	}

	// Services
	a.services = service.NewServices(service.Deps{
		Repos:           store.Repos(),
		Tx:              uow.NewUoW(store, cfg.Tx.RetryAttempts),
		Cache:           cache,
		PubSub:          a.pubsub,
		Notifier:        a.dispatcher,
		Signer:          signer,
		Clock:           domain.SystemClock,
		Logger:          logger,
		RegisterLimiter: redisrepo.NewSlidingWindowLimiter(rdb, "register", cfg.RateLimit.Limit, cfg.RateLimit.Window),
		CheckInLimiter:  redisrepo.NewSlidingWindowLimiter(rdb, "checkin", cfg.RateLimit.Limit, cfg.RateLimit.Window),
	}, service.Config{
		Query: query.Config{
			EventSummaryTTL: cfg.Cache.EventSummaryTTL,
			AvailabilityTTL: cfg.Cache.AvailabilityTTL,
		},
		CheckIn: checkin.Config{
			Window: domain.CheckInWindow{
				Enforced:    cfg.CheckIn.EnforceWindow,
				OpensBefore: cfg.CheckIn.OpensBefore,
				ClosesAfter: cfg.CheckIn.ClosesAfter,
			},
			RequireSigned: cfg.Tickets.RequireSigned,
		},
		SweepBatch: cfg.Sweep.Batch,
	})

	a.scheduler = scheduler.New(a.services.Lifecycle, cfg.Sweep.Interval, logger.With(slog.String("component", "scheduler")))
	a.hub = httpgin.NewHub()

	// Gin router
	router := httpgin.NewRouter(a.services, httpgin.Options{
		Auth:        httpgin.NewAuthenticator(cfg.Auth.JWTSecret),
		Idempotency: idempotency,
		Hub:         a.hub,
		Logger:      logger,

		TrustedProxies: cfg.Server.TrustedProxies,
	})

	a.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	return a, nil
}

func (a *App) newNotifier() (notify.Notifier, error) {
	switch a.cfg.Notify.Driver {
	case config.NotifyAMQP:
		n, err := notify.NewAMQPNotifier(a.cfg.Notify.AMQPURL, a.cfg.Notify.Queue)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, n)
		a.logger.Info("notifications via amqp", slog.String("queue", a.cfg.Notify.Queue))
		return n, nil
	case config.NotifyRedisStream:
		publisher, err := notify.NewRedisStreamPublisher(a.rdb, watermill.NewStdLogger(false, false))
		if err != nil {
			return nil, err
		}
		n := notify.NewStreamNotifier(publisher, a.cfg.Notify.Queue)
		a.closers = append(a.closers, n)
		a.logger.Info("notifications via redis stream", slog.String("topic", a.cfg.Notify.Queue))
		return n, nil
	default:
		return notify.NewLogNotifier(a.logger), nil
	}
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.scheduler.Start(gCtx)
		return nil
	})

	// Availability changes from every instance fan out to local SSE clients.
	g.Go(func() error {
		if err := a.pubsub.Subscribe(gCtx, a.hub.Notify); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Warn("event change subscription ended", slog.String("error", err.Error()))
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		a.hub.Close()
		ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	err := g.Wait()

	a.logger.Info("waiting for pending notifications")
	a.waitNotifications(10 * time.Second)

	return err
}

func (a *App) waitNotifications(limit time.Duration) {
	done := make(chan struct{})
	go func() {
		a.dispatcher.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(limit):
		a.logger.Warn("pending notifications abandoned", slog.Duration("after", limit))
	}
}

func (a *App) close() {
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
	a.closers = nil

	if a.rdb != nil {
		_ = a.rdb.Close()
	}
	if a.pool != nil {
		a.pool.Close()
	}
}
