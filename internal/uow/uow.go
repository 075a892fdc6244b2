package uow

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
	postgres "github.com/kirinyoku/evreg/internal/repository/postgres"
)

// AfterCommit is a function that runs after a successful transaction commit.
type AfterCommit func(ctx context.Context)

// Func is the body of a unit of work. Repositories in tx are bound to the
// open transaction; hooks registered through after run only on commit.
type Func func(ctx context.Context, tx repository.Repos, after func(AfterCommit)) error

// Runner executes a unit of work atomically.
type Runner interface {
	Do(ctx context.Context, fn Func) error
}

const DefaultAttempts = 3

// UoW represents a unit of work backed by Postgres.
type UoW struct {
	store    *postgres.Store
	attempts int
	backoff  time.Duration
}

func NewUoW(store *postgres.Store, attempts int) *UoW {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}

	return &UoW{store: store, attempts: attempts, backoff: 10 * time.Millisecond}
}

// Do runs fn inside the transaction. After a successful commit,
// it executes all after-commit hooks.
func (u *UoW) Do(ctx context.Context, fn Func) error {
	return u.DoWithOpts(ctx, nil, fn)
}

// DoWithOpts runs fn inside the transaction with the given options. A
// serialization failure or deadlock restarts fn from scratch; once the
// attempts are spent the caller gets domain.ErrTransactionConflict.
func (u *UoW) DoWithOpts(ctx context.Context, opts *pgx.TxOptions, fn Func) error {
	return Retry(ctx, u.attempts, u.backoff, postgres.IsRetryable, func(ctx context.Context) error {
		var hooks []AfterCommit

		err := u.store.RunTx(ctx, opts, func(ctx context.Context, tx postgres.DB) error {
			return fn(ctx, u.store.ReposWith(tx), func(h AfterCommit) {
				hooks = append(hooks, h)
			})
		})
		if err != nil {
			return err
		}

		for _, h := range hooks {
			h(ctx)
		}

		return nil
	})
}

// Retry calls fn until it succeeds, fails with a non-retryable error or
// runs out of attempts.
func Retry(
	ctx context.Context,
	attempts int,
	backoff time.Duration,
	retryable func(error) bool,
	fn func(ctx context.Context) error,
) error {
	var err error

	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff * time.Duration(i)):
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("%w: %w", domain.ErrTransactionConflict, err)
}
