package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/evreg/internal/repository"
)

type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
	}
}

// RunTx runs fn inside a transaction. The default isolation level is
// read committed: every decision that needs stable data takes a row lock.
func (s *Store) RunTx(
	ctx context.Context,
	opts *pgx.TxOptions,
	fn func(ctx context.Context, tx DB) error,
) error {
	txOpts := pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	}

	if opts != nil {
		txOpts.IsoLevel = opts.IsoLevel
		txOpts.AccessMode = opts.AccessMode
		txOpts.DeferrableMode = opts.DeferrableMode
	}

	tx, err := s.pool.BeginTx(ctx, txOpts)
	if err != nil {
		return translateDBErr(err)
	}

	defer tx.Rollback(ctx)

	if err := fn(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", translateDBErr(err))
	}

	return nil
}

func (s *Store) Events() *EventRepo               { return &EventRepo{pool: s.pool} }
func (s *Store) Registrations() *RegistrationRepo { return &RegistrationRepo{pool: s.pool} }
func (s *Store) Users() *UserRepo                 { return &UserRepo{pool: s.pool} }

// Repos returns repositories bound to the pool.
func (s *Store) Repos() repository.Repos { return repos{s: s} }

// ReposWith returns repositories bound to db, usually an open transaction.
func (s *Store) ReposWith(db DB) repository.Repos { return repos{s: s, db: db} }

type repos struct {
	s  *Store
	db DB
}

func (r repos) Events() repository.EventRepository {
	return r.s.Events().With(r.db)
}

func (r repos) Registrations() repository.RegistrationRepository {
	return r.s.Registrations().With(r.db)
}

func (r repos) Users() repository.UserRepository {
	return r.s.Users().With(r.db)
}
