package postgres

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/evreg/internal/domain"
)

type UserRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *UserRepo) With(db DB) *UserRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *UserRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	const op = "postgres.UserRepo.Create"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO users(id, email, full_name, birth_date, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		u.ID, u.Email, u.FullName, u.BirthDate, u.CreatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *UserRepo) Get(ctx context.Context, id string) (*domain.User, error) {
	const op = "postgres.UserRepo.Get"

	var u domain.User
	err := r.handle().QueryRow(ctx,
		`SELECT id, email, full_name, birth_date, created_at
		 FROM users WHERE id = $1`,
		id,
	).Scan(&u.ID, &u.Email, &u.FullName, &u.BirthDate, &u.CreatedAt)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return &u, nil
}
