package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/evreg/internal/domain"
	"github.com/kirinyoku/evreg/internal/repository"
)

const registrationColumns = `id, user_id, event_id, status, ticket_code, price_cents,
	attended_at, canceled_at, created_at, updated_at`

type RegistrationRepo struct {
	pool *pgxpool.Pool
	db   DB
}

func (r *RegistrationRepo) With(db DB) *RegistrationRepo {
	cp := *r
	cp.db = db
	return &cp
}

func (r *RegistrationRepo) handle() DB {
	if r.db != nil {
		return r.db
	}
	return r.pool
}

func scanRegistration(row pgx.Row) (*domain.Registration, error) {
	var reg domain.Registration
	err := row.Scan(
		&reg.ID, &reg.UserID, &reg.EventID, &reg.Status, &reg.TicketCode, &reg.PriceCents,
		&reg.AttendedAt, &reg.CanceledAt, &reg.CreatedAt, &reg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &reg, nil
}

func collectRegistrations(rows pgx.Rows) ([]domain.Registration, error) {
	defer rows.Close()

	var out []domain.Registration
	for rows.Next() {
		reg, err := scanRegistration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *reg)
	}

	return out, rows.Err()
}

// Create inserts a registration.
//
// Returns:
//   - error: repository.ErrConflict if the ticket code is taken or the user
//     already holds a seat on the event.
func (r *RegistrationRepo) Create(ctx context.Context, reg *domain.Registration) error {
	const op = "postgres.RegistrationRepo.Create"

	_, err := r.handle().Exec(ctx,
		`INSERT INTO registrations(`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		reg.ID, reg.UserID, reg.EventID, reg.Status, reg.TicketCode, reg.PriceCents,
		reg.AttendedAt, reg.CanceledAt, reg.CreatedAt, reg.UpdatedAt,
	)

	return wrapDBErr(op, err)
}

func (r *RegistrationRepo) Get(ctx context.Context, id string) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.Get"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return reg, nil
}

func (r *RegistrationRepo) GetForUpdate(ctx context.Context, id string) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.GetForUpdate"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE id = $1 FOR UPDATE`, id,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return reg, nil
}

// GetByTicketCodeForUpdate locks the registration row behind a ticket code.
//
// Returns:
//   - error: repository.ErrNotFound if no registration carries the code.
func (r *RegistrationRepo) GetByTicketCodeForUpdate(ctx context.Context, code string) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.GetByTicketCodeForUpdate"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE ticket_code = $1 FOR UPDATE`, code,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return reg, nil
}

func (r *RegistrationRepo) FindActive(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	const op = "postgres.RegistrationRepo.FindActive"

	reg, err := scanRegistration(r.handle().QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = $1 AND event_id = $2
		   AND status IN ('pending', 'confirmed', 'attended')`,
		userID, eventID,
	))
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return reg, nil
}

// Update persists the mutable lifecycle columns. Ticket code, price and
// ownership are immutable.
func (r *RegistrationRepo) Update(ctx context.Context, reg *domain.Registration) error {
	const op = "postgres.RegistrationRepo.Update"

	tag, err := r.handle().Exec(ctx,
		`UPDATE registrations
		 SET status = $2, attended_at = $3, canceled_at = $4, updated_at = $5
		 WHERE id = $1`,
		reg.ID, reg.Status, reg.AttendedAt, reg.CanceledAt, reg.UpdatedAt,
	)
	if err != nil {
		return wrapDBErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapDBErr(op, repository.ErrNotFound)
	}

	return nil
}

func (r *RegistrationRepo) ListByUser(ctx context.Context, userID string) ([]domain.Registration, error) {
	const op = "postgres.RegistrationRepo.ListByUser"

	rows, err := r.handle().Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE user_id = $1 ORDER BY created_at DESC, id`,
		userID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	regs, err := collectRegistrations(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return regs, nil
}

func (r *RegistrationRepo) ListByEvent(ctx context.Context, eventID string) ([]domain.Registration, error) {
	const op = "postgres.RegistrationRepo.ListByEvent"

	rows, err := r.handle().Query(ctx,
		`SELECT `+registrationColumns+` FROM registrations
		 WHERE event_id = $1 ORDER BY created_at, id`,
		eventID,
	)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	regs, err := collectRegistrations(rows)
	if err != nil {
		return nil, wrapDBErr(op, err)
	}

	return regs, nil
}

func (r *RegistrationRepo) CountActive(ctx context.Context, eventID string) (int, error) {
	const op = "postgres.RegistrationRepo.CountActive"

	var n int
	if err := r.handle().QueryRow(ctx,
		`SELECT count(*) FROM registrations
		 WHERE event_id = $1 AND status IN ('pending', 'confirmed', 'attended')`,
		eventID,
	).Scan(&n); err != nil {
		return 0, wrapDBErr(op, err)
	}

	return n, nil
}
